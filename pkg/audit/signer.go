package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

const signerInfoLabel = "nestwatch-audit-signing/v1"

// Signer computes and verifies HMAC-SHA256 signatures over an entry's
// canonical form. The 32-byte signing key is derived from the service
// secret, so every process sharing the secret verifies the same entries.
type Signer struct {
	key []byte
}

// NewSigner derives the signing key from the service secret. An empty
// secret disables signing; Sign then returns empty signatures.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return &Signer{key: nil}, nil
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(signerInfoLabel))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive audit signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// SigningEnabled reports whether a key is present.
func (s *Signer) SigningEnabled() bool {
	return s.key != nil
}

// Sign computes the hex HMAC-SHA256 over the entry's canonical form.
// Returns "" when signing is disabled.
func (s *Signer) Sign(e Entry) string {
	if s.key == nil {
		return ""
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonicalForm(e)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the entry's stored signature matches its content.
func (s *Signer) Verify(e Entry) bool {
	if s.key == nil || e.Signature == "" {
		return false
	}
	expected := s.Sign(e)
	return hmac.Equal([]byte(expected), []byte(e.Signature))
}

// canonicalForm builds the deterministic representation that gets signed:
// id|created_at(unix)|action|parent_id|resource_type|resource_id|details_sha
func canonicalForm(e Entry) string {
	return e.ID + "|" +
		strconv.FormatInt(e.CreatedAt.Unix(), 10) + "|" +
		e.Action + "|" +
		strconv.FormatInt(e.ParentID, 10) + "|" +
		e.ResourceType + "|" +
		e.ResourceID + "|" +
		detailsDigest(e.Details)
}

// detailsDigest hashes the details map. encoding/json writes map keys in
// sorted order, which keeps the digest stable across processes.
func detailsDigest(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "unencodable"
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
