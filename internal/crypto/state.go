package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// StateTTL is how long an OAuth state token stays valid after issuance.
const StateTTL = time.Hour

var (
	// ErrStateInvalid means the token is malformed or its signature does not verify.
	ErrStateInvalid = errors.New("state token invalid")
	// ErrStateExpired means the token verified but its timestamp is too old.
	ErrStateExpired = errors.New("state token expired")
)

// StatePayload is the signed envelope carried through the OAuth redirect.
type StatePayload struct {
	ChildProfileID int64  `json:"child_profile_id"`
	Platform       string `json:"platform"`
	ParentID       int64  `json:"parent_id"`
	Timestamp      int64  `json:"timestamp"`
	Nonce          string `json:"nonce"`
}

// StateSigner signs and verifies OAuth state envelopes with a key derived
// from the process secret.
type StateSigner struct {
	key []byte
	now func() time.Time
}

// NewStateSigner derives the signing key from the configured secret via
// HKDF-SHA256 and returns a signer.
func NewStateSigner(secret []byte) (*StateSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("state signer requires a non-empty secret")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte("oauth-state-token/v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive state signing key: %w", err)
	}
	return &StateSigner{key: key, now: time.Now}, nil
}

// NewState builds a fresh payload for the given link attempt.
func (s *StateSigner) NewState(parentID, childProfileID int64, platform string) StatePayload {
	return StatePayload{
		ChildProfileID: childProfileID,
		Platform:       platform,
		ParentID:       parentID,
		Timestamp:      s.now().Unix(),
		Nonce:          uuid.NewString(),
	}
}

// Sign encodes the payload as base64url(JSON) + "." + base64url(HMAC-SHA256).
func (s *StateSigner) Sign(payload StatePayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode state payload: %w", err)
	}
	mac := s.mac(body)
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify checks the signature and the one-hour expiry, returning the payload.
func (s *StateSigner) Verify(token string) (StatePayload, error) {
	var payload StatePayload

	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return payload, ErrStateInvalid
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return payload, ErrStateInvalid
	}
	gotMAC, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return payload, ErrStateInvalid
	}
	if !hmac.Equal(gotMAC, s.mac(body)) {
		return payload, ErrStateInvalid
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, ErrStateInvalid
	}

	issued := time.Unix(payload.Timestamp, 0)
	now := s.now()
	if issued.After(now.Add(time.Minute)) {
		// Future timestamps are forged, not merely skewed.
		return payload, ErrStateInvalid
	}
	if now.Sub(issued) > StateTTL {
		return payload, ErrStateExpired
	}
	return payload, nil
}

func (s *StateSigner) mac(body []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(body)
	return h.Sum(nil)
}
