package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}

	plaintext := "ya29.a0AfH6SMBx-access-token-value"
	ct, err := cipher.EncryptString(plaintext)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if bytes.Contains(ct, []byte(plaintext)) {
		t.Fatal("ciphertext contains plaintext")
	}

	got, err := cipher.DecryptString(ct)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if got != plaintext {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	cipher, _ := NewTokenCipher(testKey(t))
	a, err := cipher.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := cipher.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same input produced identical ciphertext")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	c1, _ := NewTokenCipher(testKey(t))
	c2, _ := NewTokenCipher(testKey(t))

	ct, err := c1.EncryptString("refresh-token")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c2.DecryptString(ct); err == nil {
		t.Error("decrypt with wrong key should fail")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	cipher, _ := NewTokenCipher(testKey(t))
	ct, err := cipher.EncryptString("token")
	if err != nil {
		t.Fatal(err)
	}
	ct[len(ct)-1] ^= 0xFF
	if _, err := cipher.DecryptString(ct); err == nil {
		t.Error("tampered ciphertext should fail authentication")
	}

	if _, err := cipher.Decrypt([]byte("short")); err == nil {
		t.Error("truncated ciphertext should fail")
	}
}

func TestNewTokenCipherKeyLength(t *testing.T) {
	if _, err := NewTokenCipher(make([]byte, 16)); err == nil {
		t.Error("16-byte key should be rejected")
	}
	if _, err := NewTokenCipher(nil); err == nil {
		t.Error("nil key should be rejected")
	}
}

func TestParseKeyFormats(t *testing.T) {
	raw := testKey(t)

	tests := []struct {
		name  string
		value string
	}{
		{"raw", string(raw)},
		{"base64", base64.StdEncoding.EncodeToString(raw)},
		{"base64url", base64.URLEncoding.EncodeToString(raw)},
		{"hex", hex.EncodeToString(raw)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.value)
			if err != nil {
				t.Fatalf("ParseKey: %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Error("decoded key differs from original")
			}
		})
	}

	if _, err := ParseKey("too short"); err == nil {
		t.Error("short key should be rejected")
	}
}

func TestStateSignRoundTrip(t *testing.T) {
	signer, err := NewStateSigner([]byte("process-secret"))
	if err != nil {
		t.Fatalf("NewStateSigner: %v", err)
	}

	payload := signer.NewState(3, 7, "YOUTUBE")
	if payload.Nonce == "" {
		t.Fatal("NewState produced empty nonce")
	}

	token, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != payload {
		t.Errorf("Verify = %+v, want %+v", got, payload)
	}
}

func TestStateVerifyRejectsTampering(t *testing.T) {
	signer, _ := NewStateSigner([]byte("process-secret"))
	token, err := signer.Sign(signer.NewState(3, 7, "YOUTUBE"))
	if err != nil {
		t.Fatal(err)
	}

	// Swap the payload for one claiming a different child.
	other, _ := NewStateSigner([]byte("attacker-secret"))
	forged, err := other.Sign(other.NewState(3, 99, "YOUTUBE"))
	if err != nil {
		t.Fatal(err)
	}
	mixed := strings.Split(forged, ".")[0] + "." + strings.Split(token, ".")[1]

	if _, err := signer.Verify(mixed); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("forged payload error = %v, want ErrStateInvalid", err)
	}
	if _, err := signer.Verify("not-a-token"); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("malformed token error = %v, want ErrStateInvalid", err)
	}
	if _, err := signer.Verify(forged); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("wrong-key token error = %v, want ErrStateInvalid", err)
	}
}

func TestStateVerifyExpiry(t *testing.T) {
	signer, _ := NewStateSigner([]byte("process-secret"))

	payload := signer.NewState(3, 7, "YOUTUBE")
	payload.Timestamp = time.Now().Add(-2 * time.Hour).Unix()
	token, err := signer.Sign(payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.Verify(token); !errors.Is(err, ErrStateExpired) {
		t.Errorf("expired token error = %v, want ErrStateExpired", err)
	}

	payload.Timestamp = time.Now().Add(30 * time.Minute).Unix()
	token, err = signer.Sign(payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.Verify(token); !errors.Is(err, ErrStateInvalid) {
		t.Errorf("future-dated token error = %v, want ErrStateInvalid", err)
	}
}

func TestStateSignerRequiresSecret(t *testing.T) {
	if _, err := NewStateSigner(nil); err == nil {
		t.Error("empty secret should be rejected")
	}
}
