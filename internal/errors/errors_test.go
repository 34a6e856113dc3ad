package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestScanErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    *ScanError
		target error
		want   bool
	}{
		{"auth matches ErrAuthFailure", WrapAuthError("custodian.refresh", errors.New("denied")), ErrAuthFailure, true},
		{"auth does not match ErrNotFound", WrapAuthError("custodian.refresh", errors.New("denied")), ErrNotFound, false},
		{"transient matches ErrTransient", WrapTransientError("fetch_recent_videos", errors.New("timeout")), ErrTransient, true},
		{"not found matches ErrNotFound", WrapNotFoundError("fetch_channel_details", errors.New("gone")), ErrNotFound, true},
		{"integrity matches ErrIntegrity", WrapIntegrityError("custodian.decrypt", errors.New("bad ciphertext")), ErrIntegrity, true},
		{"validation matches ErrInvalidInput", WrapValidationError("state.verify", errors.New("expired")), ErrInvalidInput, true},
		{"system matches ErrSystem", WrapSystemError("scan.worker", errors.New("boom")), ErrSystem, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorType
	}{
		{401, ErrorTypeAuth},
		{403, ErrorTypeTransient},
		{404, ErrorTypeNotFound},
		{429, ErrorTypeTransient},
		{500, ErrorTypeTransient},
		{503, ErrorTypeTransient},
		{400, ErrorTypeSystem},
	}

	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestWithStatusCodeRetryable(t *testing.T) {
	e := WrapSystemError("fetch_channel_details", errors.New("upstream")).WithStatusCode(503)
	if !e.Retryable {
		t.Error("5xx should be retryable")
	}

	e = WrapTransientError("fetch_channel_details", errors.New("upstream")).WithStatusCode(400)
	if e.Retryable {
		t.Error("400 should not be retryable")
	}

	if !IsRetryableError(WrapAPIError("fetch", errors.New("quota"), 403)) {
		t.Error("quota 403 should be retryable")
	}
}

func TestIsAuthFailure(t *testing.T) {
	if !IsAuthFailure(WrapAuthError("custodian.refresh", errors.New("invalid_grant"))) {
		t.Error("auth error should be detected")
	}
	if !IsAuthFailure(WrapAPIError("fetch", errors.New("unauthorized"), 401)) {
		t.Error("401 should be detected as auth failure")
	}
	if IsAuthFailure(WrapTransientError("fetch", errors.New("timeout"))) {
		t.Error("transient should not be auth failure")
	}
	if IsAuthFailure(nil) {
		t.Error("nil should not be auth failure")
	}
}

func TestRedactedOmitsCause(t *testing.T) {
	secret := "token=ya29.secret-value"
	e := WrapAuthError("custodian.refresh", errors.New(secret)).WithStatusCode(400)

	red := e.Redacted()
	if red == "" {
		t.Fatal("Redacted() returned empty string")
	}
	for _, frag := range []string{"ya29", "secret-value"} {
		if strings.Contains(red, frag) {
			t.Errorf("Redacted() leaked %q: %s", frag, red)
		}
	}

	// The full Error() keeps the cause for internal logging paths.
	if !strings.Contains(e.Error(), "custodian.refresh") {
		t.Errorf("Error() missing op: %s", e.Error())
	}
}

func TestWrappedCausePreserved(t *testing.T) {
	cause := errors.New("connection reset")
	e := WrapTransientError("fetch_recent_videos", fmt.Errorf("videos.list: %w", cause))
	if !errors.Is(e, cause) {
		t.Error("wrapped cause should survive errors.Is through ScanError")
	}

	var scanErr *ScanError
	if !errors.As(e.WithAccount(42), &scanErr) {
		t.Fatal("errors.As failed")
	}
	if scanErr.Account != 42 {
		t.Errorf("Account = %d, want 42", scanErr.Account)
	}
}
