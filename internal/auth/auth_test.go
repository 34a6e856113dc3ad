package auth

import (
	"context"
	"strings"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery" {
		t.Fatal("hash equals plaintext")
	}
	if !CheckPasswordHash("correct horse battery", hash) {
		t.Error("CheckPasswordHash rejected the right password")
	}
	if CheckPasswordHash("wrong password here", hash) {
		t.Error("CheckPasswordHash accepted the wrong password")
	}
}

func TestHashPasswordTooLong(t *testing.T) {
	// bcrypt rejects inputs over 72 bytes.
	if _, err := HashPassword(strings.Repeat("A", 80)); err == nil {
		t.Error("expected error for over-length password")
	}
}

func TestValidatePasswordComplexity(t *testing.T) {
	if err := ValidatePasswordComplexity("short"); err == nil {
		t.Error("expected error for short password")
	}
	if err := ValidatePasswordComplexity("long enough password"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestActorContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := ActorFromContext(ctx); !got.System() {
		t.Errorf("empty context should yield system actor, got %+v", got)
	}

	actor := Actor{ParentID: 12, IP: "203.0.113.9", UserAgent: "test-agent"}
	ctx = WithActor(ctx, actor)

	got := ActorFromContext(ctx)
	if got != actor {
		t.Errorf("ActorFromContext = %+v, want %+v", got, actor)
	}
	if got.System() {
		t.Error("parent actor should not be system")
	}
}
