package custodian

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/nestwatch/nestwatch/internal/errors"
	"github.com/nestwatch/nestwatch/internal/models"
	"github.com/nestwatch/nestwatch/internal/store"
)

func seedChild(t *testing.T, st *store.Store) *models.ChildProfile {
	t.Helper()
	ctx := context.Background()
	parent, err := st.CreateParent(ctx, "grant-parent@example.com", "hashed")
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := st.CreateChild(ctx, parent.ID, "Robin", intPtr(10))
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return child
}

func TestAuthCodeURLCarriesConsentParameters(t *testing.T) {
	cust, _, _ := newTestCustodian(t)

	raw := cust.AuthCodeURL("signed-state-token", "https://app.example/oauth/callback")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if u.Host != "accounts.google.com" {
		t.Errorf("auth host = %q, want accounts.google.com", u.Host)
	}

	q := u.Query()
	want := map[string]string{
		"client_id":     "client-id",
		"redirect_uri":  "https://app.example/oauth/callback",
		"state":         "signed-state-token",
		"response_type": "code",
		"access_type":   "offline",
		"prompt":        "consent",
		"scope":         ScopeYouTubeReadonly,
	}
	for key, val := range want {
		if got := q.Get(key); got != val {
			t.Errorf("%s = %q, want %q", key, got, val)
		}
	}
}

func TestExchangeCodeSwapsTheCode(t *testing.T) {
	cust, _, _ := newTestCustodian(t)

	var mu sync.Mutex
	form := url.Values{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		form = r.PostForm
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.plain-access","token_type":"Bearer","expires_in":3600,"refresh_token":"1//plain-refresh","scope":"` + ScopeYouTubeReadonly + `"}`))
	}))
	t.Cleanup(srv.Close)
	cust.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}

	tok, err := cust.ExchangeCode(context.Background(), "one-time-code", "https://app.example/oauth/callback")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tok.AccessToken != "ya29.plain-access" || tok.RefreshToken != "1//plain-refresh" {
		t.Error("exchanged token does not carry the issued credential pair")
	}

	mu.Lock()
	defer mu.Unlock()
	if got := form.Get("grant_type"); got != "authorization_code" {
		t.Errorf("grant_type = %q, want authorization_code", got)
	}
	if got := form.Get("code"); got != "one-time-code" {
		t.Errorf("code = %q, want one-time-code", got)
	}
	if got := form.Get("redirect_uri"); got != "https://app.example/oauth/callback" {
		t.Errorf("redirect_uri = %q", got)
	}
}

func TestExchangeCodeRejected(t *testing.T) {
	cust, _, _ := newTestCustodian(t)
	te := newTokenEndpoint(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	te.install(cust)

	_, err := cust.ExchangeCode(context.Background(), "spent-code", "https://app.example/oauth/callback")
	if !errors.IsAuthFailure(err) {
		t.Fatalf("a rejected code should be an auth failure, got %v", err)
	}
	if errors.IsRetryableError(err) {
		t.Error("a rejected code must not be retryable")
	}
}

func TestStoreGrantPersistsCiphertextOnly(t *testing.T) {
	cust, st, cipher := newTestCustodian(t)
	child := seedChild(t, st)

	expiry := time.Now().Add(time.Hour)
	tok := (&oauth2.Token{
		AccessToken:  "ya29.plain-access",
		RefreshToken: "1//plain-refresh",
		Expiry:       expiry,
	}).WithExtra(map[string]any{"scope": ScopeYouTubeReadonly})

	account, err := cust.StoreGrant(context.Background(), child.ID, models.PlatformYouTube, "UCrobin", "Robin Plays", tok)
	if err != nil {
		t.Fatalf("StoreGrant: %v", err)
	}
	if account.ChildProfileID != child.ID || account.PlatformAccountID != "UCrobin" || account.PlatformUsername != "Robin Plays" {
		t.Errorf("unexpected account identity: %+v", account)
	}
	if !account.IsActive {
		t.Error("a freshly stored grant should leave the account active")
	}
	if account.Scopes != ScopeYouTubeReadonly {
		t.Errorf("scopes = %q, want the granted scope", account.Scopes)
	}
	if account.TokenExpiry == nil || account.TokenExpiry.Unix() != expiry.Unix() {
		t.Errorf("stored expiry = %v, want %v", account.TokenExpiry, expiry)
	}

	if strings.Contains(string(account.AccessTokenCiphertext), "plain-access") ||
		strings.Contains(string(account.RefreshTokenCiphertext), "plain-refresh") {
		t.Fatal("token plaintext leaked into the stored row")
	}
	if got, _ := cipher.DecryptString(account.AccessTokenCiphertext); got != "ya29.plain-access" {
		t.Errorf("access ciphertext decrypts to %q", got)
	}
	if got, _ := cipher.DecryptString(account.RefreshTokenCiphertext); got != "1//plain-refresh" {
		t.Errorf("refresh ciphertext decrypts to %q", got)
	}
}

func TestStoreGrantReusesTheRowPerIdentity(t *testing.T) {
	cust, st, cipher := newTestCustodian(t)
	child := seedChild(t, st)
	ctx := context.Background()

	first, err := cust.StoreGrant(ctx, child.ID, models.PlatformYouTube, "UCrobin", "Robin Plays", &oauth2.Token{AccessToken: "first-access"})
	if err != nil {
		t.Fatalf("first StoreGrant: %v", err)
	}
	second, err := cust.StoreGrant(ctx, child.ID, models.PlatformYouTube, "UCrobin", "Robin Plays", &oauth2.Token{AccessToken: "second-access"})
	if err != nil {
		t.Fatalf("second StoreGrant: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("same platform identity produced rows %d and %d", first.ID, second.ID)
	}
	if got, _ := cipher.DecryptString(second.AccessTokenCiphertext); got != "second-access" {
		t.Errorf("stored access token = %q, want the newer grant", got)
	}

	// No scope in the response falls back to the requested set.
	if second.Scopes != ScopeYouTubeReadonly {
		t.Errorf("scopes = %q, want the requested scope", second.Scopes)
	}

	accounts, err := st.ListAccountsByChild(ctx, child.ID)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("child has %d linked accounts, want 1", len(accounts))
	}
}
