package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
)

func testRegistry(tokenURL string) *registry.Registry {
	r := registry.New(registry.Credentials{
		GoogleClientID:     "g-id",
		GoogleClientSecret: "g-secret",
		GoogleRedirectURI:  "https://app.example.com/cb/google",
		FacebookAppID:      "fb-id",
		FacebookAppSecret:  "fb-secret",
		FacebookRedirect:   "https://app.example.com/cb/facebook",
	})
	if tokenURL != "" {
		for _, p := range r.Supported() {
			r.OverrideEndpoints(p, "", tokenURL)
		}
	}
	return r
}

func TestExchangeCode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("code"); got != "the-code" {
			t.Errorf("code = %q", got)
		}
		if got := r.PostForm.Get("client_id"); got != "g-id" {
			t.Errorf("client_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"Bearer","scope":"adwords"}`))
	}))
	defer srv.Close()

	e := NewExchanger(testRegistry(srv.URL))
	before := time.Now()
	tok, err := e.ExchangeCode(context.Background(), registry.Google, "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode err: %v", err)
	}
	if tok.AccessToken != "at-1" || tok.RefreshToken != "rt-1" {
		t.Fatalf("token mismatch: %+v", tok)
	}
	if tok.ExpiresAt == nil {
		t.Fatalf("expires_in no convertido a ExpiresAt")
	}
	if d := tok.ExpiresAt.Sub(before); d < 59*time.Minute || d > 61*time.Minute {
		t.Fatalf("ExpiresAt fuera de rango: %v", d)
	}
}

func TestExchangeCode_ErrorIn200(t *testing.T) {
	// Algunos proveedores devuelven el error OAuth con HTTP 200.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Code was already redeemed."}`))
	}))
	defer srv.Close()

	e := NewExchanger(testRegistry(srv.URL))
	_, err := e.ExchangeCode(context.Background(), registry.Google, "stale-code")
	if err == nil {
		t.Fatalf("error en 200 no detectado")
	}
	var exch *ExchangeError
	if !errors.As(err, &exch) {
		t.Fatalf("no es ExchangeError: %v", err)
	}
	if exch.Code != "invalid_grant" {
		t.Fatalf("code = %q", exch.Code)
	}
}

func TestExchangeCode_GraphObjectError(t *testing.T) {
	// La Graph API manda `error` como objeto, no string.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid verification code format.","type":"OAuthException","code":100}}`))
	}))
	defer srv.Close()

	e := NewExchanger(testRegistry(srv.URL))
	_, err := e.ExchangeCode(context.Background(), registry.Facebook, "bad-code")
	var exch *ExchangeError
	if !errors.As(err, &exch) {
		t.Fatalf("no es ExchangeError: %v", err)
	}
	if exch.Code != "OAuthException" {
		t.Fatalf("code = %q", exch.Code)
	}
	if exch.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", exch.StatusCode)
	}
}

func TestRefreshGrant_MetaSendsFBExchangeToken(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-fb","expires_in":5184000}`))
	}))
	defer srv.Close()

	e := NewExchanger(testRegistry(srv.URL))
	if _, err := e.refreshGrant(context.Background(), registry.Facebook, "rt-fb"); err != nil {
		t.Fatalf("refreshGrant err: %v", err)
	}
	if got := form["fb_exchange_token"]; len(got) != 1 || got[0] != "rt-fb" {
		t.Fatalf("fb_exchange_token ausente: %v", form)
	}
	if got := form["refresh_token"]; len(got) != 1 || got[0] != "rt-fb" {
		t.Fatalf("refresh_token ausente: %v", form)
	}
}

func TestRefreshGrant_GoogleOmitsFBExchangeToken(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-g","expires_in":3600}`))
	}))
	defer srv.Close()

	e := NewExchanger(testRegistry(srv.URL))
	if _, err := e.refreshGrant(context.Background(), registry.Google, "rt-g"); err != nil {
		t.Fatalf("refreshGrant err: %v", err)
	}
	if _, ok := form["fb_exchange_token"]; ok {
		t.Fatalf("google no debe mandar fb_exchange_token")
	}
}

func TestTokenResponse_ExpiresAtRFC3339(t *testing.T) {
	at := "2030-01-02T15:04:05Z"
	tok := normalize(registry.Facebook, &tokenResponse{AccessToken: "x", ExpiresAt: at, ExpiresIn: 99}, time.Now())
	if tok.ExpiresAt == nil || !tok.ExpiresAt.Equal(time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Fatalf("expires_at RFC3339 ignorado: %v", tok.ExpiresAt)
	}
}

func TestTokenResponse_NoExpiry(t *testing.T) {
	tok := normalize(registry.Facebook, &tokenResponse{AccessToken: "x"}, time.Now())
	if tok.ExpiresAt != nil {
		t.Fatalf("sin expiry el campo debe quedar nil")
	}
}
