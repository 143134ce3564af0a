package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/memory"
)

func fastPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.BaseDelay = 0 // sin backoff en tests
	return p
}

func seedToken(t *testing.T, st *memory.Store, userID, platform, refreshToken string, expiresAt *time.Time) *core.TokenRecord {
	t.Helper()
	rec, err := st.Upsert(context.Background(), userID, platform, core.TokenUpsert{
		AccessToken:   "old-access",
		RefreshToken:  refreshToken,
		ExpiresAt:     expiresAt,
		TokenType:     "Bearer",
		Scope:         "ads",
		LastRefreshed: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed err: %v", err)
	}
	return rec
}

func TestRefresh_TerminalErrorStopsRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been revoked."}`))
	}))
	defer srv.Close()

	st := memory.New()
	seedToken(t, st, "u1", registry.Google, "rt-dead", nil)

	r := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)
	_, err := r.Refresh(context.Background(), "u1", registry.Google)

	var rerr *RefreshError
	if !errors.As(err, &rerr) || !rerr.Terminal {
		t.Fatalf("esperaba RefreshError terminal, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("error terminal reintentado: %d llamadas", n)
	}
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("terminal no matchea ErrReauthRequired")
	}

	rec, err := st.FindByUserAndPlatform(context.Background(), "u1", registry.Google)
	if err != nil {
		t.Fatalf("Find err: %v", err)
	}
	if !rec.NeedsReauth {
		t.Fatalf("registro no marcado needs_reauth")
	}
}

func TestRefresh_TransientThenSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","expires_in":3600}`))
	}))
	defer srv.Close()

	st := memory.New()
	seedToken(t, st, "u1", registry.Google, "rt-1", nil)

	r := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)
	rec, err := r.Refresh(context.Background(), "u1", registry.Google)
	if err != nil {
		t.Fatalf("Refresh err: %v", err)
	}
	if rec.AccessToken != "new-access" {
		t.Fatalf("access token no actualizado: %q", rec.AccessToken)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("esperaba 3 intentos, hubo %d", n)
	}
}

func TestRefresh_ExhaustedMarksReauth(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := memory.New()
	seedToken(t, st, "u1", registry.Google, "rt-1", nil)

	r := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)
	_, err := r.Refresh(context.Background(), "u1", registry.Google)

	var rerr *RefreshError
	if !errors.As(err, &rerr) || !rerr.Exhausted {
		t.Fatalf("esperaba RefreshError exhausted, got %v", err)
	}
	if rerr.Attempts != 3 {
		t.Fatalf("attempts = %d", rerr.Attempts)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("presupuesto de intentos no respetado: %d", n)
	}

	rec, _ := st.FindByUserAndPlatform(context.Background(), "u1", registry.Google)
	if !rec.NeedsReauth {
		t.Fatalf("presupuesto agotado sin marcar needs_reauth")
	}
}

func TestRefresh_PreservesRefreshTokenWhenOmitted(t *testing.T) {
	// Google no rota el refresh token: la respuesta de refresh no lo trae.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","expires_in":3600}`))
	}))
	defer srv.Close()

	st := memory.New()
	seedToken(t, st, "u1", registry.Google, "rt-keep", nil)

	r := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)
	rec, err := r.Refresh(context.Background(), "u1", registry.Google)
	if err != nil {
		t.Fatalf("Refresh err: %v", err)
	}
	if rec.RefreshToken != "rt-keep" {
		t.Fatalf("refresh token previo no conservado: %q", rec.RefreshToken)
	}
	if rec.TokenType != "Bearer" || rec.Scope != "ads" {
		t.Fatalf("token_type/scope previos no conservados: %+v", rec)
	}
}

func TestRefresh_NeedsReauthIsTerminalState(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"should-not-happen"}`))
	}))
	defer srv.Close()

	st := memory.New()
	seedToken(t, st, "u1", registry.Google, "rt-1", nil)
	if err := st.MarkForReauth(context.Background(), "u1", registry.Google); err != nil {
		t.Fatalf("MarkForReauth err: %v", err)
	}

	r := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)
	_, err := r.Refresh(context.Background(), "u1", registry.Google)
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("registro marcado no rechazado: %v", err)
	}
	// Del estado needs_reauth solo se sale con un callback nuevo.
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("refresh sobre registro marcado llamó al proveedor %d veces", n)
	}
}

func TestRefresh_NoRefreshTokenIsTerminal(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	st := memory.New()
	seedToken(t, st, "u1", registry.Google, "", nil)

	r := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)
	_, err := r.Refresh(context.Background(), "u1", registry.Google)

	var rerr *RefreshError
	if !errors.As(err, &rerr) || !rerr.Terminal {
		t.Fatalf("sin refresh token debería ser terminal: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("sin refresh token no debe llamar al proveedor")
	}
	rec, _ := st.FindByUserAndPlatform(context.Background(), "u1", registry.Google)
	if !rec.NeedsReauth {
		t.Fatalf("registro sin refresh token no marcado")
	}
}

func TestRefresh_MissingRecord(t *testing.T) {
	st := memory.New()
	r := NewRefresher(testRegistry(""), st, NewExchanger(testRegistry("")), fastPolicy(), nil)
	_, err := r.Refresh(context.Background(), "nobody", registry.Google)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("esperaba ErrNotAuthenticated, got %v", err)
	}
}

func TestRefresh_MetaFamilyCanonicalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-fb-access","expires_in":5184000}`))
	}))
	defer srv.Close()

	st := memory.New()
	// El token vive bajo facebook; se pide refresh de instagram.
	seedToken(t, st, "u1", registry.Facebook, "rt-fb", nil)

	r := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)
	rec, err := r.Refresh(context.Background(), "u1", registry.Instagram)
	if err != nil {
		t.Fatalf("Refresh err: %v", err)
	}
	if rec.Platform != registry.Facebook {
		t.Fatalf("registro no canónico: %s", rec.Platform)
	}
	if rec.AccessToken != "new-fb-access" {
		t.Fatalf("access token no actualizado")
	}
}

func TestExpiringSoon(t *testing.T) {
	soon := time.Now().Add(5 * time.Minute)
	far := time.Now().Add(2 * time.Hour)

	if !ExpiringSoon(nil, DefaultExpiryBuffer) {
		t.Fatalf("registro nil debería ser expiring")
	}
	if !ExpiringSoon(&core.TokenRecord{}, DefaultExpiryBuffer) {
		t.Fatalf("sin expiry debería ser expiring (conservador)")
	}
	if !ExpiringSoon(&core.TokenRecord{ExpiresAt: &soon}, DefaultExpiryBuffer) {
		t.Fatalf("expira en 5m con buffer 10m debería ser expiring")
	}
	if ExpiringSoon(&core.TokenRecord{ExpiresAt: &far}, DefaultExpiryBuffer) {
		t.Fatalf("expira en 2h no debería ser expiring")
	}
}

func TestRefresh_Notifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	st := memory.New()
	seedToken(t, st, "u1", registry.Google, "rt-dead", nil)

	var notified atomic.Value
	r := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)
	r.SetNotifier(notifierFunc(func(ctx context.Context, userID, platformID string) {
		notified.Store(userID + "/" + platformID)
	}))

	r.Refresh(context.Background(), "u1", registry.Google)
	if got, _ := notified.Load().(string); got != "u1/google" {
		t.Fatalf("notifier no invocado: %q", got)
	}
}

type notifierFunc func(ctx context.Context, userID, platformID string)

func (f notifierFunc) NotifyReauthRequired(ctx context.Context, userID, platformID string) {
	f(ctx, userID, platformID)
}

func TestRefresh_ConcurrentCallsCollapse(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release // mantiene el vuelo abierto hasta que todos los callers entren
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"shared-access","expires_in":3600}`))
	}))
	defer srv.Close()

	st := memory.New()
	seedToken(t, st, "u1", registry.Google, "rt-1", nil)
	ref := NewRefresher(testRegistry(srv.URL), st, NewExchanger(testRegistry(srv.URL)), fastPolicy(), nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*core.TokenRecord, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ref.Refresh(context.Background(), "u1", registry.Google)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("refreshes concurrentes no colapsados: %d llamadas al proveedor", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d err: %v", i, errs[i])
		}
		if results[i].AccessToken != "shared-access" {
			t.Fatalf("caller %d access token inesperado: %q", i, results[i].AccessToken)
		}
	}
}
