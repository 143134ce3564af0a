package oauth

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_IsTerminal(t *testing.T) {
	p := DefaultRetryPolicy()

	terminal := []error{
		errors.New("oauth error: invalid_grant"),
		errors.New("token http 400: INVALID_CLIENT"),
		errors.New("unauthorized_client"),
		errors.New("provider says Invalid_Refresh_Token"),
		errors.New("refresh_token_expired"),
	}
	for _, err := range terminal {
		if !p.IsTerminal(err) {
			t.Fatalf("error terminal no clasificado: %v", err)
		}
	}

	transient := []error{
		nil,
		errors.New("context deadline exceeded"),
		errors.New("token http 500"),
		errors.New("connection refused"),
		errors.New("rate_limit_exceeded"),
	}
	for _, err := range transient {
		if p.IsTerminal(err) {
			t.Fatalf("error transitorio clasificado terminal: %v", err)
		}
	}
}

func TestRetryPolicy_ExtensibleCodes(t *testing.T) {
	p := DefaultRetryPolicy()
	err := errors.New("consent_revoked by user")
	if p.IsTerminal(err) {
		t.Fatalf("código no listado clasificado terminal")
	}
	p.TerminalCodes = append(p.TerminalCodes, "consent_revoked")
	if !p.IsTerminal(err) {
		t.Fatalf("código agregado no clasificado terminal")
	}
}

func TestRetryPolicy_LinearBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
	for attempt, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 6 * time.Second,
	} {
		if got := p.delay(attempt); got != want {
			t.Fatalf("delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRefreshError_IsReauthRequired(t *testing.T) {
	if !errors.Is(&RefreshError{Terminal: true}, ErrReauthRequired) {
		t.Fatalf("terminal no matchea ErrReauthRequired")
	}
	if !errors.Is(&RefreshError{Exhausted: true}, ErrReauthRequired) {
		t.Fatalf("exhausted no matchea ErrReauthRequired")
	}
	if errors.Is(&RefreshError{Attempts: 1}, ErrReauthRequired) {
		t.Fatalf("error intermedio matchea ErrReauthRequired")
	}
}
