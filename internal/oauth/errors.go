package oauth

import (
	"errors"
	"fmt"
)

// Taxonomía de errores del flujo OAuth. Nada específico de un proveedor cruza
// la fachada: todo se normaliza a estos tipos antes de llegar al caller.
var (
	// ErrNotAuthenticated: no hay token almacenado para (user, platform).
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrStateInvalid: state inválido (CSRF probable o link vencido). No se
	// reintenta; al caller le llega como fallo de autenticación.
	ErrStateInvalid = errors.New("invalid state parameter")

	// ErrReauthRequired es el único error accionable por el usuario final:
	// "reconectá la plataforma X". Lo producen los fallos terminales de
	// refresh y el agotamiento de reintentos.
	ErrReauthRequired = errors.New("re-authentication required")
)

// ExchangeError es un fallo del intercambio code→token. Los authorization
// codes son de un solo uso: no se reintenta, el caller reinicia el flujo.
type ExchangeError struct {
	Platform   string
	StatusCode int    // 0 si el fallo fue de red/timeout
	Code       string // campo `error` del proveedor, si vino
	Detail     string // mensaje crudo del proveedor, para diagnóstico
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s token exchange failed: %s (%s)", e.Platform, e.Code, e.Detail)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s token exchange failed: http %d: %s", e.Platform, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s token exchange failed: %v", e.Platform, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError es un fallo de refresh clasificado. Terminal=true corta los
// reintentos de inmediato (invalid_grant y familia); Exhausted=true indica que
// se agotó el presupuesto de intentos con fallos transitorios. Ambos terminan
// en ErrReauthRequired, pero se reportan distinto para observabilidad.
type RefreshError struct {
	Platform  string
	Terminal  bool
	Exhausted bool
	Attempts  int
	Err       error
}

func (e *RefreshError) Error() string {
	switch {
	case e.Terminal:
		return fmt.Sprintf("%s refresh failed (terminal): %v", e.Platform, e.Err)
	case e.Exhausted:
		return fmt.Sprintf("%s refresh failed after %d attempts: %v", e.Platform, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("%s refresh failed: %v", e.Platform, e.Err)
	}
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Is hace que errors.Is(err, ErrReauthRequired) matchee los fallos de refresh
// que dejaron el registro marcado para re-auth.
func (e *RefreshError) Is(target error) bool {
	return target == ErrReauthRequired && (e.Terminal || e.Exhausted)
}
