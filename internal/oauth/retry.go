package oauth

import (
	"context"
	"strings"
	"time"
)

// RetryPolicy gobierna los reintentos de refresh: presupuesto de intentos,
// backoff y qué errores son terminales. Las mismas políticas sirven para todas
// las plataformas; TerminalCodes es extensible por proveedor (la lista de
// substrings es un punto de partida, no una clasificación garantizada).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// TerminalCodes son substrings (case-insensitive) que, presentes en el
	// error del proveedor, cortan los reintentos de inmediato.
	TerminalCodes []string
}

// DefaultRetryPolicy replica la política del refresh manager original:
// 3 intentos, backoff lineal attempt*base, y la familia invalid_grant como
// terminal.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		TerminalCodes: []string{
			"invalid_grant",
			"invalid_client",
			"unauthorized_client",
			"invalid_refresh_token",
			"refresh_token_expired",
		},
	}
}

// IsTerminal reports whether the provider error should not be retried.
func (p RetryPolicy) IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, code := range p.TerminalCodes {
		if strings.Contains(msg, strings.ToLower(code)) {
			return true
		}
	}
	return false
}

// delay es el backoff lineal del intento dado (1-based): attempt * base.
func (p RetryPolicy) delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.BaseDelay
}

// sleep espera el backoff respetando cancelación del contexto.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
