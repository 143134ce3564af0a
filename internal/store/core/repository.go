package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenRepository persiste un TokenRecord por (user, platform).
// Implementaciones: pg (producción), memory (dev/tests).
type TokenRepository interface {
	// FindByUserAndPlatform retorna ErrNotFound si no hay registro.
	FindByUserAndPlatform(ctx context.Context, userID, platform string) (*TokenRecord, error)

	// Upsert crea o actualiza in-place el registro (user, platform).
	// La escritura es atómica a nivel de registro y last-write-wins.
	// Un upsert limpia NeedsReauth (un token nuevo siempre es válido).
	Upsert(ctx context.Context, userID, platform string, fields TokenUpsert) (*TokenRecord, error)

	// MarkForReauth marca el registro sin borrarlo. Idempotente.
	MarkForReauth(ctx context.Context, userID, platform string) error

	DeleteByUserAndPlatform(ctx context.Context, userID, platform string) error
	DeleteByUser(ctx context.Context, userID string) error

	// ListUsersNeedingRefresh lista user IDs con algún token que expira dentro
	// de la ventana dada, tiene refresh token y no está marcado para re-auth.
	// Lo usa el sweeper; el core de refresh no depende de esto.
	ListUsersNeedingRefresh(ctx context.Context, within time.Duration) ([]string, error)
}

// AccountRepository persiste las cuentas publicitarias conectadas.
type AccountRepository interface {
	// ReplaceForToken reemplaza el set completo de cuentas del token.
	ReplaceForToken(ctx context.Context, tokenID uuid.UUID, accounts []ConnectedAccount) error
	ListByToken(ctx context.Context, tokenID uuid.UUID) ([]ConnectedAccount, error)
	DeleteByToken(ctx context.Context, tokenID uuid.UUID) error
}
