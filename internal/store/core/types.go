package core

import (
	"time"

	"github.com/google/uuid"
)

// TokenRecord es el registro OAuth de un usuario para una plataforma.
// Clave única: (UserID, Platform). Se actualiza in-place en cada refresh;
// nunca se duplica ni se borra por un refresh fallido (solo NeedsReauth).
type TokenRecord struct {
	ID           uuid.UUID
	UserID       string
	Platform     string
	AccessToken  string
	RefreshToken string // vacío => re-auth requerido al expirar
	// ExpiresAt nil se trata como "ya expirado" (fuerza refresh).
	ExpiresAt     *time.Time
	TokenType     string
	Scope         string
	NeedsReauth   bool
	LastRefreshed time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasRefreshToken reports whether the record can be refreshed without
// user-driven consent.
func (t *TokenRecord) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != ""
}

// TokenUpsert son los campos escritos en un upsert. El refresh token previo se
// conserva aguas arriba (el caller decide), acá se escribe tal cual llega.
type TokenUpsert struct {
	AccessToken   string
	RefreshToken  string
	ExpiresAt     *time.Time
	TokenType     string
	Scope         string
	LastRefreshed time.Time
}

// ConnectedAccount es una cuenta publicitaria descubierta tras el callback.
// Entidad hija del TokenRecord (cascade delete con el token).
type ConnectedAccount struct {
	ID          uuid.UUID
	TokenID     uuid.UUID
	AccountID   string
	AccountName string
	Platform    string
	AccountType string
	Status      string
	CreatedAt   time.Time
}
