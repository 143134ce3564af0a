// Package authstate implementa el parámetro `state` de OAuth: un valor opaco
// firmado que liga (userID, label) con una ventana de frescura de 10 minutos.
// El formato en el wire es "{platformID}:{payload}", donde payload es un JWT
// HS256 con sub/label/nonce/iat/exp. Cualquier fallo de parseo o mismatch se
// reporta como inválido, nunca como panic ni error hacia afuera.
package authstate

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const (
	// Ventana de validez del state. Un state más viejo se rechaza aunque el
	// userID coincida (link viejo o replay).
	Window = 10 * time.Minute

	audience = "ads-state"
)

// Codec firma y verifica states. Clock es inyectable para tests.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret, now: time.Now}
}

// WithClock retorna una copia del codec con otro reloj. Solo tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secret: c.secret, now: now}
}

type stateClaims struct {
	Label string `json:"label"`
	Nonce string `json:"nonce"`
	jwtv5.RegisteredClaims
}

// Encode genera el payload firmado para (userID, label). El label es el auth
// case o la plataforma, lo que el caller esté iniciando.
func (c *Codec) Encode(userID, label string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	now := c.now()
	claims := stateClaims{
		Label: label,
		Nonce: base64.RawURLEncoding.EncodeToString(nonce),
		RegisteredClaims: jwtv5.RegisteredClaims{
			Subject:   userID,
			Audience:  jwtv5.ClaimStrings{audience},
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(Window)),
		},
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Decoded es el resultado de verificar un state.
type Decoded struct {
	Valid bool
	// Label y Nonce solo están poblados cuando Valid.
	Label string
	Nonce string
}

// Decode verifica un state completo ("platform:payload") contra el userID
// autenticado. Retorna Valid=false ante firma inválida, userID distinto,
// state vencido o cualquier malformación.
func (c *Codec) Decode(state, expectedUserID string) Decoded {
	// El prefijo de plataforma no lleva ':' y el payload JWT tampoco.
	_, payload, ok := strings.Cut(state, ":")
	if !ok || payload == "" {
		return Decoded{}
	}

	var claims stateClaims
	tok, err := jwtv5.ParseWithClaims(payload, &claims,
		func(t *jwtv5.Token) (any, error) { return c.secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithAudience(audience),
		jwtv5.WithTimeFunc(c.now),
	)
	if err != nil || !tok.Valid {
		return Decoded{}
	}
	if claims.Subject == "" || claims.Subject != expectedUserID {
		return Decoded{}
	}
	// exp ya lo valida la lib; chequeamos iat explícitamente por si un state
	// fue emitido con exp manipulado más largo que la ventana.
	if claims.IssuedAt == nil || c.now().Sub(claims.IssuedAt.Time) > Window {
		return Decoded{}
	}
	return Decoded{Valid: true, Label: claims.Label, Nonce: claims.Nonce}
}
