package oauth

import (
	"encoding/json"
	"time"
)

// tokenResponse es la forma cruda que devuelven los token endpoints. Google y
// la familia Meta difieren en qué campos traen (Meta casi nunca expires_at ni
// refresh_token en el refresh); acá se captura el superset y Normalize lo
// lleva a la forma canónica.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"` // RFC3339, raro pero algunos lo mandan
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	// Algunos proveedores devuelven errores con HTTP 200. Google manda un
	// string; la Graph API manda un objeto {message, type, code}.
	Error            json.RawMessage `json:"error,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
}

// errorCode devuelve (code, detail) del campo `error`, tolerando ambas formas.
// code=="" significa que no hubo error.
func (r *tokenResponse) errorCode() (string, string) {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return "", ""
	}
	var s string
	if json.Unmarshal(r.Error, &s) == nil {
		return s, r.ErrorDescription
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	}
	if json.Unmarshal(r.Error, &obj) == nil {
		code := obj.Type
		if code == "" {
			code = "provider_error"
		}
		return code, obj.Message
	}
	return "provider_error", string(r.Error)
}

// Token es la forma canónica interna de un token recién obtenido, ya sea por
// exchange inicial o por refresh.
type Token struct {
	Platform     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time // nil => el proveedor no informó expiry
	TokenType    string
	Scope        string
	ObtainedAt   time.Time
}

// normalize convierte la respuesta cruda del proveedor en la forma canónica.
// Si vino expires_in y no expires_at, se computa expires_at = now + expires_in.
func normalize(platformID string, raw *tokenResponse, now time.Time) Token {
	t := Token{
		Platform:     platformID,
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		TokenType:    raw.TokenType,
		Scope:        raw.Scope,
		ObtainedAt:   now,
	}
	if raw.ExpiresAt != "" {
		if at, err := time.Parse(time.RFC3339, raw.ExpiresAt); err == nil {
			t.ExpiresAt = &at
			return t
		}
	}
	if raw.ExpiresIn > 0 {
		at := now.Add(time.Duration(raw.ExpiresIn) * time.Second)
		t.ExpiresAt = &at
	}
	return t
}
