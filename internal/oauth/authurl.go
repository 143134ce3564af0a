package oauth

import (
	"net/url"
	"strings"

	"github.com/kalpesh05/omniad-ads-backend/internal/authstate"
	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
)

// URLBuilder arma las URLs de autorización (authorization-code flow) con el
// state firmado. access_type=offline + prompt=consent fuerzan la emisión de
// refresh token en cada consent (los proveedores solo lo devuelven en el
// primer consent o si se fuerza).
type URLBuilder struct {
	registry *registry.Registry
	states   *authstate.Codec
}

func NewURLBuilder(reg *registry.Registry, states *authstate.Codec) *URLBuilder {
	return &URLBuilder{registry: reg, states: states}
}

// AuthURL construye la URL de autorización de una plataforma. scopesOverride
// reemplaza los scopes por defecto si no es nil.
func (b *URLBuilder) AuthURL(platformID, userID string, scopesOverride []string) (string, error) {
	return b.buildURL(platformID, userID, platformID, scopesOverride)
}

// AuthURLsForCase genera una URL por plataforma del auth case, cada una con su
// state prefijado por su propia plataforma.
func (b *URLBuilder) AuthURLsForCase(authCase, userID string) (map[string]string, error) {
	platforms, err := b.registry.CasePlatforms(authCase)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(platforms))
	for _, p := range platforms {
		u, err := b.buildURL(p, userID, authCase, nil)
		if err != nil {
			return nil, err
		}
		out[p] = u
	}
	return out, nil
}

func (b *URLBuilder) buildURL(platformID, userID, label string, scopesOverride []string) (string, error) {
	cfg, err := b.registry.Config(platformID)
	if err != nil {
		return "", err
	}
	scopes := cfg.Scopes
	if scopesOverride != nil {
		scopes = scopesOverride
	}

	payload, err := b.states.Encode(userID, label)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", cfg.RedirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("response_type", "code")
	q.Set("state", platformID+":"+payload)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
