// Package platform define el registro estático de plataformas publicitarias y
// los "auth cases" (agrupaciones de plataformas que un caller puede pedir de
// una vez). Lookup puro, sin I/O; inmutable después de construirse.
package platform

import (
	"errors"
	"fmt"
	"sort"
)

// Plataformas soportadas. YouTube se gestiona vía Google; meta/instagram
// comparten credenciales (y token persistido) con Facebook.
const (
	Google    = "google"
	Facebook  = "facebook"
	Meta      = "meta"
	Instagram = "instagram"
)

var ErrUnknown = errors.New("unknown")

// Config describe un proveedor OAuth2: credenciales + endpoints + scopes.
type Config struct {
	Platform     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// Credentials son las credenciales por familia, inyectadas desde config/env.
type Credentials struct {
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	FacebookAppID     string
	FacebookAppSecret string
	FacebookRedirect  string
}

// Registry resuelve configs por plataforma y casos por nombre.
type Registry struct {
	platforms map[string]Config
	cases     map[string][]string
}

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	fbAuthURL      = "https://www.facebook.com/v18.0/dialog/oauth"
	fbTokenURL     = "https://graph.facebook.com/v18.0/oauth/access_token"
)

// New construye el registro con las credenciales dadas. Credenciales ausentes
// no fallan acá: se validan en Config() al primer uso de cada plataforma.
func New(creds Credentials) *Registry {
	r := &Registry{
		platforms: map[string]Config{
			Google: {
				Platform:     Google,
				ClientID:     creds.GoogleClientID,
				ClientSecret: creds.GoogleClientSecret,
				RedirectURI:  creds.GoogleRedirectURI,
				Scopes: []string{
					"openid",
					"email",
					"profile",
					"https://www.googleapis.com/auth/adwords",
					"https://www.googleapis.com/auth/youtube",
					"https://www.googleapis.com/auth/youtube.readonly",
					"https://www.googleapis.com/auth/analytics",
					"https://www.googleapis.com/auth/analytics.readonly",
				},
				AuthURL:  googleAuthURL,
				TokenURL: googleTokenURL,
			},
			Facebook: {
				Platform:     Facebook,
				ClientID:     creds.FacebookAppID,
				ClientSecret: creds.FacebookAppSecret,
				RedirectURI:  creds.FacebookRedirect,
				Scopes: []string{
					"ads_management",
					"ads_read",
					"business_management",
					"instagram_basic",
					"instagram_manage_insights",
					"pages_read_engagement",
					"pages_manage_ads",
					"pages_manage_metadata",
				},
				AuthURL:  fbAuthURL,
				TokenURL: fbTokenURL,
			},
			Meta: {
				Platform:     Meta,
				ClientID:     creds.FacebookAppID,
				ClientSecret: creds.FacebookAppSecret,
				RedirectURI:  creds.FacebookRedirect,
				Scopes: []string{
					"ads_management",
					"ads_read",
					"business_management",
					"catalog_management",
					"pages_manage_ads",
				},
				AuthURL:  fbAuthURL,
				TokenURL: fbTokenURL,
			},
			Instagram: {
				Platform:     Instagram,
				ClientID:     creds.FacebookAppID,
				ClientSecret: creds.FacebookAppSecret,
				RedirectURI:  creds.FacebookRedirect,
				Scopes: []string{
					"instagram_basic",
					"instagram_content_publish",
					"instagram_manage_insights",
					"ads_management",
					"ads_read",
					"pages_read_engagement",
				},
				AuthURL:  fbAuthURL,
				TokenURL: fbTokenURL,
			},
		},
		cases: map[string][]string{
			"GOOGLE_ADS_ONLY":    {Google},
			"FACEBOOK_ADS_ONLY":  {Facebook},
			"INSTAGRAM_ADS_ONLY": {Instagram},
			"YOUTUBE_ADS_ONLY":   {Google},
			"SOCIAL_MEDIA_SUITE": {Facebook, Instagram, Google},
			"ALL_PLATFORMS":      {Google, Facebook, Instagram},
			"GOOGLE_ECOSYSTEM":   {Google},
			"META_ECOSYSTEM":     {Facebook, Instagram},
			"SEARCH_ONLY":        {Google},
			"SOCIAL_ONLY":        {Facebook, Instagram},
			"CROSS_PLATFORM":     {Google, Facebook, Instagram},
		},
	}
	return r
}

// Config retorna la configuración de una plataforma. Falla con ErrUnknown si
// la plataforma no existe, y con error de configuración si faltan credenciales.
func (r *Registry) Config(platform string) (Config, error) {
	c, ok := r.platforms[platform]
	if !ok {
		return Config{}, fmt.Errorf("platform %q: %w", platform, ErrUnknown)
	}
	if c.ClientID == "" || c.ClientSecret == "" || c.RedirectURI == "" {
		return Config{}, fmt.Errorf("platform %q: missing oauth credentials (client id/secret/redirect)", platform)
	}
	return c, nil
}

// Has reports whether the platform id is registered, without touching creds.
func (r *Registry) Has(platform string) bool {
	_, ok := r.platforms[platform]
	return ok
}

// CasePlatforms retorna las plataformas (en orden) de un auth case.
func (r *Registry) CasePlatforms(authCase string) ([]string, error) {
	ps, ok := r.cases[authCase]
	if !ok {
		return nil, fmt.Errorf("auth case %q: %w", authCase, ErrUnknown)
	}
	out := make([]string, len(ps))
	copy(out, ps)
	return out, nil
}

// Supported lista las plataformas registradas, orden estable.
func (r *Registry) Supported() []string {
	out := make([]string, 0, len(r.platforms))
	for p := range r.platforms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// TokenPlatform canonicaliza la plataforma bajo la que se persiste el token.
// La familia Meta (meta, instagram) comparte el token de Facebook: la Graph API
// exige el user token de Facebook, y registros separados duplicarían refreshes
// y desincronizarían expiry.
func TokenPlatform(platform string) string {
	switch platform {
	case Meta, Instagram:
		return Facebook
	default:
		return platform
	}
}

// OverrideEndpoints reemplaza los endpoints de una plataforma. Pensado para
// tests y sandboxes que apuntan a servidores locales.
func (r *Registry) OverrideEndpoints(platform, authURL, tokenURL string) {
	c, ok := r.platforms[platform]
	if !ok {
		return
	}
	if authURL != "" {
		c.AuthURL = authURL
	}
	if tokenURL != "" {
		c.TokenURL = tokenURL
	}
	r.platforms[platform] = c
}

// IsMetaFamily reports whether the platform refreshes via fb_exchange_token.
func IsMetaFamily(platform string) bool {
	switch platform {
	case Facebook, Meta, Instagram:
		return true
	default:
		return false
	}
}
