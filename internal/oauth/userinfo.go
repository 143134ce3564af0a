package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
)

// Identity es la identidad del usuario en el proveedor, post-callback.
type Identity struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// AdAccount es una cuenta publicitaria accesible con el token conectado.
type AdAccount struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// Permissions resume qué conectó el usuario: cuentas de ads y, para la familia
// Meta, cuentas business de Instagram.
type Permissions struct {
	AdAccounts         []AdAccount `json:"ad_accounts"`
	InstagramAccounts  []AdAccount `json:"instagram_accounts,omitempty"`
	HasInstagramAccess bool        `json:"has_instagram_access,omitempty"`
	TotalAccounts      int         `json:"total_accounts"`
	// Message explica resultados vacíos (sin cuentas, permisos insuficientes).
	Message string `json:"message,omitempty"`
}

// Probe consulta identidad y cuentas publicitarias tras un exchange exitoso.
// Todas las llamadas son best-effort desde la perspectiva de la fachada: el
// token ya está persistido cuando se ejecutan.
type Probe struct {
	http *http.Client
	// GoogleAdsDeveloperToken habilita listAccessibleCustomers; vacío degrada
	// a "sin cuentas" en vez de fallar.
	GoogleAdsDeveloperToken string
}

func NewProbe(googleAdsDevToken string) *Probe {
	return &Probe{
		http:                    &http.Client{Timeout: requestTimeout},
		GoogleAdsDeveloperToken: googleAdsDevToken,
	}
}

const (
	googleUserinfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleAdsListURL   = "https://googleads.googleapis.com/v16/customers:listAccessibleCustomers"
	graphMeURL         = "https://graph.facebook.com/me"
	graphAdAccountsURL = "https://graph.facebook.com/v18.0/me/adaccounts"
	graphPagesURL      = "https://graph.facebook.com/v18.0/me/accounts"
)

// UserIdentity trae la identidad del usuario en la plataforma.
func (p *Probe) UserIdentity(ctx context.Context, platformID, accessToken string) (Identity, error) {
	switch {
	case platformID == registry.Google:
		return p.googleIdentity(ctx, accessToken)
	case registry.IsMetaFamily(platformID):
		return p.facebookIdentity(ctx, accessToken)
	default:
		return Identity{}, fmt.Errorf("user info not implemented for %q", platformID)
	}
}

// AccountPermissions trae las cuentas publicitarias accesibles. No retorna
// error por "sin cuentas": eso es un resultado válido con Message.
func (p *Probe) AccountPermissions(ctx context.Context, platformID, accessToken string) (Permissions, error) {
	switch {
	case platformID == registry.Google:
		return p.googleAdAccounts(ctx, accessToken)
	case registry.IsMetaFamily(platformID):
		return p.facebookAdAccounts(ctx, accessToken)
	default:
		return Permissions{}, nil
	}
}

func (p *Probe) googleIdentity(ctx context.Context, accessToken string) (Identity, error) {
	var out struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := p.getJSON(ctx, googleUserinfoURL, accessToken, nil, &out); err != nil {
		return Identity{}, err
	}
	return Identity{ID: out.ID, Name: out.Name, Email: out.Email, Picture: out.Picture}, nil
}

func (p *Probe) facebookIdentity(ctx context.Context, accessToken string) (Identity, error) {
	u := graphMeURL + "?fields=id,name,email,picture&access_token=" + url.QueryEscape(accessToken)
	var out struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := p.getJSON(ctx, u, "", nil, &out); err != nil {
		return Identity{}, err
	}
	return Identity{ID: out.ID, Name: out.Name, Email: out.Email, Picture: out.Picture.Data.URL}, nil
}

func (p *Probe) googleAdAccounts(ctx context.Context, accessToken string) (Permissions, error) {
	var out struct {
		ResourceNames []string `json:"resourceNames"`
	}
	hdr := map[string]string{"developer-token": p.GoogleAdsDeveloperToken}
	if err := p.getJSON(ctx, googleAdsListURL, accessToken, hdr, &out); err != nil {
		// 400/403/404 acá suele ser "el usuario no tiene cuentas de ads":
		// resultado vacío, no error (la autenticación ya fue exitosa).
		return Permissions{AdAccounts: []AdAccount{}, Message: "no ad accounts found or insufficient permissions"}, nil
	}
	accounts := make([]AdAccount, 0, len(out.ResourceNames))
	for _, rn := range out.ResourceNames {
		accounts = append(accounts, AdAccount{ID: rn})
	}
	return Permissions{AdAccounts: accounts, TotalAccounts: len(accounts)}, nil
}

func (p *Probe) facebookAdAccounts(ctx context.Context, accessToken string) (Permissions, error) {
	perms := Permissions{AdAccounts: []AdAccount{}, InstagramAccounts: []AdAccount{}}

	adURL := graphAdAccountsURL + "?fields=id,name,account_status&access_token=" + url.QueryEscape(accessToken)
	var ads struct {
		Data []struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			AccountStatus int    `json:"account_status"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, adURL, "", nil, &ads); err == nil {
		for _, a := range ads.Data {
			perms.AdAccounts = append(perms.AdAccounts, AdAccount{
				ID: a.ID, Name: a.Name, Status: fmt.Sprintf("%d", a.AccountStatus),
			})
		}
	}

	pagesURL := graphPagesURL + "?fields=id,name,instagram_business_account&access_token=" + url.QueryEscape(accessToken)
	var pages struct {
		Data []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Instagram *struct {
				ID string `json:"id"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, pagesURL, "", nil, &pages); err == nil {
		for _, pg := range pages.Data {
			if pg.Instagram != nil {
				perms.InstagramAccounts = append(perms.InstagramAccounts, AdAccount{ID: pg.Instagram.ID, Name: pg.Name})
			}
		}
	}

	perms.HasInstagramAccess = len(perms.InstagramAccounts) > 0
	perms.TotalAccounts = len(perms.AdAccounts)
	if perms.TotalAccounts == 0 && len(perms.InstagramAccounts) == 0 {
		perms.Message = "no ad accounts or instagram business accounts found"
	}
	return perms, nil
}

func (p *Probe) getJSON(ctx context.Context, rawURL, bearer string, headers map[string]string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, val := range headers {
		if val != "" {
			req.Header.Set(k, val)
		}
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: http %d", req.URL.Host, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
