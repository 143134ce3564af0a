package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
)

// requestTimeout acota cada llamada saliente al token endpoint. Excederlo es
// un error transitorio, nunca un hang.
const requestTimeout = 10 * time.Second

// Exchanger hace los POST form-encoded contra los token endpoints y normaliza
// las respuestas heterogéneas de los proveedores.
type Exchanger struct {
	registry *registry.Registry
	http     *http.Client
	now      func() time.Time
}

func NewExchanger(reg *registry.Registry) *Exchanger {
	return &Exchanger{
		registry: reg,
		http:     &http.Client{Timeout: requestTimeout},
		now:      time.Now,
	}
}

// ExchangeCode canjea un authorization code por tokens. No se reintenta: los
// codes son de un solo uso; ante fallo el caller reinicia el flujo de consent.
func (e *Exchanger) ExchangeCode(ctx context.Context, platformID, code string) (Token, error) {
	cfg, err := e.registry.Config(platformID)
	if err != nil {
		return Token{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("redirect_uri", cfg.RedirectURI)

	raw, err := e.postForm(ctx, platformID, cfg.TokenURL, form)
	if err != nil {
		return Token{}, err
	}
	return normalize(platformID, raw, e.now()), nil
}

// refreshGrant hace un único intento de refresh (el retry vive en Refresher).
func (e *Exchanger) refreshGrant(ctx context.Context, platformID, refreshToken string) (Token, error) {
	cfg, err := e.registry.Config(platformID)
	if err != nil {
		return Token{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)
	// La familia Meta espera además el token bajo fb_exchange_token.
	if registry.IsMetaFamily(platformID) {
		form.Set("fb_exchange_token", refreshToken)
	}

	raw, err := e.postForm(ctx, platformID, cfg.TokenURL, form)
	if err != nil {
		return Token{}, err
	}
	return normalize(platformID, raw, e.now()), nil
}

// postForm ejecuta el POST y decodifica/clasifica la respuesta. Un campo
// `error` en un 200 también es fallo (algunos proveedores hacen eso).
func (e *Exchanger) postForm(ctx context.Context, platformID, tokenURL string, form url.Values) (*tokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ExchangeError{Platform: platformID, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, &ExchangeError{Platform: platformID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ExchangeError{Platform: platformID, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode/100 != 2 {
		var eb tokenResponse
		_ = json.Unmarshal(body, &eb)
		code, detail := eb.errorCode()
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		return nil, &ExchangeError{
			Platform:   platformID,
			StatusCode: resp.StatusCode,
			Code:       code,
			Detail:     detail,
			Err:        fmt.Errorf("token http %d", resp.StatusCode),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &ExchangeError{Platform: platformID, StatusCode: resp.StatusCode, Err: err}
	}
	if code, detail := tr.errorCode(); code != "" {
		return nil, &ExchangeError{
			Platform:   platformID,
			StatusCode: resp.StatusCode,
			Code:       code,
			Detail:     detail,
			Err:        fmt.Errorf("oauth error: %s", code),
		}
	}
	return &tr, nil
}
