// Package handlers expone el API HTTP de conexiones publicitarias.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	httpx "github.com/kalpesh05/omniad-ads-backend/internal/http"
	"github.com/kalpesh05/omniad-ads-backend/internal/oauth"
	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
)

// AdsAuthHandler sirve las rutas /v1/ads/auth/*. La identidad del usuario
// llega resuelta desde el gateway (header X-User-ID); este servicio no
// autentica usuarios finales.
type AdsAuthHandler struct {
	Auth *oauth.Authenticator
	Log  *zap.Logger
}

func NewAdsAuthHandler(auth *oauth.Authenticator, log *zap.Logger) *AdsAuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdsAuthHandler{Auth: auth, Log: log}
}

func (h *AdsAuthHandler) Register(r chi.Router) {
	r.Route("/v1/ads/auth", func(r chi.Router) {
		r.Get("/cases/{case}/urls", h.caseURLs)
		r.Get("/status", h.status)
		r.Post("/refresh", h.refresh)
		r.Delete("/", h.disconnectAll)

		r.Route("/{platform}", func(r chi.Router) {
			r.Get("/url", h.authURL)
			r.Get("/callback", h.callback)
			r.Get("/accounts", h.accounts)
			r.Delete("/", h.disconnect)
		})
	})
}

// userID saca el usuario del header del gateway, con fallback a query param
// para los redirects del proveedor (el callback no trae headers propios).
func userID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-User-ID")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func (h *AdsAuthHandler) caseURLs(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_user", "user id requerido")
		return
	}
	authCase := chi.URLParam(r, "case")

	urls, err := h.Auth.AuthURLsForCase(authCase, uid)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"auth_case": authCase,
		"auth_urls": urls,
	})
}

func (h *AdsAuthHandler) authURL(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_user", "user id requerido")
		return
	}
	platform := chi.URLParam(r, "platform")

	var scopes []string
	if raw := strings.TrimSpace(r.URL.Query().Get("scopes")); raw != "" {
		scopes = strings.Split(raw, ",")
	}

	u, err := h.Auth.AuthURL(platform, uid, scopes)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"platform": platform,
		"auth_url": u,
	})
}

func (h *AdsAuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	q := r.URL.Query()

	// Los proveedores reportan el rechazo del usuario vía query params.
	if e := q.Get("error"); e != "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider_denied", q.Get("error_description"))
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	uid := userID(r)
	if code == "" || state == "" || uid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_callback", "code, state y user_id son requeridos")
		return
	}

	res, err := h.Auth.HandleCallback(r.Context(), platform, code, state, uid)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *AdsAuthHandler) status(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_user", "user id requerido")
		return
	}

	if authCase := strings.TrimSpace(r.URL.Query().Get("auth_case")); authCase != "" {
		st, err := h.Auth.IsAuthenticated(r.Context(), uid, authCase)
		if err != nil {
			h.writeAuthError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, st)
		return
	}

	st, err := h.Auth.UserAuthStatus(r.Context(), uid)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

type refreshRequest struct {
	Platforms []string `json:"platforms"`
}

func (h *AdsAuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_user", "user id requerido")
		return
	}

	var req refreshRequest
	if r.ContentLength > 0 {
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
	}

	out := h.Auth.RefreshAllUserTokens(r.Context(), uid, req.Platforms)
	status := http.StatusOK
	if len(out.Results) == 0 && len(out.Errors) > 0 {
		status = http.StatusConflict
	}
	httpx.WriteJSON(w, status, out)
}

func (h *AdsAuthHandler) accounts(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_user", "user id requerido")
		return
	}
	platform := chi.URLParam(r, "platform")

	accs, err := h.Auth.ConnectedAccounts(r.Context(), uid, platform)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"platform": platform,
		"accounts": accs,
	})
}

func (h *AdsAuthHandler) disconnect(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_user", "user id requerido")
		return
	}
	platform := chi.URLParam(r, "platform")

	if err := h.Auth.Disconnect(r.Context(), uid, platform); err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"disconnected": platform})
}

func (h *AdsAuthHandler) disconnectAll(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_user", "user id requerido")
		return
	}
	if err := h.Auth.DisconnectAll(r.Context(), uid); err != nil {
		h.writeAuthError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"disconnected": "all"})
}

// writeAuthError mapea los errores del dominio a códigos HTTP estables.
func (h *AdsAuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	var exch *oauth.ExchangeError
	switch {
	case errors.Is(err, registry.ErrUnknown):
		httpx.WriteError(w, http.StatusBadRequest, "unknown_platform", err.Error())
	case errors.Is(err, oauth.ErrStateInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_state", "state inválido o ya usado")
	case errors.Is(err, oauth.ErrNotAuthenticated):
		httpx.WriteError(w, http.StatusUnauthorized, "not_authenticated", err.Error())
	case errors.Is(err, oauth.ErrReauthRequired):
		httpx.WriteError(w, http.StatusConflict, "reauth_required", "la plataforma requiere re-autenticación")
	case errors.As(err, &exch):
		httpx.WriteError(w, http.StatusBadGateway, "exchange_failed", exch.Error())
	case errors.Is(err, core.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		h.Log.Error("unhandled ads auth error", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "error interno")
	}
}
