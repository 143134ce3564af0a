// Package oauth implementa el ciclo de vida de tokens OAuth para las
// plataformas publicitarias: URLs de autorización, callback (state + exchange
// + persistencia), refresh proactivo con reintentos y la fachada única que el
// resto del sistema usa para obtener un access token válido.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalpesh05/omniad-ads-backend/internal/authstate"
	"github.com/kalpesh05/omniad-ads-backend/internal/metrics"
	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
	"github.com/kalpesh05/omniad-ads-backend/internal/util"
)

// Authenticator es la fachada de orquestación. Se construye explícitamente con
// sus dependencias; no hay estado global ni singletons.
type Authenticator struct {
	registry  *registry.Registry
	tokens    core.TokenRepository
	accounts  core.AccountRepository // opcional (nil => no se persisten cuentas)
	urls      *URLBuilder
	states    *authstate.Codec
	guard     authstate.ReplayGuard
	exch      *Exchanger
	refresher *Refresher
	probe     *Probe
	log       *zap.Logger
	buffer    time.Duration
}

// Deps agrupa las dependencias del Authenticator.
type Deps struct {
	Registry *registry.Registry
	Tokens   core.TokenRepository
	Accounts core.AccountRepository
	States   *authstate.Codec
	Guard    authstate.ReplayGuard
	Exch     *Exchanger
	Refresh  *Refresher
	Probe    *Probe
	Logger   *zap.Logger
	// ExpiryBuffer por defecto DefaultExpiryBuffer (10m).
	ExpiryBuffer time.Duration
}

func NewAuthenticator(d Deps) *Authenticator {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	buffer := d.ExpiryBuffer
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	guard := d.Guard
	if guard == nil {
		guard = authstate.NewMemoryGuard()
	}
	return &Authenticator{
		registry:  d.Registry,
		tokens:    d.Tokens,
		accounts:  d.Accounts,
		urls:      NewURLBuilder(d.Registry, d.States),
		states:    d.States,
		guard:     guard,
		exch:      d.Exch,
		refresher: d.Refresh,
		probe:     d.Probe,
		log:       log,
		buffer:    buffer,
	}
}

// AuthURL expone el builder para una plataforma individual.
func (a *Authenticator) AuthURL(platformID, userID string, scopesOverride []string) (string, error) {
	return a.urls.AuthURL(platformID, userID, scopesOverride)
}

// AuthURLsForCase expone el builder para un auth case completo.
func (a *Authenticator) AuthURLsForCase(authCase, userID string) (map[string]string, error) {
	return a.urls.AuthURLsForCase(authCase, userID)
}

// ValidAccessToken es EL punto de acceso a tokens: carga el registro, refresca
// si expira pronto y devuelve un access token usable. Los clientes de ads no
// deben leer el token del store directamente.
func (a *Authenticator) ValidAccessToken(ctx context.Context, userID, platformID string) (string, error) {
	canonical := registry.TokenPlatform(platformID)
	rec, err := a.tokens.FindByUserAndPlatform(ctx, userID, canonical)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", platformID, ErrNotAuthenticated)
		}
		return "", err
	}
	if rec.AccessToken == "" {
		return "", fmt.Errorf("%s: %w", platformID, ErrNotAuthenticated)
	}

	if ExpiringSoon(rec, a.buffer) {
		a.log.Debug("token_expiring_refreshing",
			zap.String("user_id", userID),
			zap.String("platform", canonical),
		)
		refreshed, err := a.refresher.Refresh(ctx, userID, canonical)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}
	return rec.AccessToken, nil
}

// PlatformStatus es el estado por plataforma que ven los dashboards.
type PlatformStatus struct {
	IsAuthenticated bool       `json:"is_authenticated"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	NeedsRefresh    bool       `json:"needs_refresh"`
	NeedsReauth     bool       `json:"needs_reauth"`
	LastRefreshed   *time.Time `json:"last_refreshed,omitempty"`
}

// CaseStatus responde "¿está este usuario listo para el auth case X?".
type CaseStatus struct {
	AuthCase             string                    `json:"auth_case"`
	RequiredPlatforms    []string                  `json:"required_platforms"`
	IsFullyAuthenticated bool                      `json:"is_fully_authenticated"`
	NeedsRefresh         bool                      `json:"needs_refresh"`
	PlatformStatus       map[string]PlatformStatus `json:"platform_status"`
}

// IsAuthenticated evalúa el auth case: fully authenticated sii cada plataforma
// del case tiene token almacenado. Solo lectura, no dispara refresh.
func (a *Authenticator) IsAuthenticated(ctx context.Context, userID, authCase string) (CaseStatus, error) {
	platforms, err := a.registry.CasePlatforms(authCase)
	if err != nil {
		return CaseStatus{}, err
	}

	st := CaseStatus{
		AuthCase:          authCase,
		RequiredPlatforms: platforms,
		PlatformStatus:    make(map[string]PlatformStatus, len(platforms)),
	}
	fully := true
	for _, p := range platforms {
		ps, err := a.platformStatus(ctx, userID, p)
		if err != nil {
			return CaseStatus{}, err
		}
		st.PlatformStatus[p] = ps
		if !ps.IsAuthenticated {
			fully = false
		}
		if ps.NeedsRefresh {
			st.NeedsRefresh = true
		}
	}
	st.IsFullyAuthenticated = fully
	return st, nil
}

// UserStatus es la vista dashboard sobre todas las plataformas conocidas.
type UserStatus struct {
	UserID                  string                    `json:"user_id"`
	PlatformStatus          map[string]PlatformStatus `json:"platform_status"`
	TotalPlatforms          int                       `json:"total_platforms"`
	AuthenticatedPlatforms  int                       `json:"authenticated_platforms"`
	PlatformsNeedingRefresh int                       `json:"platforms_needing_refresh"`
}

// UserAuthStatus arma la vista completa. Solo lectura.
func (a *Authenticator) UserAuthStatus(ctx context.Context, userID string) (UserStatus, error) {
	all := a.registry.Supported()
	st := UserStatus{
		UserID:         userID,
		PlatformStatus: make(map[string]PlatformStatus, len(all)),
		TotalPlatforms: len(all),
	}
	for _, p := range all {
		ps, err := a.platformStatus(ctx, userID, p)
		if err != nil {
			return UserStatus{}, err
		}
		st.PlatformStatus[p] = ps
		if ps.IsAuthenticated {
			st.AuthenticatedPlatforms++
		}
		if ps.NeedsRefresh {
			st.PlatformsNeedingRefresh++
		}
	}
	return st, nil
}

func (a *Authenticator) platformStatus(ctx context.Context, userID, platformID string) (PlatformStatus, error) {
	rec, err := a.tokens.FindByUserAndPlatform(ctx, userID, registry.TokenPlatform(platformID))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return PlatformStatus{}, nil
		}
		return PlatformStatus{}, err
	}
	ps := PlatformStatus{
		IsAuthenticated: rec.AccessToken != "",
		HasRefreshToken: rec.HasRefreshToken(),
		ExpiresAt:       rec.ExpiresAt,
		NeedsReauth:     rec.NeedsReauth,
	}
	if !rec.LastRefreshed.IsZero() {
		lr := rec.LastRefreshed
		ps.LastRefreshed = &lr
	}
	if ps.IsAuthenticated {
		ps.NeedsRefresh = ExpiringSoon(rec, a.buffer)
	}
	return ps, nil
}

// RefreshResult es la entrada por plataforma de un refresh batch.
type RefreshResult struct {
	Status    string     `json:"status"` // refreshed | still_valid | skipped
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// BatchResult acumula resultados y errores por plataforma; el batch nunca
// aborta por el fallo de una plataforma.
type BatchResult struct {
	Results map[string]RefreshResult `json:"results"`
	Errors  map[string]string        `json:"errors"`
}

// RefreshAllUserTokens refresca las plataformas candidatas (default: todas las
// registradas). Saltea plataformas sin token, refresca solo las que expiran
// pronto y aísla fallos por plataforma. La familia Meta se colapsa a un solo
// registro (facebook).
func (a *Authenticator) RefreshAllUserTokens(ctx context.Context, userID string, platforms []string) BatchResult {
	if len(platforms) == 0 {
		platforms = a.registry.Supported()
	}

	out := BatchResult{
		Results: make(map[string]RefreshResult),
		Errors:  make(map[string]string),
	}
	seen := make(map[string]bool, len(platforms))

	for _, p := range platforms {
		canonical := registry.TokenPlatform(p)
		if seen[canonical] {
			continue
		}
		seen[canonical] = true

		rec, err := a.tokens.FindByUserAndPlatform(ctx, userID, canonical)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue // sin token => nada que refrescar
			}
			out.Errors[canonical] = err.Error()
			continue
		}
		if rec.AccessToken == "" {
			continue
		}

		if !ExpiringSoon(rec, a.buffer) {
			out.Results[canonical] = RefreshResult{Status: "still_valid", ExpiresAt: rec.ExpiresAt}
			continue
		}

		refreshed, err := a.refresher.Refresh(ctx, userID, canonical)
		if err != nil {
			out.Errors[canonical] = err.Error()
			continue
		}
		out.Results[canonical] = RefreshResult{Status: "refreshed", ExpiresAt: refreshed.ExpiresAt}
	}
	return out
}

// TokenSummary es lo que el callback devuelve sobre el token; el access token
// va enmascarado (el contrato de consumo es ValidAccessToken, no esta vista).
type TokenSummary struct {
	AccessToken     string     `json:"access_token"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	TokenType       string     `json:"token_type,omitempty"`
	Scope           string     `json:"scope,omitempty"`
}

// CallbackResult es el resultado de un callback exitoso. Degraded indica que
// el probe de identidad/permisos falló (el token igual quedó persistido).
type CallbackResult struct {
	Platform    string      `json:"platform"`
	UserInfo    Identity    `json:"user_info"`
	Permissions Permissions `json:"permissions"`
	Token       TokenSummary `json:"token"`
	Degraded    bool        `json:"degraded,omitempty"`
}

// HandleCallback procesa el retorno del proveedor: valida el state (CSRF),
// canjea el code, persiste el token y hace el probe best-effort de identidad y
// cuentas. El state inválido se rechaza antes de cualquier llamada de red.
func (a *Authenticator) HandleCallback(ctx context.Context, platformID, code, state, userID string) (*CallbackResult, error) {
	if _, err := a.registry.Config(platformID); err != nil {
		return nil, err
	}

	decoded := a.states.Decode(state, userID)
	if !decoded.Valid {
		metrics.ExchangeTotal.WithLabelValues(platformID, "invalid_state").Inc()
		return nil, ErrStateInvalid
	}
	ok, err := a.guard.Consume(ctx, decoded.Nonce)
	if err != nil {
		// Guard caído: se falla cerrado, la unicidad del state no es
		// verificable y un replay pasaría sin registro.
		a.log.Warn("state_guard_unavailable", zap.Error(err))
		metrics.ExchangeTotal.WithLabelValues(platformID, "guard_unavailable").Inc()
		return nil, ErrStateInvalid
	}
	if !ok {
		metrics.ExchangeTotal.WithLabelValues(platformID, "replayed_state").Inc()
		return nil, ErrStateInvalid
	}

	tok, err := a.exch.ExchangeCode(ctx, platformID, code)
	if err != nil {
		metrics.ExchangeTotal.WithLabelValues(platformID, "error").Inc()
		return nil, err
	}
	metrics.ExchangeTotal.WithLabelValues(platformID, "ok").Inc()

	canonical := registry.TokenPlatform(platformID)
	rec, err := a.tokens.Upsert(ctx, userID, canonical, core.TokenUpsert{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		ExpiresAt:     tok.ExpiresAt,
		TokenType:     tok.TokenType,
		Scope:         tok.Scope,
		LastRefreshed: tok.ObtainedAt,
	})
	if err != nil {
		return nil, err
	}
	a.log.Info("platform_connected",
		zap.String("user_id", userID),
		zap.String("platform", platformID),
		zap.String("access_token", util.MaskSecret(tok.AccessToken)),
		zap.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	res := &CallbackResult{
		Platform: platformID,
		Token: TokenSummary{
			AccessToken:     util.MaskSecret(tok.AccessToken),
			HasRefreshToken: tok.RefreshToken != "",
			ExpiresAt:       tok.ExpiresAt,
			TokenType:       tok.TokenType,
			Scope:           tok.Scope,
		},
	}

	// Probe best-effort: el token ya está a salvo; un fallo acá degrada el
	// resultado, no lo escala.
	if a.probe == nil {
		res.Degraded = true
		return res, nil
	}
	identity, err := a.probe.UserIdentity(ctx, platformID, tok.AccessToken)
	if err != nil {
		a.log.Warn("userinfo_probe_failed", zap.String("platform", platformID), zap.Error(err))
		res.Degraded = true
	} else {
		res.UserInfo = identity
	}
	perms, err := a.probe.AccountPermissions(ctx, platformID, tok.AccessToken)
	if err != nil {
		a.log.Warn("permissions_probe_failed", zap.String("platform", platformID), zap.Error(err))
		res.Degraded = true
	} else {
		res.Permissions = perms
		a.persistAccounts(ctx, rec.ID, canonical, perms)
	}
	return res, nil
}

// persistAccounts guarda las cuentas descubiertas como entidades hijas del
// token. Best effort.
func (a *Authenticator) persistAccounts(ctx context.Context, tokenID uuid.UUID, platformID string, perms Permissions) {
	if a.accounts == nil {
		return
	}
	accounts := make([]core.ConnectedAccount, 0, len(perms.AdAccounts)+len(perms.InstagramAccounts))
	for _, acc := range perms.AdAccounts {
		accounts = append(accounts, core.ConnectedAccount{
			TokenID:     tokenID,
			AccountID:   acc.ID,
			AccountName: acc.Name,
			Platform:    platformID,
			AccountType: "ad_account",
			Status:      acc.Status,
		})
	}
	for _, acc := range perms.InstagramAccounts {
		accounts = append(accounts, core.ConnectedAccount{
			TokenID:     tokenID,
			AccountID:   acc.ID,
			AccountName: acc.Name,
			Platform:    registry.Instagram,
			AccountType: "instagram_business",
		})
	}
	if err := a.accounts.ReplaceForToken(ctx, tokenID, accounts); err != nil {
		a.log.Warn("connected_accounts_persist_failed", zap.Error(err))
	}
}

// ConnectedAccounts lista las cuentas hijas del token de (user, platform).
func (a *Authenticator) ConnectedAccounts(ctx context.Context, userID, platformID string) ([]core.ConnectedAccount, error) {
	if a.accounts == nil {
		return nil, nil
	}
	rec, err := a.tokens.FindByUserAndPlatform(ctx, userID, registry.TokenPlatform(platformID))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", platformID, ErrNotAuthenticated)
		}
		return nil, err
	}
	return a.accounts.ListByToken(ctx, rec.ID)
}

// Disconnect borra el token y sus cuentas hijas (desconexión explícita).
func (a *Authenticator) Disconnect(ctx context.Context, userID, platformID string) error {
	canonical := registry.TokenPlatform(platformID)
	if !a.registry.Has(platformID) {
		return fmt.Errorf("platform %q: %w", platformID, registry.ErrUnknown)
	}
	if a.accounts != nil {
		rec, err := a.tokens.FindByUserAndPlatform(ctx, userID, canonical)
		if err == nil {
			if derr := a.accounts.DeleteByToken(ctx, rec.ID); derr != nil {
				a.log.Warn("connected_accounts_delete_failed", zap.Error(derr))
			}
		}
	}
	return a.tokens.DeleteByUserAndPlatform(ctx, userID, canonical)
}

// DisconnectAll borra todos los tokens del usuario (cascade de baja de cuenta).
func (a *Authenticator) DisconnectAll(ctx context.Context, userID string) error {
	return a.tokens.DeleteByUser(ctx, userID)
}
