package oauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kalpesh05/omniad-ads-backend/internal/metrics"
	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
	"github.com/kalpesh05/omniad-ads-backend/internal/util"
)

// DefaultExpiryBuffer: un token que expira dentro de esta ventana se considera
// "expiring soon" y dispara refresh.
const DefaultExpiryBuffer = 10 * time.Minute

// ReauthNotifier avisa al usuario que debe reconectar una plataforma. Best
// effort: un fallo acá se loguea y no altera el resultado del refresh.
type ReauthNotifier interface {
	NotifyReauthRequired(ctx context.Context, userID, platformID string)
}

// Refresher ejecuta el grant refresh_token con reintentos acotados y persiste
// el resultado in-place. Refreshes concurrentes para el mismo (user, platform)
// se colapsan en una sola llamada al proveedor via singleflight.
type Refresher struct {
	registry *registry.Registry
	tokens   core.TokenRepository
	exch     *Exchanger
	policy   RetryPolicy
	log      *zap.Logger
	notifier ReauthNotifier
	now      func() time.Time

	sf singleflight.Group
}

func NewRefresher(reg *registry.Registry, tokens core.TokenRepository, exch *Exchanger, policy RetryPolicy, log *zap.Logger) *Refresher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{
		registry: reg,
		tokens:   tokens,
		exch:     exch,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
}

// SetNotifier engancha el aviso de re-auth (opcional).
func (r *Refresher) SetNotifier(n ReauthNotifier) { r.notifier = n }

// ExpiringSoon decide si un registro amerita refresh. Sin información de
// expiry se asume que sí: mejor un refresh de más que usar un token muerto.
func ExpiringSoon(rec *core.TokenRecord, buffer time.Duration) bool {
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	if rec == nil || rec.ExpiresAt == nil {
		return true
	}
	return !rec.ExpiresAt.After(time.Now().Add(buffer))
}

// Refresh refresca el token de (userID, platformID). La plataforma se
// canonicaliza (familia Meta comparte el registro de facebook). Retorna el
// registro actualizado o un RefreshError ya clasificado.
func (r *Refresher) Refresh(ctx context.Context, userID, platformID string) (*core.TokenRecord, error) {
	canonical := registry.TokenPlatform(platformID)
	key := userID + ":" + canonical

	v, err, _ := r.sf.Do(key, func() (any, error) {
		return r.refreshOne(ctx, userID, platformID, canonical)
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.TokenRecord), nil
}

func (r *Refresher) refreshOne(ctx context.Context, userID, platformID, canonical string) (*core.TokenRecord, error) {
	start := r.now()
	defer func() {
		metrics.RefreshDuration.WithLabelValues(canonical).
			Observe(float64(r.now().Sub(start).Milliseconds()))
	}()

	rec, err := r.tokens.FindByUserAndPlatform(ctx, userID, canonical)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if rec.NeedsReauth {
		// Un registro marcado solo sale de ese estado con un callback nuevo
		// (consent del usuario); un refresh directo no lo rehabilita.
		metrics.RefreshTotal.WithLabelValues(canonical, "terminal").Inc()
		return nil, &RefreshError{Platform: canonical, Terminal: true, Err: errors.New("marked for re-authentication")}
	}
	if !rec.HasRefreshToken() {
		// Sin refresh token no hay nada que intentar: terminal directo.
		r.markReauth(ctx, userID, canonical)
		metrics.RefreshTotal.WithLabelValues(canonical, "terminal").Inc()
		return nil, &RefreshError{Platform: canonical, Terminal: true, Err: errors.New("no refresh token stored")}
	}

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		metrics.RefreshAttempts.WithLabelValues(canonical).Inc()
		r.log.Debug("refresh_attempt",
			zap.String("user_id", userID),
			zap.String("platform", canonical),
			zap.Int("attempt", attempt),
		)

		tok, err := r.exch.refreshGrant(ctx, canonical, rec.RefreshToken)
		if err == nil {
			updated, perr := r.persist(ctx, rec, tok)
			if perr != nil {
				return nil, perr
			}
			metrics.RefreshTotal.WithLabelValues(canonical, "ok").Inc()
			r.log.Info("refresh_ok",
				zap.String("user_id", userID),
				zap.String("platform", canonical),
				zap.Int("attempt", attempt),
				zap.String("access_token", util.MaskSecret(updated.AccessToken)),
			)
			return updated, nil
		}

		lastErr = err
		r.log.Warn("refresh_attempt_failed",
			zap.String("user_id", userID),
			zap.String("platform", canonical),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if r.policy.IsTerminal(err) {
			r.markReauth(ctx, userID, canonical)
			metrics.RefreshTotal.WithLabelValues(canonical, "terminal").Inc()
			return nil, &RefreshError{Platform: canonical, Terminal: true, Attempts: attempt, Err: err}
		}
		if attempt < r.policy.MaxAttempts {
			if serr := sleep(ctx, r.policy.delay(attempt)); serr != nil {
				return nil, &RefreshError{Platform: canonical, Attempts: attempt, Err: serr}
			}
		}
	}

	// Presupuesto agotado con fallos transitorios.
	r.markReauth(ctx, userID, canonical)
	metrics.RefreshTotal.WithLabelValues(canonical, "exhausted").Inc()
	return nil, &RefreshError{Platform: canonical, Exhausted: true, Attempts: r.policy.MaxAttempts, Err: lastErr}
}

// persist escribe el refresh exitoso in-place sobre la identidad existente.
// Si el proveedor no devolvió refresh_token nuevo se conserva el anterior
// (la mayoría no lo rota).
func (r *Refresher) persist(ctx context.Context, rec *core.TokenRecord, tok Token) (*core.TokenRecord, error) {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = rec.RefreshToken
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = rec.TokenType
	}
	scope := tok.Scope
	if scope == "" {
		scope = rec.Scope
	}
	return r.tokens.Upsert(ctx, rec.UserID, rec.Platform, core.TokenUpsert{
		AccessToken:   tok.AccessToken,
		RefreshToken:  refresh,
		ExpiresAt:     tok.ExpiresAt,
		TokenType:     tokenType,
		Scope:         scope,
		LastRefreshed: r.now(),
	})
}

func (r *Refresher) markReauth(ctx context.Context, userID, platformID string) {
	if err := r.tokens.MarkForReauth(ctx, userID, platformID); err != nil {
		r.log.Warn("mark_reauth_failed",
			zap.String("user_id", userID),
			zap.String("platform", platformID),
			zap.Error(err),
		)
		return
	}
	r.notifyReauth(ctx, userID, platformID)
}

func (r *Refresher) notifyReauth(ctx context.Context, userID, platformID string) {
	if r.notifier == nil {
		return
	}
	r.notifier.NotifyReauthRequired(ctx, userID, platformID)
}
