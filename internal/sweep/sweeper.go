// Package sweep ejecuta el refresh proactivo: cada tick busca usuarios con
// tokens por vencer y los refresca en batch, sin esperar a que una request
// los necesite.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kalpesh05/omniad-ads-backend/internal/oauth"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
)

type Sweeper struct {
	Tokens   core.TokenRepository
	Auth     *oauth.Authenticator
	Interval time.Duration
	// Within define qué tan pronto es "por vencer". Default: 2x Interval,
	// así un token nunca vence entre dos barridas.
	Within time.Duration
	Log    *zap.Logger
}

func New(tokens core.TokenRepository, auth *oauth.Authenticator, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		Tokens:   tokens,
		Auth:     auth,
		Interval: interval,
		Within:   2 * interval,
		Log:      log,
	}
}

// RunOnce corre una sola pasada. Pensado para el comando `sweep` y cron jobs.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.sweep(ctx)
}

// Run bloquea hasta que el contexto se cancele. Corre una pasada inmediata y
// después una por tick.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	users, err := s.Tokens.ListUsersNeedingRefresh(ctx, s.Within)
	if err != nil {
		s.Log.Error("sweep: listing users failed", zap.Error(err))
		return
	}
	if len(users) == 0 {
		s.Log.Debug("sweep: nothing to refresh")
		return
	}

	var refreshed, failed int
	for _, uid := range users {
		if ctx.Err() != nil {
			return
		}
		out := s.Auth.RefreshAllUserTokens(ctx, uid, nil)
		for _, res := range out.Results {
			if res.Status == "refreshed" {
				refreshed++
			}
		}
		failed += len(out.Errors)
	}

	s.Log.Info("sweep done",
		zap.Int("users", len(users)),
		zap.Int("refreshed", refreshed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
}
