// omniad es el servicio de conexiones publicitarias: gestiona el ciclo de
// vida OAuth de Google Ads y la familia Meta para el resto del backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kalpesh05/omniad-ads-backend/internal/authstate"
	"github.com/kalpesh05/omniad-ads-backend/internal/config"
	"github.com/kalpesh05/omniad-ads-backend/internal/email"
	httpx "github.com/kalpesh05/omniad-ads-backend/internal/http"
	"github.com/kalpesh05/omniad-ads-backend/internal/http/handlers"
	"github.com/kalpesh05/omniad-ads-backend/internal/metrics"
	"github.com/kalpesh05/omniad-ads-backend/internal/oauth"
	"github.com/kalpesh05/omniad-ads-backend/internal/observability/logger"
	registry "github.com/kalpesh05/omniad-ads-backend/internal/platform"
	"github.com/kalpesh05/omniad-ads-backend/internal/security/secretbox"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/memory"
	"github.com/kalpesh05/omniad-ads-backend/internal/store/pg"
	"github.com/kalpesh05/omniad-ads-backend/internal/sweep"
	migrations "github.com/kalpesh05/omniad-ads-backend/migrations/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// sin .env seguimos con el entorno del sistema
		fmt.Fprintln(os.Stderr, "no .env file, using system environment")
	}

	var cfgPath string

	root := &cobra.Command{
		Use:   "omniad",
		Short: "Servicio de conexiones OAuth para plataformas publicitarias",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("CONFIG_PATH"), "ruta al YAML de configuración (opcional)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el API HTTP (y el sweep si está habilitado)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath)
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Corre una sola pasada de refresh proactivo y termina",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweepOnce(cfgPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones de Postgres embebidas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cfgPath)
		},
	}

	root.AddCommand(serveCmd, sweepCmd, migrateCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wiring agrupa lo que los comandos necesitan una vez armado el servicio.
type wiring struct {
	cfg     *config.Config
	log     *zap.Logger
	auth    *oauth.Authenticator
	tokens  core.TokenRepository
	health  func() error
	promReg *prometheus.Registry
	cleanup func()
}

func buildWiring(cfgPath string) (*wiring, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "omniad-ads",
	})
	log := logger.L()

	if cfg.Auth.StateSecret == "" {
		return nil, errors.New("STATE_SIGNING_SECRET es requerido")
	}

	reg := registry.New(registry.Credentials{
		GoogleClientID:     cfg.Platforms.Google.ClientID,
		GoogleClientSecret: cfg.Platforms.Google.ClientSecret,
		GoogleRedirectURI:  cfg.Platforms.Google.RedirectURI,
		FacebookAppID:      cfg.Platforms.Facebook.AppID,
		FacebookAppSecret:  cfg.Platforms.Facebook.AppSecret,
		FacebookRedirect:   cfg.Platforms.Facebook.RedirectURI,
	})

	var box *secretbox.Box
	if cfg.Auth.SecretboxKey != "" {
		box, err = secretbox.New(cfg.Auth.SecretboxKey)
		if err != nil {
			return nil, fmt.Errorf("secretbox: %w", err)
		}
	} else {
		log.Warn("SECRETBOX_MASTER_KEY no configurada, tokens se guardan en claro")
	}

	var (
		tokens   core.TokenRepository
		accounts core.AccountRepository
		health   func() error
		cleanup  = func() {}
	)
	switch cfg.Storage.Driver {
	case "pg", "postgres":
		st, err := pg.New(context.Background(), cfg.Storage.DSN, pg.Config{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		}, box)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		tokens, accounts = st, st
		health = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(ctx)
		}
		cleanup = st.Close
	case "memory":
		st := memory.New()
		tokens, accounts = st, st
		health = func() error { return nil }
	default:
		return nil, fmt.Errorf("storage driver desconocido: %q", cfg.Storage.Driver)
	}

	var guard authstate.ReplayGuard
	if cfg.Redis.Enabled {
		client := rdb.NewClient(&rdb.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		guard = authstate.NewRedisGuard(client, cfg.Redis.Prefix)
	} else {
		guard = authstate.NewMemoryGuard()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(promReg); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	states := authstate.NewCodec([]byte(cfg.Auth.StateSecret))
	exch := oauth.NewExchanger(reg)

	policy := oauth.DefaultRetryPolicy()
	if cfg.Refresh.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Refresh.MaxAttempts
	}
	policy.BaseDelay = cfg.BaseDelayDuration()

	refresher := oauth.NewRefresher(reg, tokens, exch, policy, logger.Named("refresher"))
	if cfg.SMTP.Enabled && cfg.SMTP.Host != "" && cfg.SMTP.NotifyTo != "" {
		sender := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		resolve := func(ctx context.Context, userID string) (string, error) {
			return cfg.SMTP.NotifyTo, nil
		}
		refresher.SetNotifier(email.NewReauthNotifier(sender, resolve, logger.Named("email")))
	}

	auth := oauth.NewAuthenticator(oauth.Deps{
		Registry:     reg,
		Tokens:       tokens,
		Accounts:     accounts,
		States:       states,
		Guard:        guard,
		Exch:         exch,
		Refresh:      refresher,
		Probe:        oauth.NewProbe(cfg.Platforms.Google.AdsDeveloperToken),
		Logger:       logger.Named("oauth"),
		ExpiryBuffer: time.Duration(cfg.Refresh.BufferMinutes) * time.Minute,
	})

	return &wiring{
		cfg:     cfg,
		log:     log,
		auth:    auth,
		tokens:  tokens,
		health:  health,
		promReg: promReg,
		cleanup: cleanup,
	}, nil
}

func runServe(cfgPath string) error {
	w, err := buildWiring(cfgPath)
	if err != nil {
		return err
	}
	defer w.cleanup()
	defer func() { _ = logger.Sync() }()

	router := httpx.NewRouter(httpx.RouterDeps{
		Log: w.log,
		Handlers: []httpx.Registrar{
			handlers.NewAdsAuthHandler(w.auth, logger.Named("http")),
		},
		Health:   w.health,
		Registry: w.promReg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if w.cfg.Sweep.Enabled {
		sw := sweep.New(w.tokens, w.auth, w.cfg.SweepIntervalDuration(), logger.Named("sweep"))
		go sw.Run(ctx)
	}

	srv := httpx.NewServer(w.cfg.Server.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		w.log.Info("http server listening", zap.String("addr", w.cfg.Server.Addr))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		w.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// runMigrate aplica los .sql embebidos en orden ascendente. Los archivos son
// idempotentes (IF NOT EXISTS) así que correr de más no rompe nada.
func runMigrate(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Storage.DSN == "" {
		return errors.New("DATABASE_URL es requerido para migrar")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("pgxpool: %w", err)
	}
	defer pool.Close()

	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
		fmt.Println("applied", name)
	}
	return nil
}

func runSweepOnce(cfgPath string) error {
	w, err := buildWiring(cfgPath)
	if err != nil {
		return err
	}
	defer w.cleanup()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sw := sweep.New(w.tokens, w.auth, w.cfg.SweepIntervalDuration(), logger.Named("sweep"))
	sw.RunOnce(ctx)
	return nil
}
