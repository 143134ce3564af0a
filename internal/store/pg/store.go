// Package pg implementa los repositorios sobre Postgres via pgx. Los secretos
// (access/refresh tokens) se sellan con secretbox antes de tocar la DB.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalpesh05/omniad-ads-backend/internal/security/secretbox"
)

type Store struct {
	pool *pgxpool.Pool
	box  *secretbox.Box
}

type Config struct {
	MaxOpenConns    int
	MinConns        int
	ConnMaxLifetime string
}

// New abre el pool. El ping inicial es informativo: la app puede arrancar con
// la DB caída y recuperarse.
func New(ctx context.Context, dsn string, cfg Config, box *secretbox.Box) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
			pcfg.MaxConnLifetime = d
			pcfg.MaxConnIdleTime = d
		}
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, box: box}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// seal cifra un secreto si hay box configurado; "" pasa como "".
func (s *Store) seal(v string) (string, error) {
	if s.box == nil || v == "" {
		return v, nil
	}
	out, err := s.box.Seal(v)
	if err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}
	return out, nil
}

func (s *Store) open(v string) (string, error) {
	if s.box == nil || v == "" {
		return v, nil
	}
	out, err := s.box.Open(v)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return out, nil
}
