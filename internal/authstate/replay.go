package authstate

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
)

// ReplayGuard consume nonces de state: cada state se usa exactamente una vez
// por callback. Consume retorna false si el nonce ya fue usado.
type ReplayGuard interface {
	Consume(ctx context.Context, nonce string) (bool, error)
}

// MemoryGuard guarda nonces consumidos en memoria con TTL = ventana del state.
// Suficiente para single-node; para múltiples réplicas usar RedisGuard.
type MemoryGuard struct {
	c *gocache.Cache
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{c: gocache.New(Window, time.Minute)}
}

func (m *MemoryGuard) Consume(ctx context.Context, nonce string) (bool, error) {
	// Add falla si la key ya existe: eso es el replay.
	if err := m.c.Add(nonce, struct{}{}, Window); err != nil {
		return false, nil
	}
	return true, nil
}

// RedisGuard implementa el guard con SET NX, compartido entre réplicas.
type RedisGuard struct {
	c      *rdb.Client
	prefix string
}

func NewRedisGuard(c *rdb.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "adsauth:state:"
	}
	return &RedisGuard{c: c, prefix: prefix}
}

func (r *RedisGuard) Consume(ctx context.Context, nonce string) (bool, error) {
	return r.c.SetNX(ctx, r.prefix+nonce, 1, Window).Result()
}
