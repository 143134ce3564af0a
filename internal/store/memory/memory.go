// Package memory implementa los repositorios en memoria (dev/tests) sobre
// go-cache. Los secretos se guardan en claro: no usar en producción.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
)

type Store struct {
	mu       sync.Mutex
	tokens   *gocache.Cache
	accounts map[uuid.UUID][]core.ConnectedAccount
	now      func() time.Time
}

func New() *Store {
	return &Store{
		tokens:   gocache.New(gocache.NoExpiration, 0),
		accounts: make(map[uuid.UUID][]core.ConnectedAccount),
		now:      time.Now,
	}
}

func key(userID, platform string) string { return userID + "|" + platform }

func (s *Store) FindByUserAndPlatform(ctx context.Context, userID, platform string) (*core.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.tokens.Get(key(userID, platform))
	if !ok {
		return nil, core.ErrNotFound
	}
	rec := v.(core.TokenRecord) // copia por valor: el caller no muta el store
	return &rec, nil
}

func (s *Store) Upsert(ctx context.Context, userID, platform string, f core.TokenUpsert) (*core.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(userID, platform)
	var rec core.TokenRecord
	if v, ok := s.tokens.Get(k); ok {
		rec = v.(core.TokenRecord)
	} else {
		rec = core.TokenRecord{
			ID:        uuid.New(),
			UserID:    userID,
			Platform:  platform,
			CreatedAt: s.now(),
		}
	}
	rec.AccessToken = f.AccessToken
	rec.RefreshToken = f.RefreshToken
	rec.ExpiresAt = f.ExpiresAt
	if f.TokenType != "" {
		rec.TokenType = f.TokenType
	}
	if f.Scope != "" {
		rec.Scope = f.Scope
	}
	rec.NeedsReauth = false
	rec.LastRefreshed = f.LastRefreshed
	rec.UpdatedAt = s.now()

	s.tokens.Set(k, rec, gocache.NoExpiration)
	out := rec
	return &out, nil
}

func (s *Store) MarkForReauth(ctx context.Context, userID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(userID, platform)
	v, ok := s.tokens.Get(k)
	if !ok {
		return nil // idempotente, igual que el UPDATE sin filas
	}
	rec := v.(core.TokenRecord)
	rec.NeedsReauth = true
	rec.UpdatedAt = s.now()
	s.tokens.Set(k, rec, gocache.NoExpiration)
	return nil
}

func (s *Store) DeleteByUserAndPlatform(ctx context.Context, userID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.tokens.Get(key(userID, platform)); ok {
		delete(s.accounts, v.(core.TokenRecord).ID)
	}
	s.tokens.Delete(key(userID, platform))
	return nil
}

func (s *Store) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := userID + "|"
	for k, item := range s.tokens.Items() {
		if strings.HasPrefix(k, prefix) {
			delete(s.accounts, item.Object.(core.TokenRecord).ID)
			s.tokens.Delete(k)
		}
	}
	return nil
}

func (s *Store) ListUsersNeedingRefresh(ctx context.Context, within time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(within)
	seen := make(map[string]bool)
	var users []string
	for _, item := range s.tokens.Items() {
		rec := item.Object.(core.TokenRecord)
		if rec.RefreshToken == "" || rec.NeedsReauth {
			continue
		}
		if rec.ExpiresAt != nil && rec.ExpiresAt.After(cutoff) {
			continue
		}
		if !seen[rec.UserID] {
			seen[rec.UserID] = true
			users = append(users, rec.UserID)
		}
	}
	return users, nil
}

func (s *Store) ReplaceForToken(ctx context.Context, tokenID uuid.UUID, accounts []core.ConnectedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]core.ConnectedAccount, len(accounts))
	copy(cp, accounts)
	for i := range cp {
		if cp[i].ID == uuid.Nil {
			cp[i].ID = uuid.New()
		}
		cp[i].TokenID = tokenID
		if cp[i].CreatedAt.IsZero() {
			cp[i].CreatedAt = s.now()
		}
	}
	s.accounts[tokenID] = cp
	return nil
}

func (s *Store) ListByToken(ctx context.Context, tokenID uuid.UUID) ([]core.ConnectedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ConnectedAccount, len(s.accounts[tokenID]))
	copy(out, s.accounts[tokenID])
	return out, nil
}

func (s *Store) DeleteByToken(ctx context.Context, tokenID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, tokenID)
	return nil
}
