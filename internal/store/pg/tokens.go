package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
)

const tokenCols = `id, user_id, platform, access_token, refresh_token, expires_at,
	token_type, scope, needs_reauth, last_refreshed, created_at, updated_at`

func (s *Store) FindByUserAndPlatform(ctx context.Context, userID, platform string) (*core.TokenRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenCols+`
		  FROM ads_tokens
		 WHERE user_id = $1 AND platform = $2`,
		userID, platform,
	)
	rec, err := s.scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Upsert escribe in-place sobre la clave única (user_id, platform). ON
// CONFLICT garantiza un solo registro por identidad; la fila se actualiza de
// forma atómica (last-write-wins). Un token nuevo limpia needs_reauth.
func (s *Store) Upsert(ctx context.Context, userID, platform string, f core.TokenUpsert) (*core.TokenRecord, error) {
	access, err := s.seal(f.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := s.seal(f.RefreshToken)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO ads_tokens
		    (user_id, platform, access_token, refresh_token, expires_at, token_type, scope, last_refreshed)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, NULLIF($6,''), NULLIF($7,''), $8)
		ON CONFLICT (user_id, platform) DO UPDATE SET
		    access_token   = EXCLUDED.access_token,
		    refresh_token  = EXCLUDED.refresh_token,
		    expires_at     = EXCLUDED.expires_at,
		    token_type     = COALESCE(EXCLUDED.token_type, ads_tokens.token_type),
		    scope          = COALESCE(EXCLUDED.scope, ads_tokens.scope),
		    needs_reauth   = FALSE,
		    last_refreshed = EXCLUDED.last_refreshed,
		    updated_at     = now()
		RETURNING `+tokenCols,
		userID, platform, access, refresh, f.ExpiresAt, f.TokenType, f.Scope, f.LastRefreshed,
	)
	return s.scanToken(row)
}

func (s *Store) MarkForReauth(ctx context.Context, userID, platform string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ads_tokens
		   SET needs_reauth = TRUE, updated_at = now()
		 WHERE user_id = $1 AND platform = $2`,
		userID, platform,
	)
	return err
}

func (s *Store) DeleteByUserAndPlatform(ctx context.Context, userID, platform string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ads_tokens WHERE user_id = $1 AND platform = $2`,
		userID, platform,
	)
	return err
}

func (s *Store) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ads_tokens WHERE user_id = $1`, userID)
	return err
}

func (s *Store) ListUsersNeedingRefresh(ctx context.Context, within time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT user_id
		  FROM ads_tokens
		 WHERE refresh_token IS NOT NULL
		   AND needs_reauth = FALSE
		   AND (expires_at IS NULL OR expires_at < now() + $1::interval)`,
		within.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) scanToken(row pgx.Row) (*core.TokenRecord, error) {
	var (
		rec       core.TokenRecord
		refresh   *string
		tokenType *string
		scope     *string
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Platform, &rec.AccessToken, &refresh,
		&rec.ExpiresAt, &tokenType, &scope, &rec.NeedsReauth,
		&rec.LastRefreshed, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if refresh != nil {
		rec.RefreshToken = *refresh
	}
	if tokenType != nil {
		rec.TokenType = *tokenType
	}
	if scope != nil {
		rec.Scope = *scope
	}
	if rec.AccessToken, err = s.open(rec.AccessToken); err != nil {
		return nil, err
	}
	if rec.RefreshToken, err = s.open(rec.RefreshToken); err != nil {
		return nil, err
	}
	return &rec, nil
}
