package pg

import (
	"context"

	"github.com/google/uuid"

	"github.com/kalpesh05/omniad-ads-backend/internal/store/core"
)

// ReplaceForToken reemplaza el set de cuentas conectadas del token en una
// transacción: delete + insert, para que el probe post-callback deje siempre
// la foto completa.
func (s *Store) ReplaceForToken(ctx context.Context, tokenID uuid.UUID, accounts []core.ConnectedAccount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM connected_accounts WHERE token_id = $1`, tokenID); err != nil {
		return err
	}
	for _, a := range accounts {
		_, err := tx.Exec(ctx, `
			INSERT INTO connected_accounts
			    (token_id, account_id, account_name, platform, account_type, status)
			VALUES ($1, $2, NULLIF($3,''), $4, $5, NULLIF($6,''))`,
			tokenID, a.AccountID, a.AccountName, a.Platform, a.AccountType, a.Status,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListByToken(ctx context.Context, tokenID uuid.UUID) ([]core.ConnectedAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token_id, account_id, COALESCE(account_name,''), platform,
		       account_type, COALESCE(status,''), created_at
		  FROM connected_accounts
		 WHERE token_id = $1
		 ORDER BY account_id`,
		tokenID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ConnectedAccount
	for rows.Next() {
		var a core.ConnectedAccount
		if err := rows.Scan(&a.ID, &a.TokenID, &a.AccountID, &a.AccountName,
			&a.Platform, &a.AccountType, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteByToken(ctx context.Context, tokenID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM connected_accounts WHERE token_id = $1`, tokenID)
	return err
}
