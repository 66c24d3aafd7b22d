package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

// AccountRepository stores linked accounts and per-owner cooldowns. It
// backs session.AccountStore.
type AccountRepository struct {
	DB *sql.DB
}

func (r *AccountRepository) MarkConnected(ctx context.Context, acc model.Account) error {
	query := `
        INSERT INTO linked_accounts (session_id, owner_id, phone_number, connected, connected_at)
        VALUES ($1, $2, $3, TRUE, NOW())
        ON CONFLICT (session_id) DO UPDATE
        SET owner_id = EXCLUDED.owner_id, phone_number = EXCLUDED.phone_number, connected = TRUE, connected_at = NOW()
    `
	_, err := r.DB.ExecContext(ctx, query, acc.SessionID, acc.OwnerID, acc.PhoneNumber)
	return err
}

func (r *AccountRepository) MarkDisconnected(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE linked_accounts SET connected = FALSE, disconnected_at = NOW() WHERE session_id = $1`, sessionID)
	return err
}

func (r *AccountRepository) SaveOwnerCooldown(ctx context.Context, ownerID string, until time.Time) error {
	query := `
        INSERT INTO owner_cooldowns (owner_id, cooldown_until)
        VALUES ($1, $2)
        ON CONFLICT (owner_id) DO UPDATE SET cooldown_until = GREATEST(owner_cooldowns.cooldown_until, EXCLUDED.cooldown_until)
    `
	_, err := r.DB.ExecContext(ctx, query, ownerID, until)
	return err
}

// ActiveCooldowns returns owners whose cooldown ends after now.
func (r *AccountRepository) ActiveCooldowns(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT owner_id, cooldown_until FROM owner_cooldowns WHERE cooldown_until > $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var (
			owner string
			until time.Time
		)
		if err := rows.Scan(&owner, &until); err != nil {
			return nil, err
		}
		out[owner] = until
	}
	return out, rows.Err()
}

// ConnectedByOwner lists accounts last seen connected, ordered by session id.
func (r *AccountRepository) ConnectedByOwner(ctx context.Context, ownerID string) ([]model.Account, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT session_id, owner_id, COALESCE(phone_number, '') FROM linked_accounts WHERE owner_id = $1 AND connected ORDER BY session_id`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.SessionID, &a.OwnerID, &a.PhoneNumber); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
