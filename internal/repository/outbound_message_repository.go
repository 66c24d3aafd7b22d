package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

type OutboundMessageRepository struct {
	DB *sql.DB
}

// Create inserts a new outbound message into the database and returns the created ID
func (r *OutboundMessageRepository) Create(ctx context.Context, msg *model.OutboundMessage) error {
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	query := `
        INSERT INTO outbound_messages
        (campaign_id, contact_id, conversation_id, session_id, status, rendered_content, last_error, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx,
		query,
		msg.CampaignID,
		msg.ContactID,
		msg.ConversationID,
		msg.SessionID,
		msg.Status,
		msg.RenderedContent,
		msg.LastError,
		msg.CreatedAt,
		msg.UpdatedAt,
	).Scan(&msg.ID)
}

// GetByID fetches an outbound message by its ID
func (r *OutboundMessageRepository) GetByID(ctx context.Context, id int64) (*model.OutboundMessage, error) {
	query := `
        SELECT id, campaign_id, contact_id, COALESCE(conversation_id, 0), session_id, status, rendered_content,
               last_error, created_at, updated_at
        FROM outbound_messages
        WHERE id=$1
    `
	var msg model.OutboundMessage
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.CampaignID,
		&msg.ContactID,
		&msg.ConversationID,
		&msg.SessionID,
		&msg.Status,
		&msg.RenderedContent,
		&msg.LastError,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessagedContactIDs lists contacts that already have a record for the campaign.
func (r *OutboundMessageRepository) MessagedContactIDs(ctx context.Context, campaignID int) (map[int64]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT contact_id FROM outbound_messages WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// GetCampaignStats counts the campaign's messages by status.
func (r *OutboundMessageRepository) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM outbound_messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0, "pending": 0, "sent": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}
