package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	Create(ctx context.Context, c *model.Campaign) error

	// Run bookkeeping
	UpdateStatus(ctx context.Context, campaignID int, status model.CampaignStatus) error
	UpdateCounters(ctx context.Context, campaignID int, counters model.CampaignCounters) error
	DueScheduled(ctx context.Context, now time.Time) ([]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, owner_id, name, channel, status, base_template, target_group_ids, target_contact_ids,
	anti_blocking, sent_count, delivered_count, failed_count, skipped_count, scheduled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c  model.Campaign
		ab []byte
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Channel, &c.Status, &c.BaseTemplate,
		pq.Array(&c.TargetGroupIDs), pq.Array(&c.TargetContactIDs), &ab,
		&c.Counters.Sent, &c.Counters.Delivered, &c.Counters.Failed, &c.Counters.Skipped,
		&c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(ab) > 0 {
		if err := json.Unmarshal(ab, &c.AntiBlocking); err != nil {
			return nil, fmt.Errorf("decode anti_blocking for campaign %d: %w", c.ID, err)
		}
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	ab, err := json.Marshal(c.AntiBlocking)
	if err != nil {
		return fmt.Errorf("encode anti_blocking: %w", err)
	}
	query := `
        INSERT INTO campaigns (owner_id, name, channel, status, base_template, target_group_ids, target_contact_ids,
                               anti_blocking, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.OwnerID, c.Name, c.Channel, c.Status, c.BaseTemplate,
		pq.Array(c.TargetGroupIDs), pq.Array(c.TargetContactIDs), ab, c.ScheduledAt, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, campaignID int, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	res, err := r.DB.ExecContext(ctx, query, status, time.Now(), campaignID)
	if err != nil {
		return err
	}
	return requireRow(res, campaignID)
}

func (r *CampaignRepository) UpdateCounters(ctx context.Context, campaignID int, counters model.CampaignCounters) error {
	query := `
        UPDATE campaigns
        SET sent_count=$1, delivered_count=$2, failed_count=$3, skipped_count=$4, updated_at=NOW()
        WHERE id=$5
    `
	res, err := r.DB.ExecContext(ctx, query, counters.Sent, counters.Delivered, counters.Failed, counters.Skipped, campaignID)
	if err != nil {
		return err
	}
	return requireRow(res, campaignID)
}

func requireRow(res sql.Result, campaignID int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// campaignFilter builds the WHERE clause shared by the list and count queries.
func campaignFilter(channel, status string) (string, []any) {
	var (
		where strings.Builder
		args  []any
	)
	where.WriteString(" WHERE 1=1")
	if channel != "" {
		args = append(args, channel)
		fmt.Fprintf(&where, " AND channel=$%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		fmt.Fprintf(&where, " AND status=$%d", len(args))
	}
	return where.String(), args
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where, args := campaignFilter(channel, status)

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// DueScheduled returns Scheduled campaigns whose start time has passed.
func (r *CampaignRepository) DueScheduled(ctx context.Context, now time.Time) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2 ORDER BY scheduled_at`,
		model.CampaignScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
