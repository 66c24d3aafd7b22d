package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by service
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Contact, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Contact, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

const contactSelect = `
        SELECT c.id, c.owner_id, c.phone, c.first_name, c.last_name, c.is_blocked,
               COALESCE(array_agg(m.group_id) FILTER (WHERE m.group_id IS NOT NULL), '{}')
        FROM contacts c
        LEFT JOIN contact_group_members m ON m.contact_id = c.id
`

func scanContact(row rowScanner) (model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.OwnerID, &c.Phone, &c.FirstName, &c.LastName, &c.IsBlocked, pq.Array(&c.GroupIDs))
	return c, err
}

// GetByID fetches a contact by ID, or nil when it does not exist.
func (r *ContactRepository) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
	row := r.DB.QueryRowContext(ctx, contactSelect+` WHERE c.id = $1 GROUP BY c.id`, id)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

// ListByOwner fetches every contact of ownerID with its group memberships.
func (r *ContactRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.Contact, error) {
	rows, err := r.DB.QueryContext(ctx, contactSelect+` WHERE c.owner_id = $1 GROUP BY c.id ORDER BY c.id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// GetOrCreateConversation returns the conversation between ownerID and the
// contact, creating it on first use.
func (r *ContactRepository) GetOrCreateConversation(ctx context.Context, ownerID string, contactID int64) (*model.Conversation, error) {
	query := `
        INSERT INTO conversations (owner_id, contact_id)
        VALUES ($1, $2)
        ON CONFLICT (owner_id, contact_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
        RETURNING id
    `
	conv := &model.Conversation{OwnerID: ownerID, ContactID: contactID}
	if err := r.DB.QueryRowContext(ctx, query, ownerID, contactID).Scan(&conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
