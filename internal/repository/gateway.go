package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

// Gateway bundles the repositories behind the broadcast executor's
// persistence contract.
type Gateway struct {
	Campaigns *CampaignRepository
	Contacts  *ContactRepository
	Accounts  *AccountRepository
	Messages  *OutboundMessageRepository
}

func NewGateway(db *sql.DB) *Gateway {
	return &Gateway{
		Campaigns: &CampaignRepository{DB: db},
		Contacts:  &ContactRepository{DB: db},
		Accounts:  &AccountRepository{DB: db},
		Messages:  &OutboundMessageRepository{DB: db},
	}
}

func (g *Gateway) GetCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return g.Campaigns.GetByID(ctx, id)
}

func (g *Gateway) GetContacts(ctx context.Context, ownerID string) ([]model.Contact, error) {
	return g.Contacts.ListByOwner(ctx, ownerID)
}

func (g *Gateway) GetConnectedAccounts(ctx context.Context, ownerID string) ([]model.Account, error) {
	return g.Accounts.ConnectedByOwner(ctx, ownerID)
}

func (g *Gateway) GetOrCreateConversation(ctx context.Context, ownerID string, contactID int64) (*model.Conversation, error) {
	return g.Contacts.GetOrCreateConversation(ctx, ownerID, contactID)
}

func (g *Gateway) CreateMessage(ctx context.Context, msg *model.OutboundMessage) error {
	return g.Messages.Create(ctx, msg)
}

func (g *Gateway) UpdateCampaignCounters(ctx context.Context, id int, counters model.CampaignCounters) error {
	return g.Campaigns.UpdateCounters(ctx, id, counters)
}

func (g *Gateway) UpdateCampaignStatus(ctx context.Context, id int, status model.CampaignStatus) error {
	return g.Campaigns.UpdateStatus(ctx, id, status)
}

func (g *Gateway) MessagedContactIDs(ctx context.Context, campaignID int) (map[int64]bool, error) {
	return g.Messages.MessagedContactIDs(ctx, campaignID)
}
