// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/model"
	"github.com/unclebandit/linkcast-backend/internal/repository"
)

// StatsReader counts a campaign's message records by status.
type StatsReader interface {
	GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error)
}

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Stats        StatsReader
	Log          zerolog.Logger
}

type CampaignDetails struct {
	ID           int                      `json:"id"`
	OwnerID      string                   `json:"owner_id"`
	Name         string                   `json:"name"`
	Channel      string                   `json:"channel"`
	Status       model.CampaignStatus     `json:"status"`
	BaseTemplate string                   `json:"base_template"`
	AntiBlocking model.AntiBlockingConfig `json:"anti_blocking"`
	Counters     model.CampaignCounters   `json:"counters"`
	ScheduledAt  *time.Time               `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    *time.Time               `json:"updated_at"`
	Stats        map[string]int           `json:"stats"`
}

// CreateCampaignInput is the request to create a campaign.
type CreateCampaignInput struct {
	OwnerID          string                   `json:"owner_id"`
	Name             string                   `json:"name"`
	Channel          string                   `json:"channel"`
	BaseTemplate     string                   `json:"base_template"`
	TargetGroupIDs   []int64                  `json:"target_group_ids"`
	TargetContactIDs []int64                  `json:"target_contact_ids"`
	AntiBlocking     model.AntiBlockingConfig `json:"anti_blocking"`
	ScheduledAt      *string                  `json:"scheduled_at"`
}

// ValidationError marks a request the caller must fix.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

func (s *CampaignService) RenderPreview(ctx context.Context, campaignID int, contactID int64, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}

	contact, err := s.ContactRepo.GetByID(ctx, contactID)
	if err != nil {
		return "", err
	}
	if contact == nil {
		return "", &ValidationError{Field: "contact_id", Reason: "contact not found"}
	}

	template := campaign.BaseTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}

	if strings.TrimSpace(template) == "" {
		return "", &ValidationError{Field: "template", Reason: "template cannot be empty"}
	}

	return RenderForContact(template, *contact), nil
}

// CreateCampaign stores a Draft campaign, or a Scheduled one when a start
// time is given.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	switch {
	case strings.TrimSpace(in.OwnerID) == "":
		return nil, &ValidationError{Field: "owner_id", Reason: "required"}
	case strings.TrimSpace(in.Name) == "":
		return nil, &ValidationError{Field: "name", Reason: "required"}
	case strings.TrimSpace(in.BaseTemplate) == "":
		return nil, &ValidationError{Field: "base_template", Reason: "template cannot be empty"}
	}
	if err := validateAntiBlocking(in.AntiBlocking); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		OwnerID:          in.OwnerID,
		Name:             in.Name,
		Channel:          in.Channel,
		BaseTemplate:     in.BaseTemplate,
		TargetGroupIDs:   in.TargetGroupIDs,
		TargetContactIDs: in.TargetContactIDs,
		AntiBlocking:     in.AntiBlocking,
		Status:           model.CampaignDraft,
	}
	if c.Channel == "" {
		c.Channel = "whatsapp"
	}

	if in.ScheduledAt != nil {
		// parse scheduledAt string into time.Time
		t, err := time.Parse(time.RFC3339, *in.ScheduledAt)
		if err != nil {
			return nil, &ValidationError{Field: "scheduled_at", Reason: "must be RFC3339"}
		}
		c.ScheduledAt = &t
		c.Status = model.CampaignScheduled
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Log.Info().Int("campaign_id", c.ID).Str("owner_id", c.OwnerID).Str("status", string(c.Status)).Msg("campaign created")
	return c, nil
}

func validateAntiBlocking(c model.AntiBlockingConfig) error {
	switch {
	case c.DelayMs < 0 || c.MinDelayMs < 0 || c.MaxDelayMs < 0:
		return &ValidationError{Field: "anti_blocking", Reason: "delays must be >= 0"}
	case c.MaxDelayMs > 0 && c.MaxDelayMs < c.MinDelayMs:
		return &ValidationError{Field: "anti_blocking.max_delay_ms", Reason: "must be >= min_delay_ms"}
	case c.JitterPercent < 0 || c.JitterPercent > 100:
		return &ValidationError{Field: "anti_blocking.jitter_percent", Reason: "must be within [0, 100]"}
	case c.HourlyCap < 0:
		return &ValidationError{Field: "anti_blocking.hourly_cap", Reason: "must be >= 0"}
	case c.BusinessStartHour < 0 || c.BusinessStartHour > 23 || c.BusinessEndHour < 0 || c.BusinessEndHour > 24:
		return &ValidationError{Field: "anti_blocking", Reason: "business hours out of range"}
	}
	switch c.Rotation {
	case "", model.RotationSequential, model.RotationRandom, model.RotationLoadBalanced:
	default:
		return &ValidationError{Field: "anti_blocking.rotation", Reason: fmt.Sprintf("unknown strategy %q", c.Rotation)}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return &ValidationError{Field: "anti_blocking.timezone", Reason: err.Error()}
		}
	}
	return nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{"total": 0, "pending": 0, "sent": 0, "failed": 0}
	if s.Stats != nil {
		counted, err := s.Stats.GetCampaignStats(ctx, campaignID)
		if err != nil {
			s.Log.Error().Err(err).Int("campaign_id", campaignID).Msg("failed to count messages")
			return nil, err
		}
		for k, v := range counted {
			stats[k] = v
		}
	}

	return &CampaignDetails{
		ID:           campaign.ID,
		OwnerID:      campaign.OwnerID,
		Name:         campaign.Name,
		Channel:      campaign.Channel,
		Status:       campaign.Status,
		BaseTemplate: campaign.BaseTemplate,
		AntiBlocking: campaign.AntiBlocking,
		Counters:     campaign.Counters,
		ScheduledAt:  campaign.ScheduledAt,
		CreatedAt:    campaign.CreatedAt,
		UpdatedAt:    campaign.UpdatedAt,
		Stats:        stats,
	}, nil
}
