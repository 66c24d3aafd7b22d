// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Startable reports whether a run may be launched from this status.
func (s CampaignStatus) Startable() bool {
	return s == CampaignDraft || s == CampaignScheduled || s == CampaignPaused
}

type Campaign struct {
	ID               int                `db:"id" json:"id"`
	OwnerID          string             `db:"owner_id" json:"owner_id"`
	Name             string             `db:"name" json:"name"`
	Channel          string             `db:"channel" json:"channel"`
	Status           CampaignStatus     `db:"status" json:"status"`
	BaseTemplate     string             `db:"base_template" json:"base_template"`
	TargetGroupIDs   []int64            `db:"target_group_ids" json:"target_group_ids"`
	TargetContactIDs []int64            `db:"target_contact_ids" json:"target_contact_ids"`
	AntiBlocking     AntiBlockingConfig `db:"anti_blocking" json:"anti_blocking"`
	Counters         CampaignCounters   `db:"-" json:"counters"`
	ScheduledAt      *time.Time         `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt        *time.Time         `db:"updated_at" json:"updated_at,omitempty"`
}

// CampaignCounters is the live progress of a run. Sent counts every attempt,
// Delivered and Failed split it; Skipped contacts count toward neither.
type CampaignCounters struct {
	Sent      int `db:"sent_count" json:"sent"`
	Delivered int `db:"delivered_count" json:"delivered"`
	Failed    int `db:"failed_count" json:"failed"`
	Skipped   int `db:"skipped_count" json:"skipped"`
}

type RotationStrategy string

const (
	RotationSequential   RotationStrategy = "sequential"
	RotationRandom       RotationStrategy = "random"
	RotationLoadBalanced RotationStrategy = "load_balanced"
)

// AntiBlockingConfig is stored as JSON alongside the campaign.
type AntiBlockingConfig struct {
	// Base delay between sends. When MaxDelayMs > MinDelayMs the delay is
	// drawn uniformly from [MinDelayMs, MaxDelayMs] instead.
	DelayMs    int `json:"delay_ms" yaml:"delay_ms"`
	MinDelayMs int `json:"min_delay_ms" yaml:"min_delay_ms"`
	MaxDelayMs int `json:"max_delay_ms" yaml:"max_delay_ms"`

	JitterPercent      int `json:"jitter_percent" yaml:"jitter_percent"`
	RotationCooldownMs int `json:"rotation_cooldown_ms" yaml:"rotation_cooldown_ms"`

	Rotation       RotationStrategy `json:"rotation" yaml:"rotation"`
	HourlyCap      int              `json:"hourly_cap" yaml:"hourly_cap"`
	ShuffleTargets bool             `json:"shuffle_targets" yaml:"shuffle_targets"`

	TypingSimulation bool `json:"typing_simulation" yaml:"typing_simulation"`
	TypingMinMs      int  `json:"typing_min_ms" yaml:"typing_min_ms"`
	TypingMaxMs      int  `json:"typing_max_ms" yaml:"typing_max_ms"`

	BusinessHoursOnly bool   `json:"business_hours_only" yaml:"business_hours_only"`
	BusinessStartHour int    `json:"business_start_hour" yaml:"business_start_hour"`
	BusinessEndHour   int    `json:"business_end_hour" yaml:"business_end_hour"`
	ExcludeWeekends   bool   `json:"exclude_weekends" yaml:"exclude_weekends"`
	Timezone          string `json:"timezone" yaml:"timezone"`
}

// WithDefaults fills zero fields from def.
func (c AntiBlockingConfig) WithDefaults(def AntiBlockingConfig) AntiBlockingConfig {
	if c.DelayMs == 0 && c.MinDelayMs == 0 && c.MaxDelayMs == 0 {
		c.DelayMs, c.MinDelayMs, c.MaxDelayMs = def.DelayMs, def.MinDelayMs, def.MaxDelayMs
	}
	if c.JitterPercent == 0 {
		c.JitterPercent = def.JitterPercent
	}
	if c.RotationCooldownMs == 0 {
		c.RotationCooldownMs = def.RotationCooldownMs
	}
	if c.Rotation == "" {
		c.Rotation = def.Rotation
	}
	if c.HourlyCap == 0 {
		c.HourlyCap = def.HourlyCap
	}
	if c.TypingMaxMs == 0 {
		c.TypingMinMs, c.TypingMaxMs = def.TypingMinMs, def.TypingMaxMs
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	return c
}
