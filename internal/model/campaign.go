package model

import (
	"errors"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusStopped   CampaignStatus = "stopped"
	CampaignStatusCompleted CampaignStatus = "completed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused,
		CampaignStatusStopped, CampaignStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces draft→active, active↔paused, {active,paused}→stopped
// and active→completed. Stopped and completed are final.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignStatusDraft:
		return next == CampaignStatusActive
	case CampaignStatusActive:
		return next == CampaignStatusPaused || next == CampaignStatusStopped || next == CampaignStatusCompleted
	case CampaignStatusPaused:
		return next == CampaignStatusActive || next == CampaignStatusStopped
	default:
		return false
	}
}

// CampaignTotals are denormalized dashboard counters. They are a derived
// projection: Recompute over the contact set always wins over increments.
type CampaignTotals struct {
	Contacts            int `json:"contacts"            gorm:"column:total_contacts;not null;default:0"`
	ConnectionsSent     int `json:"connections_sent"    gorm:"column:connections_sent;not null;default:0"`
	ConnectionsAccepted int `json:"connections_accepted" gorm:"column:connections_accepted;not null;default:0"`
	ConnectionsRejected int `json:"connections_rejected" gorm:"column:connections_rejected;not null;default:0"`
	FollowUpsSent       int `json:"follow_ups_sent"     gorm:"column:follow_ups_sent;not null;default:0"`
	RepliesReceived     int `json:"replies_received"    gorm:"column:replies_received;not null;default:0"`
}

type Campaign struct {
	ID                int64            `json:"id"`
	AccountID         int64            `json:"account_id"`
	Account           *OutreachAccount `json:"-" gorm:"foreignKey:AccountID;references:ID"`
	Name              string           `json:"name"`
	Status            CampaignStatus   `json:"status"`
	DailyLimit        *int             `json:"daily_limit,omitempty"` // overrides the account default when set
	ConnectionMessage string           `json:"connection_message"`
	FollowUpMessage   string           `json:"follow_up_message"`
	FollowUpDelayDays int              `json:"follow_up_delay_days"`
	PipelineID        *int64           `json:"pipeline_id,omitempty"`
	Timezone          string           `json:"timezone"`
	Totals            CampaignTotals   `json:"totals" gorm:"embedded"`
	CreatedAt         time.Time        `json:"created_at"`
}

func (Campaign) TableName() string { return "campaigns" }

// EffectiveDailyLimit resolves the per-day connection budget: the campaign
// override when present, else the account default.
func (c *Campaign) EffectiveDailyLimit(account *OutreachAccount) int {
	if c.DailyLimit != nil {
		return *c.DailyLimit
	}
	if account != nil {
		return account.DailyLimit
	}
	return 0
}

// Location resolves the campaign timezone; DailyStat rows are keyed by the
// calendar day in this location.
func (c *Campaign) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CampaignCreateRequest is the input for creating a campaign.
type CampaignCreateRequest struct {
	AccountID         int64
	Name              string
	DailyLimit        *int
	ConnectionMessage string
	FollowUpMessage   string
	FollowUpDelayDays int
	PipelineID        *int64
	Timezone          string
}

func (p CampaignCreateRequest) Validate() error {
	if p.AccountID == 0 {
		return errors.New("account_id is required")
	}
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.ConnectionMessage == "" {
		return errors.New("connection_message is required")
	}
	if p.DailyLimit != nil && *p.DailyLimit < 0 {
		return errors.New("daily_limit must be >= 0")
	}
	if p.FollowUpDelayDays < 0 {
		return errors.New("follow_up_delay_days must be >= 0")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return errors.New("invalid timezone")
		}
	}
	return nil
}
