package repository

import (
	"time"

	"github.com/reachforge/outreach-engine/internal/model"
)

type CampaignEntity struct {
	ID                  int64     `db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	AccountID           int64     `db:"account_id"           gorm:"column:account_id;not null;index"`
	Account             *OutreachAccountEntity `gorm:"foreignKey:AccountID;references:ID"`
	Name                string    `db:"name"                 gorm:"column:name;not null"`
	Status              string    `db:"status"               gorm:"column:status;not null;default:'draft';index"`
	DailyLimit          *int      `db:"daily_limit"          gorm:"column:daily_limit"`
	ConnectionMessage   string    `db:"connection_message"   gorm:"column:connection_message;not null"`
	FollowUpMessage     string    `db:"follow_up_message"    gorm:"column:follow_up_message"`
	FollowUpDelayDays   int       `db:"follow_up_delay_days" gorm:"column:follow_up_delay_days;not null;default:0"`
	PipelineID          *int64    `db:"pipeline_id"          gorm:"column:pipeline_id"`
	Timezone            string    `db:"timezone"             gorm:"column:timezone"`
	TotalContacts       int       `db:"total_contacts"       gorm:"column:total_contacts;not null;default:0"`
	ConnectionsSent     int       `db:"connections_sent"     gorm:"column:connections_sent;not null;default:0"`
	ConnectionsAccepted int       `db:"connections_accepted" gorm:"column:connections_accepted;not null;default:0"`
	ConnectionsRejected int       `db:"connections_rejected" gorm:"column:connections_rejected;not null;default:0"`
	FollowUpsSent       int       `db:"follow_ups_sent"      gorm:"column:follow_ups_sent;not null;default:0"`
	RepliesReceived     int       `db:"replies_received"     gorm:"column:replies_received;not null;default:0"`
	CreatedAt           time.Time `db:"created_at"           gorm:"column:created_at;autoCreateTime"`
}

func (CampaignEntity) TableName() string { return "campaigns" }

func toCampaignEntity(c *model.Campaign) *CampaignEntity {
	if c == nil {
		return nil
	}
	return &CampaignEntity{
		ID:                  c.ID,
		AccountID:           c.AccountID,
		Name:                c.Name,
		Status:              c.Status.String(),
		DailyLimit:          c.DailyLimit,
		ConnectionMessage:   c.ConnectionMessage,
		FollowUpMessage:     c.FollowUpMessage,
		FollowUpDelayDays:   c.FollowUpDelayDays,
		PipelineID:          c.PipelineID,
		Timezone:            c.Timezone,
		TotalContacts:       c.Totals.Contacts,
		ConnectionsSent:     c.Totals.ConnectionsSent,
		ConnectionsAccepted: c.Totals.ConnectionsAccepted,
		ConnectionsRejected: c.Totals.ConnectionsRejected,
		FollowUpsSent:       c.Totals.FollowUpsSent,
		RepliesReceived:     c.Totals.RepliesReceived,
		CreatedAt:           c.CreatedAt,
	}
}

func toCampaignModel(e *CampaignEntity) *model.Campaign {
	if e == nil {
		return nil
	}
	return &model.Campaign{
		ID:                e.ID,
		AccountID:         e.AccountID,
		Name:              e.Name,
		Status:            model.CampaignStatus(e.Status),
		DailyLimit:        e.DailyLimit,
		ConnectionMessage: e.ConnectionMessage,
		FollowUpMessage:   e.FollowUpMessage,
		FollowUpDelayDays: e.FollowUpDelayDays,
		PipelineID:        e.PipelineID,
		Timezone:          e.Timezone,
		Totals: model.CampaignTotals{
			Contacts:            e.TotalContacts,
			ConnectionsSent:     e.ConnectionsSent,
			ConnectionsAccepted: e.ConnectionsAccepted,
			ConnectionsRejected: e.ConnectionsRejected,
			FollowUpsSent:       e.FollowUpsSent,
			RepliesReceived:     e.RepliesReceived,
		},
		CreatedAt: e.CreatedAt,
	}
}

func toCampaignModels(entities []*CampaignEntity) []*model.Campaign {
	if entities == nil {
		return nil
	}
	models := make([]*model.Campaign, len(entities))
	for i, e := range entities {
		models[i] = toCampaignModel(e)
	}
	return models
}
