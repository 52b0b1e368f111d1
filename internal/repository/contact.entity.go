package repository

import (
	"time"

	"github.com/reachforge/outreach-engine/internal/model"
)

type CampaignContactEntity struct {
	ID                   int64      `db:"id"                     gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID           int64      `db:"campaign_id"            gorm:"column:campaign_id;not null;index;uniqueIndex:idx_campaign_contact_profile"`
	Campaign             *CampaignEntity `gorm:"foreignKey:CampaignID;references:ID"`
	ContactID            int64      `db:"contact_id"             gorm:"column:contact_id;not null;index"`
	ProfileRef           string     `db:"profile_ref"            gorm:"column:profile_ref;not null;index;uniqueIndex:idx_campaign_contact_profile"`
	ContactName          string     `db:"contact_name"           gorm:"column:contact_name"`
	Status               string     `db:"status"                 gorm:"column:status;not null;default:'pending';index"`
	ConversationID       string     `db:"conversation_id"        gorm:"column:conversation_id;index"`
	PipelineStageID      *int64     `db:"pipeline_stage_id"      gorm:"column:pipeline_stage_id"`
	ConnectionSentAt     *time.Time `db:"connection_sent_at"     gorm:"column:connection_sent_at"`
	ConnectionAcceptedAt *time.Time `db:"connection_accepted_at" gorm:"column:connection_accepted_at"`
	ConnectionRejectedAt *time.Time `db:"connection_rejected_at" gorm:"column:connection_rejected_at"`
	FollowUpSentAt       *time.Time `db:"follow_up_sent_at"      gorm:"column:follow_up_sent_at"`
	ReplyReceivedAt      *time.Time `db:"reply_received_at"      gorm:"column:reply_received_at"`
	EnrolledAt           time.Time  `db:"enrolled_at"            gorm:"column:enrolled_at;autoCreateTime;index"`
}

func (CampaignContactEntity) TableName() string { return "campaign_contacts" }

func toContactEntity(c *model.CampaignContact) *CampaignContactEntity {
	if c == nil {
		return nil
	}
	return &CampaignContactEntity{
		ID:                   c.ID,
		CampaignID:           c.CampaignID,
		ContactID:            c.ContactID,
		ProfileRef:           c.ProfileRef,
		ContactName:          c.ContactName,
		Status:               c.Status.String(),
		ConversationID:       c.ConversationID,
		PipelineStageID:      c.PipelineStageID,
		ConnectionSentAt:     c.ConnectionSentAt,
		ConnectionAcceptedAt: c.ConnectionAcceptedAt,
		ConnectionRejectedAt: c.ConnectionRejectedAt,
		FollowUpSentAt:       c.FollowUpSentAt,
		ReplyReceivedAt:      c.ReplyReceivedAt,
		EnrolledAt:           c.EnrolledAt,
	}
}

func toContactModel(e *CampaignContactEntity) *model.CampaignContact {
	if e == nil {
		return nil
	}
	return &model.CampaignContact{
		ID:                   e.ID,
		CampaignID:           e.CampaignID,
		ContactID:            e.ContactID,
		ProfileRef:           e.ProfileRef,
		ContactName:          e.ContactName,
		Status:               model.ContactStatus(e.Status),
		ConversationID:       e.ConversationID,
		PipelineStageID:      e.PipelineStageID,
		ConnectionSentAt:     e.ConnectionSentAt,
		ConnectionAcceptedAt: e.ConnectionAcceptedAt,
		ConnectionRejectedAt: e.ConnectionRejectedAt,
		FollowUpSentAt:       e.FollowUpSentAt,
		ReplyReceivedAt:      e.ReplyReceivedAt,
		EnrolledAt:           e.EnrolledAt,
	}
}

func toContactModels(entities []*CampaignContactEntity) []*model.CampaignContact {
	if entities == nil {
		return nil
	}
	models := make([]*model.CampaignContact, len(entities))
	for i, e := range entities {
		models[i] = toContactModel(e)
	}
	return models
}
