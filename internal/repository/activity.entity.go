package repository

import (
	"time"

	"github.com/reachforge/outreach-engine/internal/model"
)

type CampaignActivityEntity struct {
	ID         int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID int64     `db:"campaign_id" gorm:"column:campaign_id;not null;index"`
	ContactID  *int64    `db:"contact_id"  gorm:"column:contact_id;index"`
	Kind       string    `db:"kind"        gorm:"column:kind;not null;index"`
	Message    string    `db:"message"     gorm:"column:message;not null"`
	Payload    []byte    `db:"payload"     gorm:"column:payload"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (CampaignActivityEntity) TableName() string { return "campaign_activities" }

func toActivityEntity(a *model.CampaignActivity) *CampaignActivityEntity {
	if a == nil {
		return nil
	}
	return &CampaignActivityEntity{
		ID:         a.ID,
		CampaignID: a.CampaignID,
		ContactID:  a.ContactID,
		Kind:       string(a.Kind),
		Message:    a.Message,
		Payload:    a.Payload,
		CreatedAt:  a.CreatedAt,
	}
}

func toActivityModel(e *CampaignActivityEntity) *model.CampaignActivity {
	if e == nil {
		return nil
	}
	return &model.CampaignActivity{
		ID:         e.ID,
		CampaignID: e.CampaignID,
		ContactID:  e.ContactID,
		Kind:       model.ActivityKind(e.Kind),
		Message:    e.Message,
		Payload:    e.Payload,
		CreatedAt:  e.CreatedAt,
	}
}

func toActivityModels(entities []*CampaignActivityEntity) []*model.CampaignActivity {
	if entities == nil {
		return nil
	}
	models := make([]*model.CampaignActivity, len(entities))
	for i, e := range entities {
		models[i] = toActivityModel(e)
	}
	return models
}
