package repository

import (
	"context"
	"errors"
	"time"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrContactNotFound = errors.New("campaign contact not found")
)

type ContactRepository struct {
	*pg.DB
}

func NewContactRepository(db *pg.DB) *ContactRepository {
	return &ContactRepository{
		db,
	}
}

// TransitionChanges are the columns stamped together with a status flip.
// Nil fields are left untouched, so timestamps are only ever written by the
// one transition that owns them.
type TransitionChanges struct {
	ConnectionSentAt     *time.Time
	ConnectionAcceptedAt *time.Time
	ConnectionRejectedAt *time.Time
	FollowUpSentAt       *time.Time
	ReplyReceivedAt      *time.Time
	ConversationID       *string
	PipelineStageID      *int64
}

// Transition flips a contact from one status to another as a single
// conditional UPDATE (`WHERE id = ? AND status = ?`). Zero rows affected
// means the contact was not in the expected source state; the caller treats
// that as an idempotent no-op, not an error. The webhook and poller paths
// rely on this under concurrent delivery.
func (r *ContactRepository) Transition(ctx context.Context, id int64, from, to model.ContactStatus, changes TransitionChanges) (bool, error) {
	updates := map[string]interface{}{
		"status": to.String(),
	}
	if changes.ConnectionSentAt != nil {
		updates["connection_sent_at"] = *changes.ConnectionSentAt
	}
	if changes.ConnectionAcceptedAt != nil {
		updates["connection_accepted_at"] = *changes.ConnectionAcceptedAt
	}
	if changes.ConnectionRejectedAt != nil {
		updates["connection_rejected_at"] = *changes.ConnectionRejectedAt
	}
	if changes.FollowUpSentAt != nil {
		updates["follow_up_sent_at"] = *changes.FollowUpSentAt
	}
	if changes.ReplyReceivedAt != nil {
		updates["reply_received_at"] = *changes.ReplyReceivedAt
	}
	if changes.ConversationID != nil {
		updates["conversation_id"] = *changes.ConversationID
	}
	if changes.PipelineStageID != nil {
		updates["pipeline_stage_id"] = *changes.PipelineStageID
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&CampaignContactEntity{}).
		Where("id = ? AND status = ?", id, from.String()).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Enroll inserts a batch of contacts in `pending`, skipping pairs already
// enrolled in the campaign. Returns the number actually created.
func (r *ContactRepository) Enroll(ctx context.Context, campaignID int64, batch []model.EnrollContact) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	entities := make([]*CampaignContactEntity, 0, len(batch))
	for _, e := range batch {
		entities = append(entities, &CampaignContactEntity{
			CampaignID:  campaignID,
			ContactID:   e.ContactID,
			ProfileRef:  e.ProfileRef,
			ContactName: e.Name,
			Status:      model.ContactStatusPending.String(),
		})
	}

	result := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "profile_ref"}},
			DoNothing: true,
		}).
		Create(&entities)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (r *ContactRepository) GetByID(ctx context.Context, id int64) (*model.CampaignContact, error) {
	var entity CampaignContactEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return toContactModel(&entity), nil
}

// Find runs the typed contact query. ProviderAccountID resolves through
// campaign → account and restricts to active campaigns, which is exactly the
// lookup the webhook processor needs.
func (r *ContactRepository) Find(ctx context.Context, f model.ContactFilter) ([]*model.CampaignContact, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&CampaignContactEntity{})

	if f.CampaignID != nil {
		q = q.Where("campaign_contacts.campaign_id = ?", *f.CampaignID)
	}
	if f.ProviderAccountID != nil {
		q = q.Joins("JOIN campaigns ON campaigns.id = campaign_contacts.campaign_id").
			Joins("JOIN outreach_accounts ON outreach_accounts.id = campaigns.account_id").
			Where("outreach_accounts.provider_account_id = ?", *f.ProviderAccountID).
			Where("campaigns.status = ?", model.CampaignStatusActive.String())
	}
	if f.ProfileRef != nil {
		q = q.Where("campaign_contacts.profile_ref = ?", *f.ProfileRef)
	}
	if f.ConversationID != nil {
		q = q.Where("campaign_contacts.conversation_id = ?", *f.ConversationID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = s.String()
		}
		q = q.Where("campaign_contacts.status IN ?", statuses)
	}
	if f.EnrolledBefore != nil {
		q = q.Where("campaign_contacts.enrolled_at < ?", *f.EnrolledBefore)
	}

	order := "campaign_contacts.enrolled_at"
	if f.OldestFirst {
		order += " ASC"
	} else {
		order += " DESC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	} else if limit > 1000 {
		limit = 1000
	}

	var entities []*CampaignContactEntity
	if err := q.Order(order).Limit(limit).Find(&entities).Error; err != nil {
		return nil, err
	}
	return toContactModels(entities), nil
}

// FindFollowUpsDue selects connected contacts whose acceptance is at least
// the campaign's follow-up delay old.
func (r *ContactRepository) FindFollowUpsDue(ctx context.Context, campaignID int64, acceptedBefore time.Time, limit int) ([]*model.CampaignContact, error) {
	if limit <= 0 {
		limit = 50
	} else if limit > 1000 {
		limit = 1000
	}
	var entities []*CampaignContactEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("campaign_id = ? AND status = ? AND connection_accepted_at <= ?",
			campaignID, model.ContactStatusConnected.String(), acceptedBefore).
		Order("connection_accepted_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toContactModels(entities), nil
}

// CountByStatus recounts the campaign's contacts grouped by status in one
// query; the aggregator derives totals from this.
func (r *ContactRepository) CountByStatus(ctx context.Context, campaignID int64) (map[model.ContactStatus]int, error) {
	type row struct {
		Status string
		Count  int
	}
	var rows []row
	err := r.Read(ctx).WithContext(ctx).
		Model(&CampaignContactEntity{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.ContactStatus]int, len(rows))
	for _, r := range rows {
		counts[model.ContactStatus(r.Status)] = r.Count
	}
	return counts, nil
}
