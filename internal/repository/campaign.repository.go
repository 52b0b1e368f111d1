package repository

import (
	"context"
	"errors"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
)

type CampaignRepository struct {
	*pg.DB
}

func NewCampaignRepository(db *pg.DB) *CampaignRepository {
	return &CampaignRepository{
		db,
	}
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	entity := toCampaignEntity(c)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toCampaignModel(entity), nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var entity CampaignEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return toCampaignModel(&entity), nil
}

func (r *CampaignRepository) List(ctx context.Context, accountID *int64) ([]*model.Campaign, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&CampaignEntity{})
	if accountID != nil {
		q = q.Where("account_id = ?", *accountID)
	}

	var entities []*CampaignEntity
	if err := q.Order("created_at ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toCampaignModels(entities), nil
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	var entities []*CampaignEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("status = ?", status.String()).
		Order("created_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toCampaignModels(entities), nil
}

// UpdateStatus moves a campaign from one lifecycle status to another as a
// single conditional update. Returns false when the campaign was not in the
// expected source status, which callers treat as a concurrent change, not an
// error.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&CampaignEntity{}).
		Where("id = ? AND status = ?", id, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateTotals overwrites the denormalized counters in one pass. Only the
// aggregator calls this; the hot path goes through DailyStatRepository.
func (r *CampaignRepository) UpdateTotals(ctx context.Context, id int64, totals model.CampaignTotals) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&CampaignEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_contacts":       totals.Contacts,
			"connections_sent":     totals.ConnectionsSent,
			"connections_accepted": totals.ConnectionsAccepted,
			"connections_rejected": totals.ConnectionsRejected,
			"follow_ups_sent":      totals.FollowUpsSent,
			"replies_received":     totals.RepliesReceived,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}
