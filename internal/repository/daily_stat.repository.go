package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DailyStatRepository struct {
	*pg.DB
}

func NewDailyStatRepository(db *pg.DB) *DailyStatRepository {
	return &DailyStatRepository{
		db,
	}
}

// Increment adds delta to one counter of the (campaign, day) row, creating
// the row when absent. The upsert is additive (`SET x = x + delta`) so
// concurrent increments never lose updates.
func (r *DailyStatRepository) Increment(ctx context.Context, campaignID int64, day string, field model.StatField, delta int) error {
	if !field.Valid() {
		return fmt.Errorf("unknown stat field %q", field)
	}
	if delta == 0 {
		return nil
	}

	entity := &DailyStatEntity{
		CampaignID: campaignID,
		Day:        day,
	}
	col := string(field)
	switch field {
	case model.StatConnectionsSent:
		entity.ConnectionsSent = delta
	case model.StatConnectionsAccepted:
		entity.ConnectionsAccepted = delta
	case model.StatConnectionsRejected:
		entity.ConnectionsRejected = delta
	case model.StatFollowUpsSent:
		entity.FollowUpsSent = delta
	case model.StatReplies:
		entity.Replies = delta
	}

	return r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "campaign_id"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				col: gorm.Expr(col+" + ?", delta),
			}),
		}).
		Create(entity).Error
}

// Get returns the (campaign, day) row, or a zero-valued stat when no sends
// have been recorded yet; a missing row is not an error for rate limiting.
func (r *DailyStatRepository) Get(ctx context.Context, campaignID int64, day string) (*model.DailyStat, error) {
	var entity DailyStatEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("campaign_id = ? AND day = ?", campaignID, day).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.DailyStat{CampaignID: campaignID, Day: day}, nil
		}
		return nil, err
	}
	return toDailyStatModel(&entity), nil
}

func (r *DailyStatRepository) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*model.DailyStat, error) {
	if limit <= 0 || limit > 365 {
		limit = 30
	}
	var entities []*DailyStatEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("day DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	stats := make([]*model.DailyStat, len(entities))
	for i, e := range entities {
		stats[i] = toDailyStatModel(e)
	}
	return stats, nil
}
