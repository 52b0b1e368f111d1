package repository

import (
	"context"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/pg"
)

// ActivityRepository is append-only; activities are never updated or deleted.
type ActivityRepository struct {
	*pg.DB
}

func NewActivityRepository(db *pg.DB) *ActivityRepository {
	return &ActivityRepository{
		db,
	}
}

func (r *ActivityRepository) Append(ctx context.Context, a *model.CampaignActivity) (*model.CampaignActivity, error) {
	entity := toActivityEntity(a)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toActivityModel(entity), nil
}

func (r *ActivityRepository) List(ctx context.Context, f model.ActivityFilter) ([]*model.CampaignActivity, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&CampaignActivityEntity{}).
		Where("campaign_id = ?", f.CampaignID)

	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		q = q.Where("kind IN ?", kinds)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*CampaignActivityEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toActivityModels(entities), total, nil
}
