package repository

import (
	"context"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"gorm.io/gorm/clause"
)

type PipelineRepository struct {
	*pg.DB
}

func NewPipelineRepository(db *pg.DB) *PipelineRepository {
	return &PipelineRepository{
		db,
	}
}

// GetStages returns the pipeline's stages in position order.
func (r *PipelineRepository) GetStages(ctx context.Context, pipelineID int64) ([]*model.PipelineStage, error) {
	var entities []*PipelineStageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("pipeline_id = ?", pipelineID).
		Order("position ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	stages := make([]*model.PipelineStage, len(entities))
	for i, e := range entities {
		stages[i] = toStageModel(e)
	}
	return stages, nil
}

// UpsertAssignment moves a contact into a stage. One row per
// (pipeline, contact); calling it again with the same stage is a no-op
// write, which keeps the webhook and poller paths safe to overlap.
func (r *PipelineRepository) UpsertAssignment(ctx context.Context, pipelineID, contactID, stageID int64) error {
	entity := &PipelineAssignmentEntity{
		PipelineID: pipelineID,
		ContactID:  contactID,
		StageID:    stageID,
	}

	return r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pipeline_id"}, {Name: "contact_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stage_id", "updated_at"}),
		}).
		Create(entity).Error
}
