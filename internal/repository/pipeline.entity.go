package repository

import (
	"time"

	"github.com/reachforge/outreach-engine/internal/model"
)

type PipelineEntity struct {
	ID   int64  `db:"id"   gorm:"primaryKey;autoIncrement;column:id"`
	Name string `db:"name" gorm:"column:name;not null"`
}

func (PipelineEntity) TableName() string { return "pipelines" }

type PipelineStageEntity struct {
	ID         int64  `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	PipelineID int64  `db:"pipeline_id" gorm:"column:pipeline_id;not null;index"`
	Name       string `db:"name"        gorm:"column:name;not null"`
	Position   int    `db:"position"    gorm:"column:position;not null"`
}

func (PipelineStageEntity) TableName() string { return "pipeline_stages" }

type PipelineAssignmentEntity struct {
	ID         int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	PipelineID int64     `db:"pipeline_id" gorm:"column:pipeline_id;not null;uniqueIndex:idx_pipeline_assignment"`
	ContactID  int64     `db:"contact_id"  gorm:"column:contact_id;not null;uniqueIndex:idx_pipeline_assignment"`
	StageID    int64     `db:"stage_id"    gorm:"column:stage_id;not null"`
	UpdatedAt  time.Time `db:"updated_at"  gorm:"column:updated_at;autoUpdateTime"`
}

func (PipelineAssignmentEntity) TableName() string { return "pipeline_assignments" }

func toStageModel(e *PipelineStageEntity) *model.PipelineStage {
	if e == nil {
		return nil
	}
	return &model.PipelineStage{
		ID:         e.ID,
		PipelineID: e.PipelineID,
		Name:       e.Name,
		Position:   e.Position,
	}
}
