package model

import "time"

// Pipeline is a CRM-visible ordered set of stages. The engine only reads the
// stage list and upserts assignments; pipeline management itself lives in the
// CRM surface.
type Pipeline struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (Pipeline) TableName() string { return "pipelines" }

type PipelineStage struct {
	ID         int64  `json:"id"`
	PipelineID int64  `json:"pipeline_id"`
	Name       string `json:"name"`
	Position   int    `json:"position"` // 0-based order within the pipeline
}

func (PipelineStage) TableName() string { return "pipeline_stages" }

// PipelineAssignment maps a campaign contact to its current stage. One row
// per (pipeline, contact); moving a contact is an upsert so the webhook and
// poller paths can both report the same logical transition.
type PipelineAssignment struct {
	ID         int64     `json:"id"`
	PipelineID int64     `json:"pipeline_id"`
	ContactID  int64     `json:"contact_id"` // campaign_contact id
	StageID    int64     `json:"stage_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (PipelineAssignment) TableName() string { return "pipeline_assignments" }
