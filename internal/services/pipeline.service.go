package services

import (
	"context"

	"github.com/reachforge/outreach-engine/internal/model"
)

type PipelineStore interface {
	GetStages(ctx context.Context, pipelineID int64) ([]*model.PipelineStage, error)
	UpsertAssignment(ctx context.Context, pipelineID, contactID, stageID int64) error
}

// PipelineService mirrors campaign-contact progress into a sales pipeline:
// connected lands in the second stage, replied in the third, clamped when
// the pipeline is shorter. Assignment is an upsert, so the webhook and
// poller paths can both report the same logical transition.
type PipelineService struct {
	pipelines PipelineStore
}

func NewPipelineService(pipelines PipelineStore) *PipelineService {
	return &PipelineService{
		pipelines: pipelines,
	}
}

func (s *PipelineService) SyncStage(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact, status model.ContactStatus) error {
	if campaign.PipelineID == nil {
		return nil
	}

	var index int
	switch status {
	case model.ContactStatusConnected:
		index = 1
	case model.ContactStatusReplied:
		index = 2
	default:
		return nil
	}

	stages, err := s.pipelines.GetStages(ctx, *campaign.PipelineID)
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		return nil
	}
	if index >= len(stages) {
		index = len(stages) - 1
	}

	stage := stages[index]
	if err := s.pipelines.UpsertAssignment(ctx, *campaign.PipelineID, contact.ID, stage.ID); err != nil {
		return err
	}

	contact.PipelineStageID = &stage.ID
	return nil
}
