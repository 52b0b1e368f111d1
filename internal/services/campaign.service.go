package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/logger"
)

var (
	ErrInvalidStatusChange = errors.New("invalid campaign status change")
	ErrCampaignClosed      = errors.New("campaign no longer accepts contacts")
)

// CampaignService owns campaign lifecycle and enrollment. Dispatching,
// reconciliation and webhook processing live in their own services; this one
// only moves campaigns between lifecycle states and feeds contacts in.
type CampaignService struct {
	campaigns  CampaignStore
	accounts   AccountStore
	contacts   ContactStore
	activities ActivityStore
	aggregator *StatsService
}

func NewCampaignService(campaigns CampaignStore, accounts AccountStore, contacts ContactStore, activities ActivityStore, aggregator *StatsService) *CampaignService {
	return &CampaignService{
		campaigns:  campaigns,
		accounts:   accounts,
		contacts:   contacts,
		activities: activities,
		aggregator: aggregator,
	}
}

func (s *CampaignService) Create(ctx context.Context, p model.CampaignCreateRequest) (*model.Campaign, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	// The account must exist before a campaign can reference it.
	if _, err := s.accounts.GetByID(ctx, p.AccountID); err != nil {
		return nil, err
	}

	campaign := &model.Campaign{
		AccountID:         p.AccountID,
		Name:              p.Name,
		Status:            model.CampaignStatusDraft,
		DailyLimit:        p.DailyLimit,
		ConnectionMessage: p.ConnectionMessage,
		FollowUpMessage:   p.FollowUpMessage,
		FollowUpDelayDays: p.FollowUpDelayDays,
		PipelineID:        p.PipelineID,
		Timezone:          p.Timezone,
	}

	created, err := s.campaigns.Create(ctx, campaign)
	if err != nil {
		return nil, err
	}

	logger.Info("Campaign created", "campaign_id", created.ID, "account_id", created.AccountID, "name", created.Name)

	return created, nil
}

func (s *CampaignService) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) List(ctx context.Context, accountID *int64) ([]*model.Campaign, error) {
	return s.campaigns.List(ctx, accountID)
}

func (s *CampaignService) Activate(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.setStatus(ctx, id, model.CampaignStatusActive)
}

func (s *CampaignService) Pause(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.setStatus(ctx, id, model.CampaignStatusPaused)
}

// Stop is final. In-flight dispatcher batches notice the change before their
// next send and abort.
func (s *CampaignService) Stop(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.setStatus(ctx, id, model.CampaignStatusStopped)
}

func (s *CampaignService) setStatus(ctx context.Context, id int64, to model.CampaignStatus) (*model.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !campaign.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChange, campaign.Status, to)
	}

	applied, err := s.campaigns.UpdateStatus(ctx, id, campaign.Status, to)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race with another lifecycle change; report the winner.
		return nil, fmt.Errorf("%w: campaign moved to another state concurrently", ErrInvalidStatusChange)
	}

	if _, err := s.activities.Append(ctx, &model.CampaignActivity{
		CampaignID: id,
		Kind:       model.ActivityCampaignStatus,
		Message:    fmt.Sprintf("campaign %s -> %s", campaign.Status, to),
	}); err != nil {
		logger.Error("failed to append status change activity", "campaign_id", id, "error", err)
	}

	logger.Info("Campaign status changed", "campaign_id", id, "from", campaign.Status, "to", to)

	campaign.Status = to
	return campaign, nil
}

// Enroll adds a batch of contacts to the campaign, skipping profile refs
// already enrolled. Returns the number of contacts actually added.
func (s *CampaignService) Enroll(ctx context.Context, campaignID int64, batch []model.EnrollContact) (int, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if campaign.Status == model.CampaignStatusStopped || campaign.Status == model.CampaignStatusCompleted {
		return 0, ErrCampaignClosed
	}

	for i, entry := range batch {
		if err := entry.Validate(); err != nil {
			return 0, fmt.Errorf("contact %d: %w", i, err)
		}
	}

	added, err := s.contacts.Enroll(ctx, campaignID, batch)
	if err != nil {
		return 0, err
	}

	if added > 0 {
		if _, err := s.activities.Append(ctx, &model.CampaignActivity{
			CampaignID: campaignID,
			Kind:       model.ActivityContactsEnrolled,
			Message:    fmt.Sprintf("%d contacts enrolled", added),
		}); err != nil {
			logger.Error("failed to append enrollment activity", "campaign_id", campaignID, "error", err)
		}

		if _, err := s.aggregator.Recompute(ctx, campaignID); err != nil {
			logger.Error("failed to recompute totals after enrollment", "campaign_id", campaignID, "error", err)
		}
	}

	logger.Info("Contacts enrolled", "campaign_id", campaignID, "requested", len(batch), "added", added)

	return added, nil
}

// Contacts lists the campaign's contacts per the filter.
func (s *CampaignService) Contacts(ctx context.Context, f model.ContactFilter) ([]*model.CampaignContact, error) {
	return s.contacts.Find(ctx, f)
}

// Activities returns the campaign's audit log, newest first.
func (s *CampaignService) Activities(ctx context.Context, f model.ActivityFilter) ([]*model.CampaignActivity, int64, error) {
	return s.activities.List(ctx, f)
}
