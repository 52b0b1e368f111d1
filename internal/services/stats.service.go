package services

import (
	"context"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/logger"
)

type CampaignStore interface {
	Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error)
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	List(ctx context.Context, accountID *int64) ([]*model.Campaign, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	UpdateStatus(ctx context.Context, id int64, from, to model.CampaignStatus) (bool, error)
	UpdateTotals(ctx context.Context, id int64, totals model.CampaignTotals) error
}

// StatsService owns the denormalized campaign counters. Recompute derives
// totals from the contact table and overwrites whatever incremental updates
// left behind, so a lost increment is a transient skew, not a permanent one.
type StatsService struct {
	campaigns CampaignStore
	contacts  ContactStore
	stats     DailyStatStore
}

func NewStatsService(campaigns CampaignStore, contacts ContactStore, stats DailyStatStore) *StatsService {
	return &StatsService{
		campaigns: campaigns,
		contacts:  contacts,
		stats:     stats,
	}
}

// Recompute counts contacts by status and writes the derived totals.
// A contact in a later state counts toward every stage it passed through:
// a replied contact still counts as a sent connection, an accepted
// connection and a sent follow-up.
func (s *StatsService) Recompute(ctx context.Context, campaignID int64) (*model.CampaignTotals, error) {
	counts, err := s.contacts.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	totals := deriveTotals(counts)
	if err := s.campaigns.UpdateTotals(ctx, campaignID, totals); err != nil {
		return nil, err
	}

	s.maybeComplete(ctx, campaignID, counts, totals)
	return &totals, nil
}

func deriveTotals(counts map[model.ContactStatus]int) model.CampaignTotals {
	var t model.CampaignTotals
	for status, n := range counts {
		t.Contacts += n
		switch status {
		case model.ContactStatusConnectionSent:
			t.ConnectionsSent += n
		case model.ContactStatusConnected:
			t.ConnectionsSent += n
			t.ConnectionsAccepted += n
		case model.ContactStatusConnectionRejected:
			t.ConnectionsSent += n
			t.ConnectionsRejected += n
		case model.ContactStatusFollowUpSent:
			t.ConnectionsSent += n
			t.ConnectionsAccepted += n
			t.FollowUpsSent += n
		case model.ContactStatusReplied:
			t.ConnectionsSent += n
			t.ConnectionsAccepted += n
			t.FollowUpsSent += n
			t.RepliesReceived += n
		}
	}
	return t
}

// maybeComplete flips an active campaign to completed once every enrolled
// contact reached a terminal state. The status update is conditional, so a
// race with pause or stop simply loses.
func (s *StatsService) maybeComplete(ctx context.Context, campaignID int64, counts map[model.ContactStatus]int, totals model.CampaignTotals) {
	if totals.Contacts == 0 {
		return
	}
	for status, n := range counts {
		if n > 0 && !status.Terminal() {
			return
		}
	}

	applied, err := s.campaigns.UpdateStatus(ctx, campaignID,
		model.CampaignStatusActive, model.CampaignStatusCompleted)
	if err != nil {
		logger.Error("failed to mark campaign completed", "campaign_id", campaignID, "error", err)
		return
	}
	if applied {
		logger.Info("campaign completed, all contacts terminal", "campaign_id", campaignID)
	}
}

// DailyStats returns the per-day counters for a campaign, newest first.
func (s *StatsService) DailyStats(ctx context.Context, campaignID int64, limit int) ([]*model.DailyStat, error) {
	return s.stats.ListByCampaign(ctx, campaignID, limit)
}
