package services

import (
	"context"
	"fmt"
	"time"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/internal/repository"
	"github.com/reachforge/outreach-engine/pkg/logger"
)

// ContactStore is the persistence surface the state machine needs. The
// Transition implementation must be a single conditional update: flip the
// status only when the row is still in the expected source state.
type ContactStore interface {
	Transition(ctx context.Context, id int64, from, to model.ContactStatus, changes repository.TransitionChanges) (bool, error)
	GetByID(ctx context.Context, id int64) (*model.CampaignContact, error)
	Find(ctx context.Context, f model.ContactFilter) ([]*model.CampaignContact, error)
	FindFollowUpsDue(ctx context.Context, campaignID int64, acceptedBefore time.Time, limit int) ([]*model.CampaignContact, error)
	Enroll(ctx context.Context, campaignID int64, batch []model.EnrollContact) (int, error)
	CountByStatus(ctx context.Context, campaignID int64) (map[model.ContactStatus]int, error)
}

type ActivityStore interface {
	Append(ctx context.Context, a *model.CampaignActivity) (*model.CampaignActivity, error)
	List(ctx context.Context, f model.ActivityFilter) ([]*model.CampaignActivity, int64, error)
}

type DailyStatStore interface {
	Increment(ctx context.Context, campaignID int64, day string, field model.StatField, delta int) error
	Get(ctx context.Context, campaignID int64, day string) (*model.DailyStat, error)
	ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*model.DailyStat, error)
}

// PipelineSynchronizer mirrors contact progress into the CRM pipeline.
type PipelineSynchronizer interface {
	SyncStage(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact, status model.ContactStatus) error
}

// TransitionResult reports what a state machine command did. Applied is
// false when the contact was not in the required source state; that is the
// expected outcome under duplicate delivery, never an error.
type TransitionResult struct {
	Applied bool
	Status  model.ContactStatus
}

// TransitionService is the contact state machine. Every component that moves
// a contact through the lifecycle goes through these commands; nothing else
// writes contact status.
type TransitionService struct {
	contacts   ContactStore
	activities ActivityStore
	stats      DailyStatStore
	pipeline   PipelineSynchronizer
	now        func() time.Time
}

func NewTransitionService(contacts ContactStore, activities ActivityStore, stats DailyStatStore, pipeline PipelineSynchronizer) *TransitionService {
	return &TransitionService{
		contacts:   contacts,
		activities: activities,
		stats:      stats,
		pipeline:   pipeline,
		now:        time.Now,
	}
}

// MarkConnectionSent: pending → connection_sent. Guards against duplicate
// dispatch; a no-op when the contact already progressed.
func (s *TransitionService) MarkConnectionSent(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact) (TransitionResult, error) {
	now := s.now().UTC()
	applied, err := s.contacts.Transition(ctx, contact.ID,
		model.ContactStatusPending, model.ContactStatusConnectionSent,
		repository.TransitionChanges{ConnectionSentAt: &now})
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		return s.noop(ctx, contact)
	}

	contact.Status = model.ContactStatusConnectionSent
	contact.ConnectionSentAt = &now

	s.recordSideEffects(ctx, campaign, contact, now, sideEffects{
		kind:    model.ActivityConnectionSent,
		message: fmt.Sprintf("connection request sent to %s", contact.ProfileRef),
		stat:    model.StatConnectionsSent,
	})
	return TransitionResult{Applied: true, Status: contact.Status}, nil
}

// MarkConnected: connection_sent → connected. Stores the conversation handle
// the provider opened for the new connection.
func (s *TransitionService) MarkConnected(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact, conversationID string) (TransitionResult, error) {
	now := s.now().UTC()
	changes := repository.TransitionChanges{ConnectionAcceptedAt: &now}
	if conversationID != "" {
		changes.ConversationID = &conversationID
	}

	applied, err := s.contacts.Transition(ctx, contact.ID,
		model.ContactStatusConnectionSent, model.ContactStatusConnected, changes)
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		return s.noop(ctx, contact)
	}

	contact.Status = model.ContactStatusConnected
	contact.ConnectionAcceptedAt = &now
	if conversationID != "" {
		contact.ConversationID = conversationID
	}

	s.recordSideEffects(ctx, campaign, contact, now, sideEffects{
		kind:    model.ActivityConnectionAccepted,
		message: fmt.Sprintf("connection accepted by %s", contact.ProfileRef),
		stat:    model.StatConnectionsAccepted,
		sync:    true,
	})
	return TransitionResult{Applied: true, Status: contact.Status}, nil
}

// MarkRejected: connection_sent → connection_rejected. Terminal unless the
// campaign explicitly re-enrolls the contact.
func (s *TransitionService) MarkRejected(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact) (TransitionResult, error) {
	now := s.now().UTC()
	applied, err := s.contacts.Transition(ctx, contact.ID,
		model.ContactStatusConnectionSent, model.ContactStatusConnectionRejected,
		repository.TransitionChanges{ConnectionRejectedAt: &now})
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		return s.noop(ctx, contact)
	}

	contact.Status = model.ContactStatusConnectionRejected
	contact.ConnectionRejectedAt = &now

	s.recordSideEffects(ctx, campaign, contact, now, sideEffects{
		kind:    model.ActivityConnectionRejected,
		message: fmt.Sprintf("connection rejected by %s", contact.ProfileRef),
		stat:    model.StatConnectionsRejected,
	})
	return TransitionResult{Applied: true, Status: contact.Status}, nil
}

// MarkFollowUpSent: connected → follow_up_sent.
func (s *TransitionService) MarkFollowUpSent(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact) (TransitionResult, error) {
	now := s.now().UTC()
	applied, err := s.contacts.Transition(ctx, contact.ID,
		model.ContactStatusConnected, model.ContactStatusFollowUpSent,
		repository.TransitionChanges{FollowUpSentAt: &now})
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		return s.noop(ctx, contact)
	}

	contact.Status = model.ContactStatusFollowUpSent
	contact.FollowUpSentAt = &now

	s.recordSideEffects(ctx, campaign, contact, now, sideEffects{
		kind:    model.ActivityFollowUpSent,
		message: fmt.Sprintf("follow-up sent to %s", contact.ProfileRef),
		stat:    model.StatFollowUpsSent,
	})
	return TransitionResult{Applied: true, Status: contact.Status}, nil
}

// MarkReplied: follow_up_sent → replied. reply_received_at is the reply's
// own timestamp, not wall-clock receipt time, so the webhook and poller
// paths converge on the same value no matter which observed it first.
func (s *TransitionService) MarkReplied(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact, replyTimestamp time.Time) (TransitionResult, error) {
	ts := replyTimestamp.UTC()
	applied, err := s.contacts.Transition(ctx, contact.ID,
		model.ContactStatusFollowUpSent, model.ContactStatusReplied,
		repository.TransitionChanges{ReplyReceivedAt: &ts})
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		return s.noop(ctx, contact)
	}

	contact.Status = model.ContactStatusReplied
	contact.ReplyReceivedAt = &ts

	s.recordSideEffects(ctx, campaign, contact, s.now().UTC(), sideEffects{
		kind:    model.ActivityReplyReceived,
		message: fmt.Sprintf("reply received from %s", contact.ProfileRef),
		stat:    model.StatReplies,
		sync:    true,
	})
	return TransitionResult{Applied: true, Status: contact.Status}, nil
}

// noop re-reads the row so callers learn what state won the race.
func (s *TransitionService) noop(ctx context.Context, contact *model.CampaignContact) (TransitionResult, error) {
	current, err := s.contacts.GetByID(ctx, contact.ID)
	if err != nil {
		return TransitionResult{}, err
	}
	contact.Status = current.Status
	return TransitionResult{Applied: false, Status: current.Status}, nil
}

type sideEffects struct {
	kind    model.ActivityKind
	message string
	stat    model.StatField
	sync    bool // mirror into the CRM pipeline
}

// recordSideEffects runs the activity append, daily stat increment and
// pipeline sync that accompany an applied transition. The transition itself
// applies at most once, so a failed side effect here loses an increment
// rather than double-counting one; the aggregator's Recompute heals totals.
func (s *TransitionService) recordSideEffects(ctx context.Context, campaign *model.Campaign, contact *model.CampaignContact, at time.Time, fx sideEffects) {
	if _, err := s.activities.Append(ctx, &model.CampaignActivity{
		CampaignID: contact.CampaignID,
		ContactID:  &contact.ID,
		Kind:       fx.kind,
		Message:    fx.message,
	}); err != nil {
		logger.Error("failed to append campaign activity",
			"campaign_id", contact.CampaignID, "contact_id", contact.ID, "kind", fx.kind, "error", err)
	}

	day := at.In(campaign.Location()).Format(model.DayFormat)
	if err := s.stats.Increment(ctx, contact.CampaignID, day, fx.stat, 1); err != nil {
		logger.Error("failed to increment daily stat",
			"campaign_id", contact.CampaignID, "day", day, "field", fx.stat, "error", err)
	}

	if fx.sync && s.pipeline != nil {
		if err := s.pipeline.SyncStage(ctx, campaign, contact, contact.Status); err != nil {
			logger.Error("failed to sync pipeline stage",
				"campaign_id", contact.CampaignID, "contact_id", contact.ID, "error", err)
		}
	}
}
