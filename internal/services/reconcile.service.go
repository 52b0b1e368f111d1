package services

import (
	"context"
	"time"

	gateway "github.com/reachforge/outreach-engine/internal/gateways"
	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/logger"
)

const reconcileContactBatch = 1000

// ReconcileService is the backstop behind webhook delivery: it polls the
// provider's conversation threads for contacts stuck in follow_up_sent and
// promotes the ones whose prospect actually replied. Webhooks and this
// poller race for the same transition; the conditional update in the state
// machine means exactly one of them wins.
type ReconcileService struct {
	campaigns   CampaignStore
	accounts    AccountStore
	contacts    ContactStore
	transitions *TransitionService
	aggregator  *StatsService
	gateway     MessagingGateway
	locks       *RunLock
	windowSize  int
	now         func() time.Time
}

func NewReconcileService(
	campaigns CampaignStore,
	accounts AccountStore,
	contacts ContactStore,
	transitions *TransitionService,
	aggregator *StatsService,
	gw MessagingGateway,
	locks *RunLock,
	windowSize int,
) *ReconcileService {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &ReconcileService{
		campaigns:   campaigns,
		accounts:    accounts,
		contacts:    contacts,
		transitions: transitions,
		aggregator:  aggregator,
		gateway:     gw,
		locks:       locks,
		windowSize:  windowSize,
		now:         time.Now,
	}
}

// Run performs one reconciliation cycle for the campaign. Only the most
// recent windowSize messages of each conversation are inspected; a reply
// older than the window is caught on a later cycle or by the webhook path.
// Fetch failures for one contact never abort the cycle.
func (s *ReconcileService) Run(ctx context.Context, campaignID int64) (*model.ReconcileReport, error) {
	release, err := s.locks.Acquire(campaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, campaign.AccountID)
	if err != nil {
		return nil, err
	}

	waiting, err := s.contacts.Find(ctx, model.ContactFilter{
		CampaignID:  &campaignID,
		Statuses:    []model.ContactStatus{model.ContactStatusFollowUpSent},
		OldestFirst: true,
		Limit:       reconcileContactBatch,
	})
	if err != nil {
		return nil, err
	}

	report := &model.ReconcileReport{CampaignID: campaignID}

	for _, contact := range waiting {
		if contact.ConversationID == "" {
			continue
		}
		report.Checked++

		messages, err := s.gateway.FetchMessages(ctx, account.ProviderAccountID, contact.ConversationID, s.windowSize)
		if err != nil {
			logger.Warn("Failed to fetch conversation, skipping contact",
				"campaign_id", campaignID, "contact_id", contact.ID, "error", err)
			report.Results = append(report.Results, model.ReconcileResult{
				ContactID: contact.ID,
				Outcome:   model.ReconcileError,
				Error:     err.Error(),
			})
			continue
		}

		reply, found := earliestReply(messages, account, contact)
		if !found {
			report.Results = append(report.Results, model.ReconcileResult{
				ContactID: contact.ID,
				Outcome:   model.ReconcileNoReply,
			})
			continue
		}

		result, err := s.transitions.MarkReplied(ctx, campaign, contact, reply.Timestamp)
		if err != nil {
			report.Results = append(report.Results, model.ReconcileResult{
				ContactID: contact.ID,
				Outcome:   model.ReconcileError,
				Error:     err.Error(),
			})
			continue
		}
		if result.Applied {
			report.RepliesFound++
		}
		report.Results = append(report.Results, model.ReconcileResult{
			ContactID: contact.ID,
			Outcome:   model.ReconcileReplied,
		})
	}

	if report.RepliesFound > 0 {
		if _, err := s.aggregator.Recompute(ctx, campaignID); err != nil {
			logger.Error("failed to recompute campaign totals after reconcile",
				"campaign_id", campaignID, "error", err)
		}
	}

	logger.Info("Reconcile run finished",
		"campaign_id", campaignID, "checked", report.Checked, "replies_found", report.RepliesFound)

	return report, nil
}

// earliestReply returns the oldest message in the window that was written by
// the prospect after the follow-up went out. The provider's authorship flag
// wins when present; otherwise the sender handle is compared against the
// account's own.
func earliestReply(messages []gateway.ConversationMessage, account *model.OutreachAccount, contact *model.CampaignContact) (gateway.ConversationMessage, bool) {
	var (
		earliest gateway.ConversationMessage
		found    bool
	)
	for _, m := range messages {
		if messageFromSelf(m, account) {
			continue
		}
		if contact.FollowUpSentAt != nil && !m.Timestamp.After(*contact.FollowUpSentAt) {
			continue
		}
		if !found || m.Timestamp.Before(earliest.Timestamp) {
			earliest = m
			found = true
		}
	}
	return earliest, found
}

func messageFromSelf(m gateway.ConversationMessage, account *model.OutreachAccount) bool {
	if m.IsFromSelf != nil {
		return *m.IsFromSelf
	}
	return m.SenderRef == account.ProviderAccountID
}
