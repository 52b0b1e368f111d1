package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gateway "github.com/reachforge/outreach-engine/internal/gateways"
	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/logger"
	"github.com/reachforge/outreach-engine/pkg/prom"
)

var (
	ErrCampaignNotActive = errors.New("campaign is not active")
)

const followUpBatchSize = 50

type AccountStore interface {
	GetByID(ctx context.Context, id int64) (*model.OutreachAccount, error)
	GetByProviderID(ctx context.Context, providerAccountID string) (*model.OutreachAccount, error)
}

// MessagingGateway is the provider API surface the dispatcher and poller use.
type MessagingGateway interface {
	SendConnectionRequest(ctx context.Context, providerAccountID, profileRef, message string) error
	SendMessage(ctx context.Context, providerAccountID, conversationID, text string) error
	FetchMessages(ctx context.Context, providerAccountID, conversationID string, limit int) ([]gateway.ConversationMessage, error)
}

// DispatchService sends connection requests for active campaigns, oldest
// enrollment first, capped by the campaign's remaining budget for the
// current day in the campaign's timezone. Invocations are serialized per
// campaign through the run lock, so the budget check and the sends cannot
// interleave with a concurrent run.
type DispatchService struct {
	campaigns   CampaignStore
	accounts    AccountStore
	contacts    ContactStore
	stats       DailyStatStore
	activities  ActivityStore
	transitions *TransitionService
	gateway     MessagingGateway
	locks       *RunLock
	now         func() time.Time
}

func NewDispatchService(
	campaigns CampaignStore,
	accounts AccountStore,
	contacts ContactStore,
	stats DailyStatStore,
	activities ActivityStore,
	transitions *TransitionService,
	gw MessagingGateway,
	locks *RunLock,
) *DispatchService {
	return &DispatchService{
		campaigns:   campaigns,
		accounts:    accounts,
		contacts:    contacts,
		stats:       stats,
		activities:  activities,
		transitions: transitions,
		gateway:     gw,
		locks:       locks,
		now:         time.Now,
	}
}

// Run performs one dispatcher invocation for the campaign. An exhausted
// daily budget yields an empty report, not an error. Per-contact send
// failures are recorded and skipped; the batch keeps going.
func (s *DispatchService) Run(ctx context.Context, campaignID int64) (*model.DispatchReport, error) {
	release, err := s.locks.Acquire(campaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignStatusActive {
		return nil, ErrCampaignNotActive
	}

	account, err := s.accounts.GetByID(ctx, campaign.AccountID)
	if err != nil {
		return nil, err
	}

	limit := campaign.EffectiveDailyLimit(account)
	day := s.now().In(campaign.Location()).Format(model.DayFormat)

	stat, err := s.stats.Get(ctx, campaignID, day)
	if err != nil {
		return nil, err
	}

	report := &model.DispatchReport{
		CampaignID: campaignID,
		Limit:      limit,
		SentToday:  stat.ConnectionsSent,
		Remaining:  limit - stat.ConnectionsSent,
	}
	if report.Remaining <= 0 {
		report.Remaining = 0
		logger.Info("Daily connection budget exhausted",
			"campaign_id", campaignID, "day", day, "limit", limit, "sent_today", stat.ConnectionsSent)
		return report, nil
	}

	pending, err := s.contacts.Find(ctx, model.ContactFilter{
		CampaignID:  &campaignID,
		Statuses:    []model.ContactStatus{model.ContactStatusPending},
		OldestFirst: true,
		Limit:       report.Remaining,
	})
	if err != nil {
		return nil, err
	}

	for _, contact := range pending {
		// Re-check the campaign before every send so pause and stop take
		// effect mid-batch. A sent request cannot be recalled.
		fresh, err := s.campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return report, err
		}
		if fresh.Status != model.CampaignStatusActive {
			report.Stopped = true
			logger.Info("Campaign left active state, aborting dispatch batch",
				"campaign_id", campaignID, "status", fresh.Status, "sent", report.Sent)
			break
		}

		message := RenderTemplate(campaign.ConnectionMessage, contact)
		start := s.now()
		err = s.gateway.SendConnectionRequest(ctx, account.ProviderAccountID, contact.ProfileRef, message)
		if err != nil {
			prom.AddConnectionSendDuration(time.Since(start).Seconds(), "failure")
			s.recordSendFailure(ctx, report, contact, model.ActivityConnectionSendFailed, err)
			continue
		}
		prom.AddConnectionSendDuration(time.Since(start).Seconds(), "success")

		result, err := s.transitions.MarkConnectionSent(ctx, campaign, contact)
		if err != nil {
			s.recordSendFailure(ctx, report, contact, model.ActivityConnectionSendFailed, err)
			continue
		}
		if result.Applied {
			report.Sent++
		}
	}

	logger.Info("Dispatch run finished",
		"campaign_id", campaignID, "sent", report.Sent, "failed", report.Failed, "stopped", report.Stopped)

	return report, nil
}

// RunFollowUps sends the follow-up message to contacts whose connection was
// accepted at least the campaign's delay ago. Follow-ups do not count
// against the connection budget.
func (s *DispatchService) RunFollowUps(ctx context.Context, campaignID int64) (*model.FollowUpReport, error) {
	release, err := s.locks.Acquire(campaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignStatusActive {
		return nil, ErrCampaignNotActive
	}
	if campaign.FollowUpMessage == "" {
		return &model.FollowUpReport{CampaignID: campaignID}, nil
	}

	account, err := s.accounts.GetByID(ctx, campaign.AccountID)
	if err != nil {
		return nil, err
	}

	acceptedBefore := s.now().UTC().AddDate(0, 0, -campaign.FollowUpDelayDays)
	due, err := s.contacts.FindFollowUpsDue(ctx, campaignID, acceptedBefore, followUpBatchSize)
	if err != nil {
		return nil, err
	}

	report := &model.FollowUpReport{
		CampaignID: campaignID,
		Due:        len(due),
	}

	for _, contact := range due {
		fresh, err := s.campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return report, err
		}
		if fresh.Status != model.CampaignStatusActive {
			logger.Info("Campaign left active state, aborting follow-up batch",
				"campaign_id", campaignID, "status", fresh.Status, "sent", report.Sent)
			break
		}

		if contact.ConversationID == "" {
			s.recordFollowUpFailure(ctx, report, contact, errors.New("no conversation handle for contact"))
			continue
		}

		message := RenderTemplate(campaign.FollowUpMessage, contact)
		if err := s.gateway.SendMessage(ctx, account.ProviderAccountID, contact.ConversationID, message); err != nil {
			s.recordFollowUpFailure(ctx, report, contact, err)
			continue
		}

		result, err := s.transitions.MarkFollowUpSent(ctx, campaign, contact)
		if err != nil {
			s.recordFollowUpFailure(ctx, report, contact, err)
			continue
		}
		if result.Applied {
			report.Sent++
		}
	}

	logger.Info("Follow-up run finished",
		"campaign_id", campaignID, "due", report.Due, "sent", report.Sent, "failed", report.Failed)

	return report, nil
}

func (s *DispatchService) recordSendFailure(ctx context.Context, report *model.DispatchReport, contact *model.CampaignContact, kind model.ActivityKind, sendErr error) {
	report.Failed++
	report.Errors = append(report.Errors, model.ContactError{ContactID: contact.ID, Error: sendErr.Error()})

	logger.Warn("Connection send failed",
		"campaign_id", contact.CampaignID, "contact_id", contact.ID, "error", sendErr)

	if _, err := s.activities.Append(ctx, &model.CampaignActivity{
		CampaignID: contact.CampaignID,
		ContactID:  &contact.ID,
		Kind:       kind,
		Message:    fmt.Sprintf("send to %s failed: %s", contact.ProfileRef, sendErr),
	}); err != nil {
		logger.Error("failed to append failure activity",
			"campaign_id", contact.CampaignID, "contact_id", contact.ID, "error", err)
	}
}

func (s *DispatchService) recordFollowUpFailure(ctx context.Context, report *model.FollowUpReport, contact *model.CampaignContact, sendErr error) {
	report.Failed++
	report.Errors = append(report.Errors, model.ContactError{ContactID: contact.ID, Error: sendErr.Error()})

	logger.Warn("Follow-up send failed",
		"campaign_id", contact.CampaignID, "contact_id", contact.ID, "error", sendErr)

	if _, err := s.activities.Append(ctx, &model.CampaignActivity{
		CampaignID: contact.CampaignID,
		ContactID:  &contact.ID,
		Kind:       model.ActivityFollowUpSendFailed,
		Message:    fmt.Sprintf("follow-up to %s failed: %s", contact.ProfileRef, sendErr),
	}); err != nil {
		logger.Error("failed to append failure activity",
			"campaign_id", contact.CampaignID, "contact_id", contact.ID, "error", err)
	}
}

// RenderTemplate substitutes {{name}} and {{first_name}} placeholders with
// the contact's enrollment name.
func RenderTemplate(template string, contact *model.CampaignContact) string {
	first := contact.ContactName
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}
	r := strings.NewReplacer(
		"{{name}}", contact.ContactName,
		"{{first_name}}", first,
	)
	return r.Replace(template)
}
