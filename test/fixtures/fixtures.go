package fixtures

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/reachforge/outreach-engine/internal/model"
)

var (
	TestAccount1 = model.OutreachAccount{
		ID:                1,
		UserID:            1,
		ProviderAccountID: "acct_alpha",
		DailyLimit:        25,
	}

	TestAccount2 = model.OutreachAccount{
		ID:                2,
		UserID:            2,
		ProviderAccountID: "acct_beta",
		DailyLimit:        50,
	}

	TestAccountZeroLimit = model.OutreachAccount{
		ID:                3,
		UserID:            3,
		ProviderAccountID: "acct_zero",
		DailyLimit:        0,
	}
)

func NewCampaignCreateRequest(accountID int64) model.CampaignCreateRequest {
	return model.CampaignCreateRequest{
		AccountID:         accountID,
		Name:              "Test outreach",
		ConnectionMessage: "Hi {{first_name}}, let's connect",
		FollowUpMessage:   "Thanks for connecting, {{first_name}}",
		FollowUpDelayDays: 2,
		Timezone:          "UTC",
	}
}

func CampaignCreateRequestNoFollowUp(accountID int64) model.CampaignCreateRequest {
	req := NewCampaignCreateRequest(accountID)
	req.FollowUpMessage = ""
	req.FollowUpDelayDays = 0
	return req
}

func CampaignCreateRequestMissingMessage(accountID int64) model.CampaignCreateRequest {
	req := NewCampaignCreateRequest(accountID)
	req.ConnectionMessage = ""
	return req
}

// EnrollBatch builds n distinct enrollment entries, profile refs
// profile_1..profile_n.
func EnrollBatch(n int) []model.EnrollContact {
	batch := make([]model.EnrollContact, 0, n)
	for i := 1; i <= n; i++ {
		batch = append(batch, model.EnrollContact{
			ContactID:  int64(100 + i),
			ProfileRef: fmt.Sprintf("profile_%d", i),
			Name:       fmt.Sprintf("Prospect %d", i),
		})
	}
	return batch
}

func ConnectionAcceptedEnvelope(eventID, providerAccountID, profileRef, conversationID string) model.WebhookEnvelope {
	data, _ := json.Marshal(model.ConnectionEvent{
		AccountID:      providerAccountID,
		ProfileRef:     profileRef,
		ConversationID: conversationID,
	})
	return model.WebhookEnvelope{
		EventID: eventID,
		Event:   model.EventConnectionAccepted,
		Data:    data,
	}
}

func ConnectionRejectedEnvelope(eventID, providerAccountID, profileRef string) model.WebhookEnvelope {
	data, _ := json.Marshal(model.ConnectionEvent{
		AccountID:  providerAccountID,
		ProfileRef: profileRef,
	})
	return model.WebhookEnvelope{
		EventID: eventID,
		Event:   model.EventConnectionRejected,
		Data:    data,
	}
}

func MessageReceivedEnvelope(eventID, providerAccountID, conversationID, senderRef, text string, at time.Time) model.WebhookEnvelope {
	data, _ := json.Marshal(model.MessageReceivedEvent{
		AccountID:      providerAccountID,
		ConversationID: conversationID,
		SenderRef:      senderRef,
		Text:           text,
		Timestamp:      at,
	})
	return model.WebhookEnvelope{
		EventID: eventID,
		Event:   model.EventMessageReceived,
		Data:    data,
	}
}

var ValidTimezones = []string{
	"UTC",
	"Europe/Berlin",
	"America/New_York",
	"Asia/Tokyo",
}
