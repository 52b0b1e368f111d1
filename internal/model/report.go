package model

// DispatchReport summarizes one dispatcher invocation. Failures are
// per-contact and never abort the batch.
type DispatchReport struct {
	CampaignID int64  `json:"campaign_id"`
	Limit      int    `json:"limit"`     // effective daily limit
	SentToday  int    `json:"sent_today"` // before this invocation
	Remaining  int    `json:"remaining"`  // budget at invocation start
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Stopped    bool   `json:"stopped"` // campaign left active mid-run
	Errors     []ContactError `json:"errors,omitempty"`
}

// FollowUpReport summarizes one follow-up dispatch invocation.
type FollowUpReport struct {
	CampaignID int64          `json:"campaign_id"`
	Due        int            `json:"due"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Errors     []ContactError `json:"errors,omitempty"`
}

// ReconcileOutcome is the per-contact result of a poll cycle.
type ReconcileOutcome string

const (
	ReconcileReplied ReconcileOutcome = "replied"
	ReconcileNoReply ReconcileOutcome = "no_reply"
	ReconcileError   ReconcileOutcome = "error"
)

// ReconcileResult is one contact's outcome within a ReconcileReport.
type ReconcileResult struct {
	ContactID int64            `json:"contact_id"`
	Outcome   ReconcileOutcome `json:"outcome"`
	Error     string           `json:"error,omitempty"`
}

// ReconcileReport summarizes one reconciliation poll cycle.
type ReconcileReport struct {
	CampaignID   int64             `json:"campaign_id"`
	Checked      int               `json:"checked"`
	RepliesFound int               `json:"replies_found"`
	Results      []ReconcileResult `json:"results"`
}

// ContactError records a single contact's failure inside a batch report.
type ContactError struct {
	ContactID int64  `json:"contact_id"`
	Error     string `json:"error"`
}
