package model

import "time"

// ActivityKind labels an audit log entry.
type ActivityKind string

const (
	ActivityConnectionSent       ActivityKind = "connection_sent"
	ActivityConnectionAccepted   ActivityKind = "connection_accepted"
	ActivityConnectionRejected   ActivityKind = "connection_rejected"
	ActivityConnectionSendFailed ActivityKind = "connection_send_failed"
	ActivityFollowUpSent         ActivityKind = "follow_up_sent"
	ActivityFollowUpSendFailed   ActivityKind = "follow_up_send_failed"
	ActivityReplyReceived        ActivityKind = "reply_received"
	ActivityCampaignStatus       ActivityKind = "campaign_status_changed"
	ActivityContactsEnrolled     ActivityKind = "contacts_enrolled"
)

// CampaignActivity is an append-only audit record. It is written for
// observability and never read back to derive state.
type CampaignActivity struct {
	ID         int64        `json:"id"`
	CampaignID int64        `json:"campaign_id"`
	ContactID  *int64       `json:"contact_id,omitempty"` // campaign_contact id, when contact-scoped
	Kind       ActivityKind `json:"kind"`
	Message    string       `json:"message"`
	Payload    []byte       `json:"payload,omitempty"` // optional structured detail, JSON
	CreatedAt  time.Time    `json:"created_at"`
}

func (CampaignActivity) TableName() string { return "campaign_activities" }

// ActivityFilter controls activity listing.
type ActivityFilter struct {
	CampaignID int64
	Kinds      []ActivityKind
	Limit      int
	Offset     int
}
