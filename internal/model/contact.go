package model

import (
	"errors"
	"time"
)

// ContactStatus is the lifecycle state of a (campaign, contact) pair.
//
//	pending → connection_sent → {connected | connection_rejected}
//	connected → follow_up_sent → replied
type ContactStatus string

const (
	ContactStatusPending            ContactStatus = "pending"
	ContactStatusConnectionSent     ContactStatus = "connection_sent"
	ContactStatusConnected          ContactStatus = "connected"
	ContactStatusConnectionRejected ContactStatus = "connection_rejected"
	ContactStatusFollowUpSent       ContactStatus = "follow_up_sent"
	ContactStatusReplied            ContactStatus = "replied"
)

func (s ContactStatus) String() string { return string(s) }

func (s ContactStatus) Valid() bool {
	switch s {
	case ContactStatusPending, ContactStatusConnectionSent, ContactStatusConnected,
		ContactStatusConnectionRejected, ContactStatusFollowUpSent, ContactStatusReplied:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can apply.
func (s ContactStatus) Terminal() bool {
	return s == ContactStatusReplied || s == ContactStatusConnectionRejected
}

// CampaignContact is the unit the state machine operates on. Status is the
// source of truth; timestamps are corroborating evidence, stamped exactly once
// by the transition that set them.
type CampaignContact struct {
	ID                   int64         `json:"id"`
	CampaignID           int64         `json:"campaign_id"`
	Campaign             *Campaign     `json:"-" gorm:"foreignKey:CampaignID;references:ID"`
	ContactID            int64         `json:"contact_id"`  // CRM contact id
	ProfileRef           string        `json:"profile_ref"` // provider-side profile reference
	ContactName          string        `json:"contact_name"`
	Status               ContactStatus `json:"status"`
	ConversationID       string        `json:"conversation_id,omitempty"` // set when a connection is accepted
	PipelineStageID      *int64        `json:"pipeline_stage_id,omitempty"`
	ConnectionSentAt     *time.Time    `json:"connection_sent_at,omitempty"`
	ConnectionAcceptedAt *time.Time    `json:"connection_accepted_at,omitempty"`
	ConnectionRejectedAt *time.Time    `json:"connection_rejected_at,omitempty"`
	FollowUpSentAt       *time.Time    `json:"follow_up_sent_at,omitempty"`
	ReplyReceivedAt      *time.Time    `json:"reply_received_at,omitempty"`
	EnrolledAt           time.Time     `json:"enrolled_at"`
}

func (CampaignContact) TableName() string { return "campaign_contacts" }

// ContactFilter is the typed query contract used by the dispatcher, the
// webhook processor and the poller. Matching criteria are explicit columns,
// not ad hoc row scans.
type ContactFilter struct {
	CampaignID        *int64
	ProviderAccountID *string // resolves through campaign → account, active campaigns only
	ProfileRef        *string
	ConversationID    *string
	Statuses          []ContactStatus
	EnrolledBefore    *time.Time
	Limit             int  // default 50
	OldestFirst       bool // FIFO by enrollment time
}

// EnrollContact is one entry of a campaign enrollment batch.
type EnrollContact struct {
	ContactID  int64  `json:"contact_id"`
	ProfileRef string `json:"profile_ref"`
	Name       string `json:"name"`
}

func (e EnrollContact) Validate() error {
	if e.ContactID == 0 {
		return errors.New("contact_id is required")
	}
	if e.ProfileRef == "" {
		return errors.New("profile_ref is required")
	}
	return nil
}
