package model

// StatField names one incrementable DailyStat counter.
type StatField string

const (
	StatConnectionsSent     StatField = "connections_sent"
	StatConnectionsAccepted StatField = "connections_accepted"
	StatConnectionsRejected StatField = "connections_rejected"
	StatFollowUpsSent       StatField = "follow_ups_sent"
	StatReplies             StatField = "replies"
)

func (f StatField) Valid() bool {
	switch f {
	case StatConnectionsSent, StatConnectionsAccepted, StatConnectionsRejected,
		StatFollowUpsSent, StatReplies:
		return true
	default:
		return false
	}
}

// DayFormat is the calendar-day key format for DailyStat rows, rendered in
// the campaign's timezone.
const DayFormat = "2006-01-02"

// DailyStat is one row per (campaign, calendar day). Counters are upserted
// additively and never overwritten wholesale; they feed both the dispatcher's
// rate limit and the reporting endpoints.
type DailyStat struct {
	ID                  int64  `json:"id"`
	CampaignID          int64  `json:"campaign_id"`
	Day                 string `json:"day"` // DayFormat in the campaign's timezone
	ConnectionsSent     int    `json:"connections_sent"`
	ConnectionsAccepted int    `json:"connections_accepted"`
	ConnectionsRejected int    `json:"connections_rejected"`
	FollowUpsSent       int    `json:"follow_ups_sent"`
	Replies             int    `json:"replies"`
}

func (DailyStat) TableName() string { return "daily_stats" }
