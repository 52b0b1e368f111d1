package repository

import "github.com/reachforge/outreach-engine/internal/model"

type DailyStatEntity struct {
	ID                  int64  `db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID          int64  `db:"campaign_id"          gorm:"column:campaign_id;not null;uniqueIndex:idx_daily_stats_campaign_day"`
	Day                 string `db:"day"                  gorm:"column:day;not null;uniqueIndex:idx_daily_stats_campaign_day"`
	ConnectionsSent     int    `db:"connections_sent"     gorm:"column:connections_sent;not null;default:0"`
	ConnectionsAccepted int    `db:"connections_accepted" gorm:"column:connections_accepted;not null;default:0"`
	ConnectionsRejected int    `db:"connections_rejected" gorm:"column:connections_rejected;not null;default:0"`
	FollowUpsSent       int    `db:"follow_ups_sent"      gorm:"column:follow_ups_sent;not null;default:0"`
	Replies             int    `db:"replies"              gorm:"column:replies;not null;default:0"`
}

func (DailyStatEntity) TableName() string { return "daily_stats" }

func toDailyStatModel(e *DailyStatEntity) *model.DailyStat {
	if e == nil {
		return nil
	}
	return &model.DailyStat{
		ID:                  e.ID,
		CampaignID:          e.CampaignID,
		Day:                 e.Day,
		ConnectionsSent:     e.ConnectionsSent,
		ConnectionsAccepted: e.ConnectionsAccepted,
		ConnectionsRejected: e.ConnectionsRejected,
		FollowUpsSent:       e.FollowUpsSent,
		Replies:             e.Replies,
	}
}
