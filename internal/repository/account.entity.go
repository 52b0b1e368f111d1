package repository

import "github.com/reachforge/outreach-engine/internal/model"

type OutreachAccountEntity struct {
	ID                int64  `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	UserID            int64  `db:"user_id"             gorm:"column:user_id;not null;index"`
	ProviderAccountID string `db:"provider_account_id" gorm:"column:provider_account_id;not null;uniqueIndex"`
	DailyLimit        int    `db:"daily_limit"         gorm:"column:daily_limit;not null;default:0"`
}

func (OutreachAccountEntity) TableName() string { return "outreach_accounts" }

func toAccountEntity(a *model.OutreachAccount) *OutreachAccountEntity {
	if a == nil {
		return nil
	}
	return &OutreachAccountEntity{
		ID:                a.ID,
		UserID:            a.UserID,
		ProviderAccountID: a.ProviderAccountID,
		DailyLimit:        a.DailyLimit,
	}
}

func toAccountModel(e *OutreachAccountEntity) *model.OutreachAccount {
	if e == nil {
		return nil
	}
	return &model.OutreachAccount{
		ID:                e.ID,
		UserID:            e.UserID,
		ProviderAccountID: e.ProviderAccountID,
		DailyLimit:        e.DailyLimit,
	}
}
