package model

import "errors"

// OutreachAccount is one connected sending identity. Campaigns reference it
// for the default daily connection quota and the provider-side account id.
type OutreachAccount struct {
	ID                int64  `json:"id"`
	UserID            int64  `json:"user_id"`
	ProviderAccountID string `json:"provider_account_id"`
	DailyLimit        int    `json:"daily_limit"`
}

func (OutreachAccount) TableName() string { return "outreach_accounts" }

func (a OutreachAccount) Validate() error {
	if a.ProviderAccountID == "" {
		return errors.New("provider_account_id is required")
	}
	if a.DailyLimit < 0 {
		return errors.New("daily_limit must be >= 0")
	}
	return nil
}
