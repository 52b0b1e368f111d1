package services

import (
	"context"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/logger"
)

type AccountWriter interface {
	Create(ctx context.Context, a *model.OutreachAccount) (*model.OutreachAccount, error)
	GetByID(ctx context.Context, id int64) (*model.OutreachAccount, error)
	UpdateDailyLimit(ctx context.Context, id int64, limit int) error
}

// AccountService registers provider accounts and manages their default
// daily connection limit.
type AccountService struct {
	accounts AccountWriter
}

func NewAccountService(accounts AccountWriter) *AccountService {
	return &AccountService{
		accounts: accounts,
	}
}

func (s *AccountService) Create(ctx context.Context, a *model.OutreachAccount) (*model.OutreachAccount, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	created, err := s.accounts.Create(ctx, a)
	if err != nil {
		return nil, err
	}

	logger.Info("Outreach account registered",
		"account_id", created.ID, "provider_account_id", created.ProviderAccountID)

	return created, nil
}

func (s *AccountService) Get(ctx context.Context, id int64) (*model.OutreachAccount, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *AccountService) UpdateDailyLimit(ctx context.Context, id int64, limit int) (*model.OutreachAccount, error) {
	if err := s.accounts.UpdateDailyLimit(ctx, id, limit); err != nil {
		return nil, err
	}
	return s.accounts.GetByID(ctx, id)
}
