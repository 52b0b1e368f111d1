package repository

import (
	"context"
	"errors"

	"github.com/reachforge/outreach-engine/internal/model"
	"github.com/reachforge/outreach-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("outreach account not found")
)

type AccountRepository struct {
	*pg.DB
}

func NewAccountRepository(db *pg.DB) *AccountRepository {
	return &AccountRepository{
		db,
	}
}

func (r *AccountRepository) Create(ctx context.Context, a *model.OutreachAccount) (*model.OutreachAccount, error) {
	entity := toAccountEntity(a)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toAccountModel(entity), nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.OutreachAccount, error) {
	var entity OutreachAccountEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return toAccountModel(&entity), nil
}

func (r *AccountRepository) GetByProviderID(ctx context.Context, providerAccountID string) (*model.OutreachAccount, error) {
	var entity OutreachAccountEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("provider_account_id = ?", providerAccountID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return toAccountModel(&entity), nil
}

func (r *AccountRepository) UpdateDailyLimit(ctx context.Context, id int64, limit int) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&OutreachAccountEntity{}).
		Where("id = ?", id).
		Update("daily_limit", limit)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
