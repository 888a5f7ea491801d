package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	storemodel "sigwatch/internal/store/model"
	"sigwatch/internal/types"
)

// userRepo implements the UserRepository interface.
type userRepo struct {
	db *gorm.DB
}

func (r *userRepo) Create(ctx context.Context, u *types.User) error {
	if u == nil {
		return fmt.Errorf("nil user")
	}
	now := time.Now().UTC()
	// 指针字段：false 不会被 gorm 当作零值换成列默认值 true
	active := u.Active
	m := storemodel.UserModel{
		TelegramID:    u.TelegramID,
		Username:      strings.TrimSpace(u.Username),
		Locale:        strings.ToLower(strings.TrimSpace(u.Locale)),
		SignalBalance: u.SignalBalance,
		Active:        &active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	u.ID = m.ID
	u.CreatedAt = now
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, id int64) (*types.User, error) {
	var m storemodel.UserModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	u := userFromModel(m)
	return &u, nil
}

func (r *userRepo) FundedUsers(ctx context.Context) ([]types.User, error) {
	var models []storemodel.UserModel
	if err := r.db.WithContext(ctx).
		Where("active = ? AND signal_balance > 0", true).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

func (r *userRepo) ListByIDs(ctx context.Context, ids []int64) ([]types.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []storemodel.UserModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return usersFromModels(models), nil
}

func (r *userRepo) ConsumeCredit(ctx context.Context, userID int64, signalID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&storemodel.UserModel{}).
		Where("id = ? AND signal_balance > 0", userID).
		Updates(map[string]any{
			"signal_balance": gorm.Expr("signal_balance - 1"),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	tx := storemodel.BalanceTransactionModel{
		UserID:    userID,
		Amount:    -1,
		Kind:      storemodel.BalanceTxSignalUsed,
		SignalID:  signalID,
		Details:   "signal " + signalID,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&tx).Error; err != nil {
		return false, err
	}
	return true, nil
}

func usersFromModels(models []storemodel.UserModel) []types.User {
	out := make([]types.User, 0, len(models))
	for _, m := range models {
		out = append(out, userFromModel(m))
	}
	return out
}
