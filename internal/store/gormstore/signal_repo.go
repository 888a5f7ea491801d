package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"sigwatch/internal/store"
	storemodel "sigwatch/internal/store/model"
	"sigwatch/internal/types"
)

// signalRepo implements the SignalRepository interface.
type signalRepo struct {
	db *gorm.DB
}

func (r *signalRepo) NextSequence(ctx context.Context) (int64, error) {
	var maxSeq sql.NullInt64
	if err := r.db.WithContext(ctx).
		Model(&storemodel.SignalModel{}).
		Select("MAX(sequence_number)").
		Row().
		Scan(&maxSeq); err != nil {
		return 0, err
	}
	if !maxSeq.Valid {
		return 1, nil
	}
	return maxSeq.Int64 + 1, nil
}

func (r *signalRepo) Create(ctx context.Context, sig *types.Signal) error {
	if sig == nil {
		return fmt.Errorf("nil signal")
	}
	m := signalToModel(sig)
	return r.db.WithContext(ctx).Create(&m).Error
}

// UpdateOpen saves the mutable lifecycle columns, guarded by completed = false.
func (r *signalRepo) UpdateOpen(ctx context.Context, sig *types.Signal) error {
	if sig == nil {
		return fmt.Errorf("nil signal")
	}
	m := signalToModel(sig)
	res := r.db.WithContext(ctx).
		Model(&storemodel.SignalModel{}).
		Where("id = ? AND completed = ?", sig.ID, false).
		Select("action", "position_size", "old_position_size", "exit_price", "mark_price",
			"close_percentage", "realized_pnl", "profit_percentage", "completed", "updated_at", "closed_at").
		Updates(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.ErrSignalCompleted
	}
	return nil
}

func (r *signalRepo) UpdateMark(ctx context.Context, id string, mark decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&storemodel.SignalModel{}).
		Where("id = ? AND completed = ?", id, false).
		UpdateColumn("mark_price", mark)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.ErrSignalCompleted
	}
	return nil
}

func (r *signalRepo) FindByID(ctx context.Context, id string) (*types.Signal, error) {
	var m storemodel.SignalModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sig := signalFromModel(m)
	return &sig, nil
}

func (r *signalRepo) FindOpenByKey(ctx context.Context, key types.PositionKey) (*types.Signal, error) {
	var models []storemodel.SignalModel
	if err := r.db.WithContext(ctx).
		Where("symbol = ? AND category = ? AND direction = ? AND completed = ?",
			key.Symbol, string(key.Category), string(key.Direction), false).
		Limit(1).
		Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	sig := signalFromModel(models[0])
	return &sig, nil
}

func (r *signalRepo) ListOpen(ctx context.Context) ([]types.Signal, error) {
	return r.List(ctx, store.SignalFilter{OpenOnly: true})
}

func (r *signalRepo) List(ctx context.Context, f store.SignalFilter) ([]types.Signal, error) {
	q := r.db.WithContext(ctx).Model(&storemodel.SignalModel{})
	if f.OpenOnly {
		q = q.Where("completed = ?", false)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var models []storemodel.SignalModel
	if err := q.Order("sequence_number DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return signalsFromModels(models), nil
}

func (r *signalRepo) ListClosedBetween(ctx context.Context, from, to time.Time) ([]types.Signal, error) {
	var models []storemodel.SignalModel
	if err := r.db.WithContext(ctx).
		Where("completed = ? AND closed_at >= ? AND closed_at < ?", true, from.UTC(), to.UTC()).
		Order("closed_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return signalsFromModels(models), nil
}

func signalsFromModels(models []storemodel.SignalModel) []types.Signal {
	out := make([]types.Signal, 0, len(models))
	for _, m := range models {
		out = append(out, signalFromModel(m))
	}
	return out
}
