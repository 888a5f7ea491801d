package gormstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	storemodel "sigwatch/internal/store/model"
	"sigwatch/internal/types"
)

// updateRepo implements the UpdateRepository interface. It only inserts.
type updateRepo struct {
	db *gorm.DB
}

func (r *updateRepo) Insert(ctx context.Context, upd *types.PositionUpdate) error {
	if upd == nil {
		return fmt.Errorf("nil position update")
	}
	m, err := updateToModel(upd)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.db.WithContext(ctx).Omit("Signal").Create(&m).Error; err != nil {
		return err
	}
	upd.ID = m.ID
	return nil
}

func (r *updateRepo) ListBySignal(ctx context.Context, signalID string) ([]types.PositionUpdate, error) {
	var models []storemodel.PositionUpdateModel
	if err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.PositionUpdate, 0, len(models))
	for _, m := range models {
		out = append(out, updateFromModel(m))
	}
	return out, nil
}
