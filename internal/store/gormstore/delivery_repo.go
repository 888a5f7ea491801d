package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	storemodel "sigwatch/internal/store/model"
	"sigwatch/internal/types"
)

// deliveryRepo implements the DeliveryRepository interface.
type deliveryRepo struct {
	db *gorm.DB
}

func (r *deliveryRepo) Insert(ctx context.Context, d *types.Delivery) error {
	if d == nil {
		return fmt.Errorf("nil delivery")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m := storemodel.DeliveryModel{
		SignalID:  d.SignalID,
		UserID:    d.UserID,
		Action:    string(d.Action),
		Status:    string(d.Status),
		Attempts:  d.Attempts,
		Error:     d.Error,
		CreatedAt: d.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	d.ID = m.ID
	return nil
}

func (r *deliveryRepo) OpenRecipients(ctx context.Context, signalID string) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&storemodel.DeliveryModel{}).
		Where("signal_id = ? AND action = ? AND status = ?", signalID, string(types.ActionOpen), string(types.DeliveryDelivered)).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *deliveryRepo) ListBySignal(ctx context.Context, signalID string) ([]types.Delivery, error) {
	var models []storemodel.DeliveryModel
	if err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Delivery, 0, len(models))
	for _, m := range models {
		out = append(out, deliveryFromModel(m))
	}
	return out, nil
}
