package gormstore

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	storemodel "sigwatch/internal/store/model"
	"sigwatch/internal/types"
)

func nullDec(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Decimal
	return &v
}

func signalToModel(sig *types.Signal) storemodel.SignalModel {
	return storemodel.SignalModel{
		ID:               sig.ID,
		SequenceNumber:   sig.SequenceNumber,
		Symbol:           sig.Key.Symbol,
		Category:         string(sig.Key.Category),
		Direction:        string(sig.Key.Direction),
		Action:           string(sig.Action),
		PositionSize:     sig.PositionSize,
		OldPositionSize:  sig.OldPositionSize,
		EntryPrice:       sig.EntryPrice,
		ExitPrice:        nullDec(sig.ExitPrice),
		Leverage:         nullDec(sig.Leverage),
		MarkPrice:        sig.MarkPrice,
		ClosePercentage:  nullDec(sig.ClosePercentage),
		RealizedPnl:      nullDec(sig.RealizedPnl),
		ProfitPercentage: nullDec(sig.ProfitPercentage),
		Completed:        sig.Completed,
		CreatedAt:        sig.CreatedAt,
		UpdatedAt:        sig.UpdatedAt,
		ClosedAt:         sig.ClosedAt,
	}
}

func signalFromModel(m storemodel.SignalModel) types.Signal {
	return types.Signal{
		ID:             m.ID,
		SequenceNumber: m.SequenceNumber,
		Key: types.PositionKey{
			Symbol:    m.Symbol,
			Category:  types.Category(m.Category),
			Direction: types.Direction(m.Direction),
		},
		Action:           types.Action(m.Action),
		PositionSize:     m.PositionSize,
		OldPositionSize:  m.OldPositionSize,
		EntryPrice:       m.EntryPrice,
		ExitPrice:        decPtr(m.ExitPrice),
		Leverage:         decPtr(m.Leverage),
		MarkPrice:        m.MarkPrice,
		ClosePercentage:  decPtr(m.ClosePercentage),
		RealizedPnl:      decPtr(m.RealizedPnl),
		ProfitPercentage: decPtr(m.ProfitPercentage),
		Completed:        m.Completed,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		ClosedAt:         m.ClosedAt,
	}
}

func updateToModel(u *types.PositionUpdate) (storemodel.PositionUpdateModel, error) {
	m := storemodel.PositionUpdateModel{
		SignalID:        u.SignalID,
		Action:          string(u.Action),
		PositionSize:    u.PositionSize,
		Price:           nullDec(u.Price),
		ClosePercentage: nullDec(u.ClosePercentage),
		RealizedPnl:     nullDec(u.RealizedPnl),
		CreatedAt:       u.CreatedAt,
	}
	if len(u.Snapshot) > 0 {
		raw, err := json.Marshal(u.Snapshot)
		if err != nil {
			return m, err
		}
		m.Snapshot = datatypes.JSON(raw)
	}
	return m, nil
}

func updateFromModel(m storemodel.PositionUpdateModel) types.PositionUpdate {
	u := types.PositionUpdate{
		ID:              m.ID,
		SignalID:        m.SignalID,
		Action:          types.Action(m.Action),
		PositionSize:    m.PositionSize,
		Price:           decPtr(m.Price),
		ClosePercentage: decPtr(m.ClosePercentage),
		RealizedPnl:     decPtr(m.RealizedPnl),
		CreatedAt:       m.CreatedAt,
	}
	if len(m.Snapshot) > 0 {
		var snap map[string]any
		if err := json.Unmarshal(m.Snapshot, &snap); err == nil {
			u.Snapshot = snap
		}
	}
	return u
}

func userFromModel(m storemodel.UserModel) types.User {
	return types.User{
		ID:            m.ID,
		TelegramID:    m.TelegramID,
		Username:      m.Username,
		Locale:        m.Locale,
		SignalBalance: m.SignalBalance,
		Active:        m.Active != nil && *m.Active,
		CreatedAt:     m.CreatedAt,
	}
}

func deliveryFromModel(m storemodel.DeliveryModel) types.Delivery {
	return types.Delivery{
		ID:        m.ID,
		SignalID:  m.SignalID,
		UserID:    m.UserID,
		Action:    types.Action(m.Action),
		Status:    types.DeliveryStatus(m.Status),
		Attempts:  m.Attempts,
		Error:     m.Error,
		CreatedAt: m.CreatedAt,
	}
}
