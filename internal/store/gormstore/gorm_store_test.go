package gormstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigwatch/internal/store"
	"sigwatch/internal/types"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := NewMemoryStore(name + "_" + uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var btcKey = types.PositionKey{Symbol: "BTCUSDT", Category: types.CategoryLinear, Direction: types.DirectionBuy}

func newOpenSignal(seq int64, key types.PositionKey) *types.Signal {
	now := time.Now().UTC()
	lev := decimal.NewFromInt(10)
	return &types.Signal{
		ID:             uuid.NewString(),
		SequenceNumber: seq,
		Key:            key,
		Action:         types.ActionOpen,
		PositionSize:   decimal.NewFromInt(1),
		EntryPrice:     decimal.NewFromInt(45000),
		Leverage:       &lev,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSignalLifecycleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seq, err := s.Signals().NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	sig := newOpenSignal(seq, btcKey)
	require.NoError(t, store.WithTx(ctx, s, func(uow store.UnitOfWork) error {
		if err := uow.Signals().Create(ctx, sig); err != nil {
			return err
		}
		return uow.Updates().Insert(ctx, &types.PositionUpdate{
			SignalID:     sig.ID,
			Action:       types.ActionOpen,
			PositionSize: sig.PositionSize,
			Snapshot:     map[string]any{"symbol": "BTCUSDT"},
			CreatedAt:    sig.CreatedAt,
		})
	}))

	got, err := s.Signals().FindOpenByKey(ctx, btcKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sig.ID, got.ID)
	assert.True(t, got.EntryPrice.Equal(decimal.NewFromInt(45000)))
	require.NotNil(t, got.Leverage)
	assert.Nil(t, got.ExitPrice)

	next, err := s.Signals().NextSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)

	closedAt := time.Now().UTC()
	exit := decimal.NewFromInt(46000)
	got.Action = types.ActionClose
	got.Completed = true
	got.OldPositionSize = got.PositionSize
	got.PositionSize = decimal.Zero
	got.ExitPrice = &exit
	got.ClosedAt = &closedAt
	require.NoError(t, s.Signals().UpdateOpen(ctx, got))

	open, err := s.Signals().FindOpenByKey(ctx, btcKey)
	require.NoError(t, err)
	assert.Nil(t, open)

	// terminal rows are immutable
	got.Action = types.ActionIncrease
	assert.ErrorIs(t, s.Signals().UpdateOpen(ctx, got), types.ErrSignalCompleted)
	assert.ErrorIs(t, s.Signals().UpdateMark(ctx, got.ID, decimal.NewFromInt(1)), types.ErrSignalCompleted)

	stored, err := s.Signals().FindByID(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ActionClose, stored.Action)
	require.NotNil(t, stored.ExitPrice)
	assert.True(t, stored.ExitPrice.Equal(exit))

	closed, err := s.Signals().ListClosedBetween(ctx, closedAt.Add(-time.Minute), closedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, closed, 1)

	updates, err := s.Updates().ListBySignal(ctx, sig.ID)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "BTCUSDT", updates[0].Snapshot["symbol"])
}

func TestOneOpenSignalPerKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Signals().Create(ctx, newOpenSignal(1, btcKey)))
	err := s.Signals().Create(ctx, newOpenSignal(2, btcKey))
	assert.Error(t, err, "partial unique index must reject a second open signal")

	other := btcKey
	other.Direction = types.DirectionSell
	assert.NoError(t, s.Signals().Create(ctx, newOpenSignal(3, other)))
}

func TestSequenceNumberUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Signals().Create(ctx, newOpenSignal(7, btcKey)))
	eth := types.PositionKey{Symbol: "ETHUSDT", Category: types.CategoryLinear, Direction: types.DirectionBuy}
	assert.Error(t, s.Signals().Create(ctx, newOpenSignal(7, eth)))
}

func TestUpdateRequiresExistingSignal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.Updates().Insert(ctx, &types.PositionUpdate{
		SignalID:     "missing",
		Action:       types.ActionOpen,
		PositionSize: decimal.NewFromInt(1),
		CreatedAt:    time.Now().UTC(),
	})
	assert.Error(t, err)
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sig := newOpenSignal(1, btcKey)
	err := store.WithTx(ctx, s, func(uow store.UnitOfWork) error {
		require.NoError(t, uow.Signals().Create(ctx, sig))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	got, err := s.Signals().FindByID(ctx, sig.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUsersAndDeliveries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	funded := &types.User{TelegramID: 100, Username: "alice", SignalBalance: 1, Active: true}
	broke := &types.User{TelegramID: 200, Username: "bob", SignalBalance: 0, Active: true}
	inactive := &types.User{TelegramID: 300, Username: "carol", SignalBalance: 5, Active: false}
	for _, u := range []*types.User{funded, broke, inactive} {
		require.NoError(t, s.Users().Create(ctx, u))
	}

	users, err := s.Users().FundedUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, funded.ID, users[0].ID)

	stored, err := s.Users().FindByID(ctx, inactive.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.Active)
	assert.Equal(t, int64(5), stored.SignalBalance)

	sig := newOpenSignal(1, btcKey)
	require.NoError(t, s.Signals().Create(ctx, sig))

	ok, err := s.Users().ConsumeCredit(ctx, funded.ID, sig.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Users().ConsumeCredit(ctx, funded.ID, sig.ID)
	require.NoError(t, err)
	assert.False(t, ok, "balance never goes negative")

	u, err := s.Users().FindByID(ctx, funded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.SignalBalance)

	require.NoError(t, s.Deliveries().Insert(ctx, &types.Delivery{SignalID: sig.ID, UserID: funded.ID, Action: types.ActionOpen, Status: types.DeliveryDelivered, Attempts: 1}))
	require.NoError(t, s.Deliveries().Insert(ctx, &types.Delivery{SignalID: sig.ID, UserID: broke.ID, Action: types.ActionOpen, Status: types.DeliveryFailed, Attempts: 3, Error: "timeout"}))
	require.NoError(t, s.Deliveries().Insert(ctx, &types.Delivery{SignalID: sig.ID, UserID: funded.ID, Action: types.ActionClose, Status: types.DeliveryDelivered, Attempts: 1}))

	ids, err := s.Deliveries().OpenRecipients(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{funded.ID}, ids)

	all, err := s.Deliveries().ListBySignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
