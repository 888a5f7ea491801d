// Package signal turns classified transitions into persisted Signals. It is the
// only writer of the signals and position_updates tables.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sigwatch/internal/gateway/exchange"
	"sigwatch/internal/logger"
	"sigwatch/internal/store"
	"sigwatch/internal/tracker"
	"sigwatch/internal/types"
)

const closeFillsLimit = 50

// Outcome is one committed lifecycle step that still has to be dispatched.
type Outcome struct {
	Signal types.Signal
	Action types.Action
	Update types.PositionUpdate
}

type Options struct {
	// FetchFills prices partial closes and closes from the venue's executions.
	FetchFills bool
}

// Generator applies transitions atomically: the Signal write and its
// PositionUpdate insert commit together or not at all.
type Generator struct {
	store store.Store
	fills exchange.FillSource
	opts  Options

	// seqMu serializes sequence allocation across concurrently processed keys.
	seqMu sync.Mutex
	now   func() time.Time
}

// NewGenerator builds a generator. fills may be nil.
func NewGenerator(st store.Store, fills exchange.FillSource, opts Options) *Generator {
	return &Generator{
		store: st,
		fills: fills,
		opts:  opts,
		now:   time.Now,
	}
}

// Apply persists tr and returns the outcomes to notify, in order. A Reopen close
// yields two outcomes; when the reopen fails the committed close is still returned
// together with the error.
func (g *Generator) Apply(ctx context.Context, tr tracker.Transition) ([]Outcome, error) {
	return g.apply(ctx, tr, g.opts.FetchFills)
}

func (g *Generator) apply(ctx context.Context, tr tracker.Transition, useFills bool) ([]Outcome, error) {
	switch tr.Kind {
	case tracker.NoChange:
		return nil, nil
	case tracker.Open:
		out, err := g.open(ctx, tr.Key, tr.Current)
		if err != nil {
			return nil, err
		}
		return []Outcome{out}, nil
	case tracker.Increase:
		out, err := g.increase(ctx, tr.Previous, tr.Current)
		if err != nil {
			return nil, err
		}
		return []Outcome{out}, nil
	case tracker.PartialClose:
		out, err := g.partialClose(ctx, tr.Previous, tr.Current, useFills)
		if err != nil {
			return nil, err
		}
		return []Outcome{out}, nil
	case tracker.Close:
		closed, err := g.close(ctx, tr.Previous, tr.Current, useFills && !tr.Reopen)
		if err != nil {
			return nil, err
		}
		outs := []Outcome{closed}
		if tr.Reopen {
			opened, err := g.open(ctx, tr.Key, tr.Current)
			if err != nil {
				return outs, err
			}
			outs = append(outs, opened)
		}
		return outs, nil
	default:
		return nil, fmt.Errorf("unknown transition kind %d", tr.Kind)
	}
}

func (g *Generator) open(ctx context.Context, key types.PositionKey, cur *types.LogicalPosition) (Outcome, error) {
	if !cur.IsOpen() {
		return Outcome{}, fmt.Errorf("open %s without a position", key)
	}
	now := g.now().UTC()
	sig := types.Signal{
		ID:              uuid.NewString(),
		Key:             key,
		Action:          types.ActionOpen,
		PositionSize:    cur.Size,
		OldPositionSize: decimal.Zero,
		EntryPrice:      cur.EntryPrice,
		MarkPrice:       cur.MarkPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if key.Category.IsFutures() && cur.Leverage != nil {
		lev := *cur.Leverage
		sig.Leverage = &lev
	}
	entry := cur.EntryPrice
	upd := types.PositionUpdate{
		Action:       types.ActionOpen,
		PositionSize: cur.Size,
		Price:        &entry,
		Snapshot:     snapshot(cur),
		CreatedAt:    now,
	}

	g.seqMu.Lock()
	defer g.seqMu.Unlock()
	err := store.WithTx(ctx, g.store, func(uow store.UnitOfWork) error {
		existing, err := uow.Signals().FindOpenByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return types.ErrOpenSignalExists
		}
		seq, err := uow.Signals().NextSequence(ctx)
		if err != nil {
			return err
		}
		sig.SequenceNumber = seq
		if err := uow.Signals().Create(ctx, &sig); err != nil {
			return err
		}
		upd.SignalID = sig.ID
		return uow.Updates().Insert(ctx, &upd)
	})
	if err != nil {
		return Outcome{}, &types.PersistenceError{Op: string(types.ActionOpen), Key: key, Err: err}
	}
	logger.Infof("signal #%05d opened %s size=%s entry=%s", sig.SequenceNumber, key, sig.PositionSize, sig.EntryPrice)
	return Outcome{Signal: sig, Action: types.ActionOpen, Update: upd}, nil
}

func (g *Generator) increase(ctx context.Context, prev *types.Signal, cur *types.LogicalPosition) (Outcome, error) {
	if prev == nil || !cur.IsOpen() {
		return Outcome{}, errors.New("increase needs an open signal and a position")
	}
	now := g.now().UTC()
	sig := *prev
	sig.Action = types.ActionIncrease
	sig.OldPositionSize = prev.PositionSize
	sig.PositionSize = cur.Size
	sig.MarkPrice = markOr(cur.MarkPrice, prev.MarkPrice)
	// 这两个字段只描述 partial_close 本身，加仓行不沿用
	sig.ClosePercentage = nil
	sig.RealizedPnl = nil
	sig.UpdatedAt = now

	price := cur.EntryPrice
	upd := types.PositionUpdate{
		SignalID:     sig.ID,
		Action:       types.ActionIncrease,
		PositionSize: cur.Size,
		Price:        &price,
		Snapshot:     snapshot(cur),
		CreatedAt:    now,
	}
	if err := g.update(ctx, &sig, &upd); err != nil {
		return Outcome{}, err
	}
	logger.Infof("signal #%05d increased %s %s -> %s", sig.SequenceNumber, sig.Key, sig.OldPositionSize, sig.PositionSize)
	return Outcome{Signal: sig, Action: types.ActionIncrease, Update: upd}, nil
}

func (g *Generator) partialClose(ctx context.Context, prev *types.Signal, cur *types.LogicalPosition, useFills bool) (Outcome, error) {
	if prev == nil || !cur.IsOpen() {
		return Outcome{}, errors.New("partial close needs an open signal and a position")
	}
	exit := g.exitPrice(ctx, prev, cur, useFills)
	now := g.now().UTC()
	closed := prev.PositionSize.Sub(cur.Size)
	pct := ClosePercentage(prev.PositionSize, cur.Size)
	pnl := RealizedPnl(prev.Key.Category, prev.Key.Direction, closed, prev.EntryPrice, exit)

	sig := *prev
	sig.Action = types.ActionPartialClose
	sig.OldPositionSize = prev.PositionSize
	sig.PositionSize = cur.Size
	sig.MarkPrice = markOr(cur.MarkPrice, prev.MarkPrice)
	sig.ClosePercentage = &pct
	sig.RealizedPnl = &pnl
	sig.UpdatedAt = now

	upd := types.PositionUpdate{
		SignalID:        sig.ID,
		Action:          types.ActionPartialClose,
		PositionSize:    cur.Size,
		Price:           &exit,
		ClosePercentage: &pct,
		RealizedPnl:     &pnl,
		Snapshot:        snapshot(cur),
		CreatedAt:       now,
	}
	if err := g.update(ctx, &sig, &upd); err != nil {
		return Outcome{}, err
	}
	logger.Infof("signal #%05d partially closed %s %s%% pnl=%s", sig.SequenceNumber, sig.Key, pct.StringFixed(2), pnl)
	return Outcome{Signal: sig, Action: types.ActionPartialClose, Update: upd}, nil
}

func (g *Generator) close(ctx context.Context, prev *types.Signal, cur *types.LogicalPosition, useFills bool) (Outcome, error) {
	if prev == nil {
		return Outcome{}, errors.New("close needs an open signal")
	}
	// a reopened key reports the new position's mark, which says nothing about
	// where the old one was closed
	var observed *types.LogicalPosition
	if cur != nil && !cur.IsOpen() {
		observed = cur
	}
	exit := g.exitPrice(ctx, prev, observed, useFills)
	now := g.now().UTC()
	pnl := RealizedPnl(prev.Key.Category, prev.Key.Direction, prev.PositionSize, prev.EntryPrice, exit)
	profit := ProfitPercentage(prev.Key.Direction, prev.EntryPrice, exit)
	pct := hundred

	sig := *prev
	sig.Action = types.ActionClose
	sig.OldPositionSize = prev.PositionSize
	sig.PositionSize = decimal.Zero
	sig.ExitPrice = &exit
	sig.ClosePercentage = &pct
	sig.RealizedPnl = &pnl
	sig.ProfitPercentage = &profit
	sig.Completed = true
	sig.UpdatedAt = now
	sig.ClosedAt = &now

	upd := types.PositionUpdate{
		SignalID:        sig.ID,
		Action:          types.ActionClose,
		PositionSize:    decimal.Zero,
		Price:           &exit,
		ClosePercentage: &pct,
		RealizedPnl:     &pnl,
		Snapshot:        snapshot(observed),
		CreatedAt:       now,
	}
	if err := g.update(ctx, &sig, &upd); err != nil {
		return Outcome{}, err
	}
	logger.Infof("signal #%05d closed %s exit=%s profit=%s%%", sig.SequenceNumber, sig.Key, exit, profit.StringFixed(2))
	return Outcome{Signal: sig, Action: types.ActionClose, Update: upd}, nil
}

func (g *Generator) update(ctx context.Context, sig *types.Signal, upd *types.PositionUpdate) error {
	err := store.WithTx(ctx, g.store, func(uow store.UnitOfWork) error {
		if err := uow.Signals().UpdateOpen(ctx, sig); err != nil {
			return err
		}
		return uow.Updates().Insert(ctx, upd)
	})
	if err != nil {
		return &types.PersistenceError{Op: string(sig.Action), Key: sig.Key, Err: err}
	}
	return nil
}

// exitPrice prefers the weighted price of the executions that reduced the
// position since its last transition, then the observed mark, then the last
// persisted mark.
func (g *Generator) exitPrice(ctx context.Context, prev *types.Signal, cur *types.LogicalPosition, useFills bool) decimal.Decimal {
	if useFills && g.fills != nil {
		fills, err := g.fills.RecentCloseFills(ctx, prev.Key, closeFillsLimit)
		if err != nil {
			logger.Warnf("signal #%05d close fills unavailable, using mark: %v", prev.SequenceNumber, err)
		} else if px, ok := exchange.WeightedPrice(since(fills, prev.UpdatedAt)); ok {
			return px
		}
	}
	if cur != nil && cur.MarkPrice.IsPositive() {
		return cur.MarkPrice
	}
	if prev.MarkPrice.IsPositive() {
		return prev.MarkPrice
	}
	return prev.EntryPrice
}

func since(fills []exchange.Fill, from time.Time) []exchange.Fill {
	out := fills[:0:0]
	for _, f := range fills {
		if !f.ExecTime.Before(from) {
			out = append(out, f)
		}
	}
	return out
}

// Observe records the latest mark price of an unchanged position so a later
// close can be priced even after the key disappears.
func (g *Generator) Observe(ctx context.Context, sig types.Signal, cur *types.LogicalPosition) error {
	if !cur.IsOpen() || !cur.MarkPrice.IsPositive() || cur.MarkPrice.Equal(sig.MarkPrice) {
		return nil
	}
	err := g.store.Signals().UpdateMark(ctx, sig.ID, cur.MarkPrice)
	if errors.Is(err, types.ErrSignalCompleted) {
		return nil
	}
	return err
}

func markOr(mark, fallback decimal.Decimal) decimal.Decimal {
	if mark.IsPositive() {
		return mark
	}
	return fallback
}

func snapshot(p *types.LogicalPosition) map[string]any {
	if p == nil {
		return map[string]any{"absent": true}
	}
	snap := map[string]any{
		"size":        p.Size.String(),
		"entry_price": p.EntryPrice.String(),
		"mark_price":  p.MarkPrice.String(),
	}
	if p.Leverage != nil {
		snap["leverage"] = p.Leverage.String()
	}
	if !p.ObservedAt.IsZero() {
		snap["observed_at"] = p.ObservedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(p.Raw) > 0 {
		snap["raw"] = p.Raw
	}
	return snap
}
