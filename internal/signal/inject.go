package signal

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"sigwatch/internal/tracker"
	"sigwatch/internal/types"
)

// InjectRequest describes a synthetic transition for operational testing.
type InjectRequest struct {
	Key    types.PositionKey
	Action types.Action
	Size   decimal.Decimal
	// Price is the entry price for open and the exit price for close.
	Price    decimal.Decimal
	Leverage *decimal.Decimal
}

// Inject runs a manual open or close straight through Apply, without the
// exchange client or the diff engine. Closes never look up fills.
func (g *Generator) Inject(ctx context.Context, req InjectRequest) ([]Outcome, error) {
	prev, err := g.store.Signals().FindOpenByKey(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()

	switch req.Action {
	case types.ActionOpen:
		if prev != nil {
			return nil, fmt.Errorf("inject open %s: %w", req.Key, types.ErrOpenSignalExists)
		}
		cur := &types.LogicalPosition{
			Key:        req.Key,
			Size:       req.Size,
			EntryPrice: req.Price,
			Leverage:   req.Leverage,
			MarkPrice:  req.Price,
			ObservedAt: now,
		}
		if err := cur.Validate(); err != nil {
			return nil, err
		}
		if !cur.IsOpen() {
			return nil, fmt.Errorf("inject open %s: size must be positive", req.Key)
		}
		return g.apply(ctx, tracker.Transition{Kind: tracker.Open, Key: req.Key, Current: cur}, false)
	case types.ActionClose:
		if prev == nil {
			return nil, fmt.Errorf("inject close %s: %w", req.Key, types.ErrNoOpenSignal)
		}
		cur := &types.LogicalPosition{Key: req.Key, MarkPrice: req.Price, ObservedAt: now}
		return g.apply(ctx, tracker.Transition{Kind: tracker.Close, Key: req.Key, Previous: prev, Current: cur}, false)
	default:
		return nil, fmt.Errorf("inject: unsupported action %q", req.Action)
	}
}
