package exchange

import (
	"context"

	"sigwatch/internal/logger"
	"sigwatch/internal/pkg/retry"
	"sigwatch/internal/types"
)

// Retrying wraps a PositionSource with the fetch retry policy. Only
// TransientFetchError is retried; auth failures surface on the first attempt.
type Retrying struct {
	inner  PositionSource
	policy retry.Policy
}

func NewRetrying(inner PositionSource, policy retry.Policy) *Retrying {
	return &Retrying{inner: inner, policy: policy}
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) FetchOpenPositions(ctx context.Context, categories []types.Category) ([]types.LogicalPosition, error) {
	var out []types.LogicalPosition
	attempts, err := r.policy.Do(ctx, types.IsTransientFetch, func(ctx context.Context, attempt int) error {
		rows, err := r.inner.FetchOpenPositions(ctx, categories)
		if err != nil {
			if types.IsTransientFetch(err) {
				logger.Warnf("%s fetch attempt %d/%d failed: %v", r.inner.Name(), attempt, r.policy.MaxAttempts, err)
			}
			return err
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	if attempts > 1 {
		logger.Infof("%s fetch recovered after %d attempts", r.inner.Name(), attempts)
	}
	return out, nil
}
