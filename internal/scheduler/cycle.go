package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sigwatch/internal/logger"
	"sigwatch/internal/tracker"
	"sigwatch/internal/types"
)

// CycleStats describes one finished cycle.
type CycleStats struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Standby     bool          `json:"standby,omitempty"`
	Positions   int           `json:"positions"`
	OpenSignals int           `json:"open_signals"`
	Keys        int           `json:"keys"`
	Transitions int           `json:"transitions"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
}

type keyResult struct {
	transitions int
	skipped     bool
	err         error
	// stillOpen is true when an open signal survived a poll that did not report the key.
	stillOpen bool
}

// RunCycle performs one fetch -> classify -> apply -> dispatch pass. Errors
// local to a key are counted in the stats; only fetch, lease and store-read
// failures are returned. A suspended poller returns types.ErrPollerSuspended
// without touching the exchange.
func (p *Poller) RunCycle(parent context.Context) (CycleStats, error) {
	p.cycleLock.Lock()
	defer p.cycleLock.Unlock()
	if p.suspendedChan() != nil {
		return CycleStats{}, types.ErrPollerSuspended
	}

	stats := CycleStats{StartedAt: p.now().UTC()}
	ctx, cancel := context.WithTimeout(parent, p.cfg.CycleTimeout)
	defer cancel()

	err := p.cycle(ctx, &stats)
	stats.Duration = p.now().Sub(stats.StartedAt)
	p.finishCycle(stats, err)
	return stats, err
}

func (p *Poller) cycle(ctx context.Context, stats *CycleStats) error {
	if p.lease != nil {
		ok, err := p.lease.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("lease: %w", err)
		}
		if !ok {
			stats.Standby = true
			logger.Debugf("Poller: another replica holds the lease, standing by")
			return nil
		}
	}

	rows, err := p.source.FetchOpenPositions(ctx, p.cfg.Categories)
	if err != nil {
		if types.IsAuth(err) {
			p.suspend(ctx, err)
		}
		return fmt.Errorf("fetch positions: %w", err)
	}
	stats.Positions = len(rows)

	open, err := p.store.Signals().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("load open signals: %w", err)
	}

	current := tracker.Fold(rows)
	blind := tracker.BlindSpots(rows)
	previous := make(map[types.PositionKey]types.Signal, len(open))
	keySet := make(map[types.PositionKey]struct{}, len(current)+len(open))
	for k := range current {
		if p.tracked[k.Category] {
			keySet[k] = struct{}{}
		}
	}
	for _, sig := range open {
		if !p.tracked[sig.Key.Category] {
			continue
		}
		stats.OpenSignals++
		previous[sig.Key] = sig
		keySet[sig.Key] = struct{}{}
	}
	keys := make([]types.PositionKey, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	stats.Keys = len(keys)

	p.mu.Lock()
	gaps := make(map[types.PositionKey]bool, len(p.absent))
	for k := range p.absent {
		gaps[k] = true
	}
	p.mu.Unlock()

	var mu sync.Mutex
	results := make(map[types.PositionKey]keyResult, len(keys))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Workers)
	for _, key := range keys {
		if blind.Covers(key) {
			logger.Warnf("Poller: skip %s this cycle: a row for %s %s has an unreadable key", key, key.Category, key.Symbol)
			mu.Lock()
			results[key] = keyResult{skipped: true}
			mu.Unlock()
			continue
		}
		var prev *types.Signal
		if s, ok := previous[key]; ok {
			prev = &s
		}
		var cur *types.LogicalPosition
		if row, ok := current[key]; ok {
			cur = &row
		}
		gap := gaps[key]
		key := key
		eg.Go(func() error {
			res := p.processKey(egCtx, key, prev, cur, gap)
			mu.Lock()
			results[key] = res
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	p.mu.Lock()
	for key, res := range results {
		stats.Transitions += res.transitions
		if res.skipped {
			stats.Skipped++
		}
		if res.err != nil {
			stats.Failed++
		}
		if res.stillOpen {
			p.absent[key] = true
		} else if !res.skipped {
			delete(p.absent, key)
		}
	}
	p.mu.Unlock()

	if ctx.Err() != nil {
		return fmt.Errorf("cycle deadline: %w", ctx.Err())
	}
	return nil
}

// processKey handles one key end to end. Outcomes are dispatched in the order
// they were committed.
func (p *Poller) processKey(ctx context.Context, key types.PositionKey, prev *types.Signal, cur *types.LogicalPosition, gap bool) keyResult {
	var res keyResult
	if cur != nil {
		if err := cur.Validate(); err != nil {
			logger.Warnf("Poller: skip %s this cycle: %v", key, err)
			res.skipped = true
			return res
		}
	}

	tr := tracker.Classify(key, prev, cur, tracker.Options{Epsilon: p.cfg.Epsilon, Gap: gap && cur.IsOpen()})
	if tr.Kind == tracker.NoChange {
		if prev != nil {
			if err := p.gen.Observe(ctx, *prev, cur); err != nil {
				logger.Warnf("Poller: record mark for %s: %v", key, err)
			}
		}
		return res
	}

	outcomes, err := p.gen.Apply(ctx, tr)
	res.transitions = len(outcomes)
	if err != nil {
		res.err = err
		var pe *types.PersistenceError
		if errors.As(err, &pe) {
			logger.Errorf("Poller: %s %s rolled back, retry next cycle: %v", tr.Kind, key, err)
		} else {
			logger.Errorf("Poller: %s %s failed: %v", tr.Kind, key, err)
		}
		res.stillOpen = prev != nil && !cur.IsOpen() && len(outcomes) == 0
	}
	for _, out := range outcomes {
		if _, err := p.disp.Dispatch(ctx, out.Signal, out.Action); err != nil {
			logger.Errorf("Poller: dispatch signal #%05d %s: %v", out.Signal.SequenceNumber, out.Action, err)
		}
	}
	return res
}

func (p *Poller) finishCycle(stats CycleStats, err error) {
	p.mu.Lock()
	p.status.Cycles++
	p.status.LastCycle = stats
	p.status.LastCycleAt = stats.StartedAt
	if err == nil {
		p.status.LastSuccessAt = stats.StartedAt
		p.status.LastError = ""
		if p.status.State == StateRunning || p.status.State == StateStandby {
			if stats.Standby {
				p.status.State = StateStandby
			} else {
				p.status.State = StateRunning
			}
		}
	} else {
		p.status.LastError = err.Error()
	}
	p.mu.Unlock()

	if err == nil {
		p.failures.RecordSuccess()
		if stats.Transitions > 0 || stats.Failed > 0 || stats.Skipped > 0 {
			logger.Infof("Poller: cycle done positions=%d keys=%d transitions=%d skipped=%d failed=%d in %s",
				stats.Positions, stats.Keys, stats.Transitions, stats.Skipped, stats.Failed, stats.Duration.Truncate(time.Millisecond))
		}
		return
	}
	if !types.IsAuth(err) {
		p.failures.RecordFailure()
	}
}
