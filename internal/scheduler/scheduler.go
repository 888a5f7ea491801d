// Package scheduler drives the poll loop: fetch, classify, persist and notify,
// one cycle at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sigwatch/internal/gateway/exchange"
	"sigwatch/internal/gateway/notifier"
	"sigwatch/internal/logger"
	"sigwatch/internal/notify"
	"sigwatch/internal/pkg/circuit"
	"sigwatch/internal/signal"
	"sigwatch/internal/store"
	"sigwatch/internal/tracker"
	"sigwatch/internal/types"
)

// Lease gates polling when several replicas run. Acquire also renews.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Dispatcher is the part of notify.Dispatcher the poller needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, sig types.Signal, action types.Action) (notify.DeliveryReport, error)
}

// Generator is the part of signal.Generator the poller needs.
type Generator interface {
	Apply(ctx context.Context, tr tracker.Transition) ([]signal.Outcome, error)
	Observe(ctx context.Context, sig types.Signal, cur *types.LogicalPosition) error
}

type Config struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	Categories   []types.Category
	Epsilon      decimal.Decimal
	Workers      int
	// AlertAfterFailures consecutive failed cycles raise an operator alert.
	AlertAfterFailures int
}

type Deps struct {
	Source    exchange.PositionSource
	Store     store.Store
	Generator Generator
	Notifier  Dispatcher
	Alerts    notifier.TextNotifier
	// Lease is optional.
	Lease Lease
}

// Poller owns the poll loop. Cycles never overlap: the next one is scheduled
// only after the previous one finished or timed out.
type Poller struct {
	cfg      Config
	source   exchange.PositionSource
	store    store.Store
	gen      Generator
	disp     Dispatcher
	alerts   notifier.TextNotifier
	lease    Lease
	failures *circuit.CircuitBreaker
	tracked  map[types.Category]bool

	mu        sync.Mutex
	status    Status
	resumed   chan struct{}
	absent    map[types.PositionKey]bool
	now       func() time.Time
	cycleLock sync.Mutex
}

func NewPoller(cfg Config, deps Deps) (*Poller, error) {
	if deps.Source == nil || deps.Store == nil || deps.Generator == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("poller requires source, store, generator and dispatcher")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0")
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 4 * cfg.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.AlertAfterFailures <= 0 {
		cfg.AlertAfterFailures = 3
	}
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("poller requires at least one category")
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = notifier.Nop{}
	}
	tracked := make(map[types.Category]bool, len(cfg.Categories))
	for _, c := range cfg.Categories {
		tracked[c] = true
	}
	p := &Poller{
		cfg:     cfg,
		source:  deps.Source,
		store:   deps.Store,
		gen:     deps.Generator,
		disp:    deps.Notifier,
		alerts:  alerts,
		lease:   deps.Lease,
		tracked: tracked,
		absent:  make(map[types.PositionKey]bool),
		now:     time.Now,
	}
	p.status.State = StateRunning
	// the breaker only counts; polling never stops for it
	p.failures = circuit.NewCircuitBreaker("poll-cycle", cfg.AlertAfterFailures, cfg.Interval)
	p.failures.SetStateChangeHandler(p.onFailureStateChange)
	return p, nil
}

// Run polls until ctx ends. The first cycle starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	logger.Infof("Poller: started source=%s interval=%s cycle_timeout=%s categories=%v workers=%d",
		p.source.Name(), p.cfg.Interval, p.cfg.CycleTimeout, p.cfg.Categories, p.cfg.Workers)
	defer p.releaseLease()

	for {
		if wait := p.suspendedChan(); wait != nil {
			logger.Warnf("Poller: suspended, waiting for resume")
			select {
			case <-ctx.Done():
				logger.Infof("Poller: ctx done, exit")
				return nil
			case <-wait:
				logger.Infof("Poller: resumed")
			}
		}

		if _, err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("Poller: cycle failed: %v", err)
		}

		if p.suspendedChan() != nil {
			continue
		}
		timer := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("Poller: ctx done, exit")
			return nil
		case <-timer.C:
		}
	}
}

// Resume lifts an auth suspension. It reports false when polling was not suspended.
func (p *Poller) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed == nil {
		return false
	}
	close(p.resumed)
	p.resumed = nil
	p.status.State = StateRunning
	p.status.SuspendReason = ""
	return true
}

func (p *Poller) suspendedChan() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resumed == nil {
		return nil
	}
	return p.resumed
}

func (p *Poller) suspend(ctx context.Context, err error) {
	p.mu.Lock()
	already := p.resumed != nil
	if !already {
		p.resumed = make(chan struct{})
	}
	p.status.State = StateSuspended
	p.status.SuspendReason = err.Error()
	p.mu.Unlock()
	if already {
		return
	}
	logger.Errorf("Poller: exchange rejected credentials, polling suspended: %v", err)
	p.alert(ctx, notifier.StructuredMessage{
		Icon:     "⛔",
		Title:    "Polling suspended",
		Sections: []notifier.MessageSection{{Title: "Exchange auth error", Lines: []string{err.Error()}}},
		Footer:   "Fix the API credentials, then POST /api/poller/resume",
	})
}

func (p *Poller) onFailureStateChange(name string, from, to circuit.State, failures int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch to {
	case circuit.StateOpen:
		p.mu.Lock()
		last := p.status.LastError
		p.mu.Unlock()
		logger.Errorf("Poller: %d consecutive cycle failures", failures)
		p.alert(ctx, notifier.StructuredMessage{
			Icon:     "⚠️",
			Title:    "Polling is failing",
			Sections: []notifier.MessageSection{{Title: "Last error", Lines: []string{last}}},
			Footer:   fmt.Sprintf("%d consecutive failed cycles", failures),
		})
	case circuit.StateClosed:
		logger.Infof("Poller: recovered (%s -> %s)", from, to)
		p.alert(ctx, notifier.StructuredMessage{Icon: "✅", Title: "Polling recovered"})
	}
}

func (p *Poller) alert(ctx context.Context, msg notifier.StructuredMessage) {
	msg.Timestamp = p.now()
	if err := p.alerts.SendText(ctx, msg.RenderHTML()); err != nil {
		logger.Warnf("Poller: operator alert failed: %v", err)
	}
}

func (p *Poller) releaseLease() {
	if p.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.lease.Release(ctx); err != nil {
		logger.Warnf("Poller: release lease: %v", err)
	}
}
