package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigwatch/internal/gateway/exchange"
	"sigwatch/internal/notify"
	"sigwatch/internal/pkg/retry"
	"sigwatch/internal/signal"
	"sigwatch/internal/store"
	"sigwatch/internal/store/gormstore"
	"sigwatch/internal/tracker"
	"sigwatch/internal/types"
)

var (
	btcKey = types.PositionKey{Symbol: "BTCUSDT", Category: types.CategoryLinear, Direction: types.DirectionBuy}
	ethKey = types.PositionKey{Symbol: "ETHUSDT", Category: types.CategoryLinear, Direction: types.DirectionSell}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pos(key types.PositionKey, size, entry, mark string) types.LogicalPosition {
	lev := dec("10")
	return types.LogicalPosition{Key: key, Size: dec(size), EntryPrice: dec(entry), Leverage: &lev, MarkPrice: dec(mark)}
}

// scriptedSource returns one scripted reply per call, repeating the last one.
type scriptedSource struct {
	mu      sync.Mutex
	calls   int
	replies []func() ([]types.LogicalPosition, error)
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) FetchOpenPositions(context.Context, []types.Category) ([]types.LogicalPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	s.calls++
	return s.replies[i]()
}

func (s *scriptedSource) push(rows []types.LogicalPosition, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, func() ([]types.LogicalPosition, error) { return rows, err })
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type sent struct {
	Seq    int64
	Action types.Action
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []sent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, sig types.Signal, action types.Action) (notify.DeliveryReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sent{Seq: sig.SequenceNumber, Action: action})
	return notify.DeliveryReport{SignalID: sig.ID, Action: action}, nil
}

func (d *recordingDispatcher) actions() []types.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.Action, 0, len(d.sent))
	for _, s := range d.sent {
		out = append(out, s.Action)
	}
	return out
}

type recordingAlerts struct {
	mu    sync.Mutex
	texts []string
}

func (a *recordingAlerts) SendText(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return nil
}

func (a *recordingAlerts) contains(sub string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.texts {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

type fixture struct {
	store  *gormstore.GormStore
	source *scriptedSource
	disp   *recordingDispatcher
	alerts *recordingAlerts
	poller *Poller
}

func newFixture(t *testing.T, gen Generator) fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := gormstore.NewMemoryStore(name + "_" + uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	if gen == nil {
		gen = signal.NewGenerator(st, nil, signal.Options{})
	}
	src := &scriptedSource{}
	f := fixture{store: st, source: src, disp: &recordingDispatcher{}, alerts: &recordingAlerts{}}
	policy := retry.Policy{BaseDelay: time.Millisecond, Factor: 2, MaxDelay: 4 * time.Millisecond, MaxAttempts: 3}
	p, err := NewPoller(Config{
		Interval:           10 * time.Millisecond,
		CycleTimeout:       5 * time.Second,
		Categories:         []types.Category{types.CategoryLinear},
		Epsilon:            dec("0.00000001"),
		Workers:            4,
		AlertAfterFailures: 2,
	}, Deps{
		Source:    exchange.NewRetrying(src, policy),
		Store:     st,
		Generator: gen,
		Notifier:  f.disp,
		Alerts:    f.alerts,
	})
	require.NoError(t, err)
	f.poller = p
	return f
}

func TestLifecycleAcrossCycles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.source.push([]types.LogicalPosition{pos(btcKey, "1.0", "45000", "45000")}, nil)
	stats, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Transitions)

	f.source.push([]types.LogicalPosition{pos(btcKey, "0.5", "45000", "45800")}, nil)
	_, err = f.poller.RunCycle(ctx)
	require.NoError(t, err)

	f.source.push(nil, nil)
	_, err = f.poller.RunCycle(ctx)
	require.NoError(t, err)

	// nothing left to do
	stats, err = f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Transitions)

	assert.Equal(t, []types.Action{types.ActionOpen, types.ActionPartialClose, types.ActionClose}, f.disp.actions())
	all, err := f.store.Signals().List(ctx, store.SignalFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	sig := all[0]
	assert.True(t, sig.Completed)
	assert.True(t, sig.PositionSize.IsZero())
	assert.True(t, dec("45800").Equal(*sig.ExitPrice))

	updates, err := f.store.Updates().ListBySignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Len(t, updates, 3)
}

func TestTransientFetchRetriedWithinCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	transient := &types.TransientFetchError{Op: "position/list", Err: errors.New("503")}
	f.source.push(nil, transient)
	f.source.push(nil, transient)
	f.source.push([]types.LogicalPosition{pos(btcKey, "1", "100", "100")}, nil)

	stats, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.source.callCount())
	assert.Equal(t, 1, stats.Transitions)

	// a second cycle with the same snapshot changes nothing
	_, err = f.poller.RunCycle(ctx)
	require.NoError(t, err)

	open, err := f.store.Signals().ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	updates, err := f.store.Updates().ListBySignal(ctx, open[0].ID)
	require.NoError(t, err)
	assert.Len(t, updates, 1)
	assert.Equal(t, []types.Action{types.ActionOpen}, f.disp.actions())
}

func TestExhaustedFetchLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.source.push([]types.LogicalPosition{pos(btcKey, "1", "100", "100")}, nil)
	_, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)

	f.source.push(nil, &types.TransientFetchError{Op: "position/list", Err: errors.New("timeout")})
	_, err = f.poller.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, retry.ErrExhausted))

	open, err := f.store.Signals().ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1, "a failed fetch must not read as closes")

	_, _ = f.poller.RunCycle(ctx)
	require.Eventually(t, func() bool { return f.alerts.contains("Polling is failing") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.poller.Status().ConsecutiveFailures)
}

func TestInconsistentKeyDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	bad := pos(ethKey, "-1", "3000", "3000")
	f.source.push([]types.LogicalPosition{pos(btcKey, "1", "100", "100"), bad}, nil)

	stats, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Transitions)
	assert.Equal(t, 1, stats.Skipped)

	sig, err := f.store.Signals().FindOpenByKey(ctx, btcKey)
	require.NoError(t, err)
	require.NotNil(t, sig)
	none, err := f.store.Signals().FindOpenByKey(ctx, ethKey)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDefectRowIsNotAClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.source.push([]types.LogicalPosition{pos(btcKey, "1", "100", "100")}, nil)
	_, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)

	broken := types.LogicalPosition{Key: btcKey, Defect: "unparseable size"}
	f.source.push([]types.LogicalPosition{broken}, nil)
	stats, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	sig, err := f.store.Signals().FindOpenByKey(ctx, btcKey)
	require.NoError(t, err)
	assert.NotNil(t, sig)
}

func TestUnreadableSideDoesNotCloseSiblings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.source.push([]types.LogicalPosition{pos(btcKey, "1", "100", "100"), pos(ethKey, "2", "3000", "3000")}, nil)
	_, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)

	garbled := types.LogicalPosition{
		Key:    types.PositionKey{Symbol: btcKey.Symbol, Category: btcKey.Category},
		Defect: `unknown direction "Bye"`,
	}
	f.source.push([]types.LogicalPosition{garbled, pos(ethKey, "2", "3000", "3000")}, nil)
	stats, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Transitions)
	assert.Equal(t, 2, stats.Skipped)

	sig, err := f.store.Signals().FindOpenByKey(ctx, btcKey)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, []types.Action{types.ActionOpen, types.ActionOpen}, f.disp.actions())

	// once the feed is readable again the vanished position closes normally
	f.source.push([]types.LogicalPosition{pos(ethKey, "2", "3000", "3000")}, nil)
	stats, err = f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Transitions)
	sig, err = f.store.Signals().FindOpenByKey(ctx, btcKey)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestAuthErrorSuspendsUntilResume(t *testing.T) {
	f := newFixture(t, nil)
	f.source.push(nil, &types.AuthError{Code: 10003, Message: "API key is invalid."})
	f.source.push(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, func() bool { return f.poller.Status().State == StateSuspended }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, f.alerts.contains("Polling suspended"))
	assert.Equal(t, 1, f.source.callCount(), "auth errors are not retried")

	assert.True(t, f.poller.Resume())
	assert.False(t, f.poller.Resume())
	require.Eventually(t, func() bool { return f.source.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, f.poller.Status().State)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestSuspendedCycleDoesNotFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.source.push(nil, &types.AuthError{Code: 10003, Message: "API key is invalid."})

	_, err := f.poller.RunCycle(ctx)
	require.True(t, types.IsAuth(err))
	_, err = f.poller.RunCycle(ctx)
	require.ErrorIs(t, err, types.ErrPollerSuspended)
	assert.Equal(t, 1, f.source.callCount())

	require.True(t, f.poller.Resume())
	f.source.push(nil, nil)
	_, err = f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.source.callCount())
}

func TestUntrackedCategoriesAreIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	gen := signal.NewGenerator(f.store, nil, signal.Options{})
	inverse := types.PositionKey{Symbol: "BTCUSD", Category: types.CategoryInverse, Direction: types.DirectionBuy}
	_, err := gen.Inject(ctx, signal.InjectRequest{Key: inverse, Action: types.ActionOpen, Size: dec("100"), Price: dec("40000")})
	require.NoError(t, err)

	f.source.push(nil, nil)
	stats, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Keys)

	sig, err := f.store.Signals().FindOpenByKey(ctx, inverse)
	require.NoError(t, err)
	assert.NotNil(t, sig)
}

// flakyCloser fails the first close it sees and records every transition.
type flakyCloser struct {
	Generator
	mu     sync.Mutex
	failed bool
	seen   []tracker.Transition
}

func (g *flakyCloser) Apply(ctx context.Context, tr tracker.Transition) ([]signal.Outcome, error) {
	g.mu.Lock()
	g.seen = append(g.seen, tr)
	fail := tr.Kind == tracker.Close && !g.failed
	if fail {
		g.failed = true
	}
	g.mu.Unlock()
	if fail {
		return nil, &types.PersistenceError{Op: "close", Key: tr.Key, Err: errors.New("disk full")}
	}
	return g.Generator.Apply(ctx, tr)
}

func TestGapWithNewEntryReopens(t *testing.T) {
	ctx := context.Background()
	gen := &flakyCloser{}
	f := newFixture(t, gen)
	gen.Generator = signal.NewGenerator(f.store, nil, signal.Options{})

	f.source.push([]types.LogicalPosition{pos(btcKey, "1", "100", "100")}, nil)
	f.source.push(nil, nil)
	f.source.push([]types.LogicalPosition{pos(btcKey, "1", "120", "120")}, nil)

	_, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)
	stats, err := f.poller.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []string{btcKey.String()}, f.poller.Status().AbsentKeys)

	_, err = f.poller.RunCycle(ctx)
	require.NoError(t, err)
	last := gen.seen[len(gen.seen)-1]
	assert.Equal(t, tracker.Close, last.Kind)
	assert.True(t, last.Reopen)
	assert.Empty(t, f.poller.Status().AbsentKeys)
	assert.Equal(t, []types.Action{types.ActionOpen, types.ActionClose, types.ActionOpen}, f.disp.actions())

	open, err := f.store.Signals().ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, dec("120").Equal(open[0].EntryPrice))
	assert.Equal(t, int64(2), open[0].SequenceNumber)
}
