package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigwatch/internal/config"
	"sigwatch/internal/gateway/exchange"
	"sigwatch/internal/scheduler"
	"sigwatch/internal/signal"
	"sigwatch/internal/store/gormstore"
	"sigwatch/internal/types"
)

type quietExchange struct {
	fetches atomic.Int32
}

func (q *quietExchange) Name() string { return "quiet" }

func (q *quietExchange) FetchOpenPositions(context.Context, []types.Category) ([]types.LogicalPosition, error) {
	q.fetches.Add(1)
	return nil, nil
}

func (q *quietExchange) RecentCloseFills(context.Context, types.PositionKey, int) ([]exchange.Fill, error) {
	return nil, nil
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  http_addr: "127.0.0.1:0"
exchange:
  api_key: k
  api_secret: s
  categories: [linear, inverse]
store:
  path: unused.db
notify:
  telegram:
    bot_token: "123:abc"
`), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newTestBuilder(t *testing.T, cfg *config.Config, ex *quietExchange) *AppBuilder {
	t.Helper()
	return NewAppBuilder(cfg,
		WithStore(func(config.StoreConfig) (*gormstore.GormStore, error) {
			return gormstore.NewMemoryStore("app_" + uuid.NewString())
		}),
		WithExchange(func(config.ExchangeConfig) (exchange.Client, error) { return ex, nil }),
	)
}

func TestBuildWiresPollerAndAdmin(t *testing.T) {
	cfg := loadTestConfig(t)
	app, err := newTestBuilder(t, cfg, &quietExchange{}).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.NotNil(t, app.Poller())
	assert.Equal(t, scheduler.StateRunning, app.Poller().Status().State)
	require.NotNil(t, app.admin)
	assert.Equal(t, "127.0.0.1:0", app.admin.Addr())

	require.NotNil(t, app.Summary)
	assert.Equal(t, []string{"linear", "inverse"}, app.Summary.Exchange.Categories)
	assert.Equal(t, "disabled", app.Summary.Lease)
	var buf bytes.Buffer
	app.Summary.Fprint(&buf)
	assert.Contains(t, buf.String(), "linear, inverse")
}

func TestBuildFailsOnBrokenTemplateOverride(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Notify.TemplatesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := newTestBuilder(t, cfg, &quietExchange{}).Build(context.Background())
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := loadTestConfig(t)
	ex := &quietExchange{}
	app, err := newTestBuilder(t, cfg, ex).Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, app.Run(ctx))
	assert.GreaterOrEqual(t, ex.fetches.Load(), int32(1))
}

func TestInjectOpenThenCloseOnFreshStore(t *testing.T) {
	cfg := loadTestConfig(t)
	b := newTestBuilder(t, cfg, &quietExchange{})
	req := signal.InjectRequest{
		Key:    types.PositionKey{Symbol: "BTCUSDT", Category: types.CategoryLinear, Direction: types.DirectionBuy},
		Action: types.ActionOpen,
		Size:   decimal.RequireFromString("0.5"),
		Price:  decimal.RequireFromString("45000"),
	}

	res, err := b.Inject(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, int64(1), res.Outcomes[0].Signal.SequenceNumber)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, 0, res.Reports[0].Recipients)

	// every Inject call gets its own in-memory database here
	req.Action = types.ActionClose
	_, err = b.Inject(context.Background(), req)
	require.ErrorIs(t, err, types.ErrNoOpenSignal)
}
