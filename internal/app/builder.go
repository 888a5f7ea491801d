package app

import (
	"context"
	"fmt"
	"io"

	"sigwatch/internal/cache/redis"
	"sigwatch/internal/config"
	"sigwatch/internal/gateway"
	"sigwatch/internal/gateway/exchange"
	"sigwatch/internal/gateway/notifier"
	"sigwatch/internal/logger"
	"sigwatch/internal/notify"
	"sigwatch/internal/pkg/circuit"
	"sigwatch/internal/scheduler"
	"sigwatch/internal/signal"
	"sigwatch/internal/store"
	"sigwatch/internal/store/gormstore"
	adminhttp "sigwatch/internal/transport/http/admin"
)

// AppBuilder 组装各层依赖。每一步都可替换，测试里用来注入内存库和假交易所。
type AppBuilder struct {
	cfg *config.Config

	storeFn     func(config.StoreConfig) (*gormstore.GormStore, error)
	exchangeFn  func(config.ExchangeConfig) (exchange.Client, error)
	messengerFn func(config.TelegramConfig) (*notifier.Telegram, error)
	leaseFn     func(context.Context, config.RedisLockConfig) (*redis.PollLease, io.Closer, error)
}

type AppBuilderOption func(*AppBuilder)

// WithStore overrides the database constructor.
func WithStore(fn func(config.StoreConfig) (*gormstore.GormStore, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.storeFn = fn }
}

// WithExchange overrides the venue client constructor.
func WithExchange(fn func(config.ExchangeConfig) (exchange.Client, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.exchangeFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		storeFn:     openStore,
		exchangeFn:  gateway.NewExchangeFromConfig,
		messengerFn: newTelegram,
		leaseFn:     openLease,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	var closers []io.Closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	closers = append(closers, st)
	logger.Infof("✓ 数据库已就绪 driver=%s", cfg.Store.Driver)

	client, err := b.exchangeFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("init exchange: %w", err)
	}
	source := exchange.NewRetrying(client, cfg.Exchange.Retry.Policy())
	gen := signal.NewGenerator(st, client, signal.Options{FetchFills: cfg.Tracker.FetchFills})

	disp, tg, err := b.buildDispatcher(st)
	if err != nil {
		return nil, err
	}

	deps := scheduler.Deps{
		Source:    source,
		Store:     st,
		Generator: gen,
		Notifier:  disp,
		Alerts:    tg,
	}
	if cfg.Lock.Redis.Enabled {
		lease, closer, err := b.leaseFn(ctx, cfg.Lock.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis lease: %w", err)
		}
		closers = append(closers, closer)
		deps.Lease = lease
		logger.Infof("✓ Redis 轮询租约已启用 key=%s ttl=%s", cfg.Lock.Redis.Key, cfg.Lock.Redis.TTL())
	}

	poller, err := scheduler.NewPoller(scheduler.Config{
		Interval:           cfg.Tracker.PollInterval(),
		CycleTimeout:       cfg.Tracker.CycleTimeout(),
		Categories:         cfg.Exchange.CategorySet(),
		Epsilon:            cfg.Tracker.Epsilon(),
		Workers:            cfg.Tracker.Workers,
		AlertAfterFailures: cfg.Tracker.AlertAfterFailures,
	}, deps)
	if err != nil {
		return nil, err
	}

	admin, err := adminhttp.NewServer(adminhttp.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Router: &adminhttp.Router{
			Store:    st,
			Poller:   poller,
			DB:       st,
			Location: cfg.Notify.Location(),
			Token:    cfg.App.AdminToken,
		},
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		poller:  poller,
		admin:   admin,
		closers: closers,
		Summary: buildSummary(cfg, source.Name()),
	}, nil
}

// buildDispatcher wires Telegram, the template renderer and the delivery breaker.
func (b *AppBuilder) buildDispatcher(st store.Store) (*notify.Dispatcher, *notifier.Telegram, error) {
	cfg := b.cfg
	tg, err := b.messengerFn(cfg.Notify.Telegram)
	if err != nil {
		return nil, nil, fmt.Errorf("init telegram: %w", err)
	}
	renderer, err := notify.NewRenderer(cfg.Notify.DefaultLocale, cfg.Notify.Location())
	if err != nil {
		return nil, nil, fmt.Errorf("init templates: %w", err)
	}
	if path := cfg.Notify.TemplatesPath; path != "" {
		if _, err := notify.WatchTemplates(renderer, path); err != nil {
			return nil, nil, fmt.Errorf("load templates %s: %w", path, err)
		}
		logger.Infof("✓ 消息模板覆盖已加载: %s", path)
	}
	breaker := circuit.NewCircuitBreaker("telegram", cfg.Notify.Breaker.Threshold, cfg.Notify.Breaker.Cooldown())
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State, failures int) {
		logger.Warnf("circuit %s: %s -> %s (failures=%d)", name, from, to, failures)
	})
	disp := notify.NewDispatcher(st, tg, renderer, notify.Options{
		RatePerSecond: cfg.Notify.RateLimitPerSecond,
		Burst:         cfg.Notify.Burst,
		Workers:       cfg.Notify.Workers,
		Retry:         cfg.Notify.Retry.Policy(),
		Breaker:       breaker,
	})
	return disp, tg, nil
}

func openStore(cfg config.StoreConfig) (*gormstore.GormStore, error) {
	return gormstore.Open(cfg.Driver, cfg.Path, cfg.DSN)
}

func newTelegram(cfg config.TelegramConfig) (*notifier.Telegram, error) {
	return notifier.NewTelegram(notifier.TelegramConfig{
		APIURL:      cfg.APIURL,
		BotToken:    cfg.BotToken,
		AdminChatID: cfg.ChatID(),
		Timeout:     cfg.Timeout(),
	})
}

func openLease(ctx context.Context, cfg config.RedisLockConfig) (*redis.PollLease, io.Closer, error) {
	client, err := redis.New(ctx, redis.ClientConfig{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		return nil, nil, err
	}
	return redis.NewPollLease(client, cfg.Key, cfg.TTL()), client, nil
}
