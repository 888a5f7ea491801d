package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9992"
	defaultAppLogMaxSizeMB   = 50
	defaultAppLogMaxBackups  = 5
	defaultAppLogMaxAgeDays  = 14
	defaultExchangeName      = "bybit"
	defaultBybitBaseURL      = "https://api.bybit.com"
	defaultBybitTestnetURL   = "https://api-testnet.bybit.com"
	defaultRecvWindowMs      = 5000
	defaultExchangeTimeout   = 10
	defaultSettleCoin        = "USDT"
	defaultPollInterval      = 5
	defaultSizeEpsilon       = "0.00000001"
	defaultTrackerWorkers    = 4
	defaultAlertAfter        = 3
	defaultStoreDriver       = "sqlite"
	defaultStorePath         = "/data/db/sigwatch.db"
	defaultTelegramAPI       = "https://api.telegram.org"
	defaultTelegramTimeout   = 15
	defaultNotifyRate        = 25
	defaultNotifyWorkers     = 8
	defaultNotifyLocale      = "ru"
	defaultNotifyTimezone    = "Europe/Moscow"
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 60
	defaultRedisAddr         = "127.0.0.1:6379"
	defaultRedisTTL          = 30
	defaultRedisKey          = "sigwatch:poller"
	defaultFetchBaseDelayMs  = 500
	defaultFetchMaxDelayMs   = 8000
	defaultFetchMaxAttempts  = 4
	defaultNotifyBaseDelayMs = 1000
	defaultNotifyMaxDelayMs  = 30000
	defaultNotifyMaxAttempts = 3
	defaultRetryFactor       = 2
)

var defaultCategories = []string{"linear"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Tracker.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Lock.Redis.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		intFieldDefault("app.log_max_size_mb", &a.LogMaxSizeMB, defaultAppLogMaxSizeMB),
		intFieldDefault("app.log_max_backups", &a.LogMaxBackups, defaultAppLogMaxBackups),
		intFieldDefault("app.log_max_age_days", &a.LogMaxAgeDays, defaultAppLogMaxAgeDays),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	base := defaultBybitBaseURL
	if e.Testnet {
		base = defaultBybitTestnetURL
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		stringFieldDefault("exchange.base_url", &e.BaseURL, base),
		stringFieldDefault("exchange.settle_coin", &e.SettleCoin, defaultSettleCoin),
		intFieldDefault("exchange.recv_window_ms", &e.RecvWindowMs, defaultRecvWindowMs),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExchangeTimeout),
		fieldDefault{
			key:   "exchange.categories",
			need:  func() bool { return len(e.Categories) == 0 },
			apply: func() { e.Categories = append([]string(nil), defaultCategories...) },
		},
	)
	e.Name = strings.ToLower(strings.TrimSpace(e.Name))
	e.BaseURL = strings.TrimRight(strings.TrimSpace(e.BaseURL), "/")
	e.Retry.applyDefaults(keys, "exchange.retry", defaultFetchBaseDelayMs, defaultFetchMaxDelayMs, defaultFetchMaxAttempts)
}

func (r *RetryConfig) applyDefaults(keys keySet, prefix string, baseMs, maxMs, attempts int) {
	applyFieldDefaults(keys,
		intFieldDefault(prefix+".base_delay_ms", &r.BaseDelayMs, baseMs),
		intFieldDefault(prefix+".max_delay_ms", &r.MaxDelayMs, maxMs),
		intFieldDefault(prefix+".max_attempts", &r.MaxAttempts, attempts),
		fieldDefault{
			key:   prefix + ".factor",
			need:  func() bool { return r.Factor <= 0 },
			apply: func() { r.Factor = defaultRetryFactor },
		},
	)
}

func (t *TrackerConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("tracker.poll_interval_seconds", &t.PollIntervalSeconds, defaultPollInterval),
		stringFieldDefault("tracker.size_epsilon", &t.SizeEpsilon, defaultSizeEpsilon),
		intFieldDefault("tracker.workers", &t.Workers, defaultTrackerWorkers),
		intFieldDefault("tracker.alert_after_failures", &t.AlertAfterFailures, defaultAlertAfter),
		boolFieldDefault("tracker.fetch_fills", &t.FetchFills, true),
	)
	// 默认 4 个轮询间隔。
	applyFieldDefaults(keys, fieldDefault{
		key:   "tracker.cycle_timeout_seconds",
		need:  func() bool { return t.CycleTimeoutSeconds <= 0 },
		apply: func() { t.CycleTimeoutSeconds = 4 * t.PollIntervalSeconds },
	})
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == "sqlite" {
		applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
	}
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.telegram.api_url", &n.Telegram.APIURL, defaultTelegramAPI),
		intFieldDefault("notify.telegram.timeout_seconds", &n.Telegram.TimeoutSeconds, defaultTelegramTimeout),
		fieldDefault{
			key:   "notify.rate_limit_per_second",
			need:  func() bool { return n.RateLimitPerSecond <= 0 },
			apply: func() { n.RateLimitPerSecond = defaultNotifyRate },
		},
		intFieldDefault("notify.workers", &n.Workers, defaultNotifyWorkers),
		stringFieldDefault("notify.default_locale", &n.DefaultLocale, defaultNotifyLocale),
		stringFieldDefault("notify.timezone", &n.Timezone, defaultNotifyTimezone),
		intFieldDefault("notify.breaker.threshold", &n.Breaker.Threshold, defaultBreakerThreshold),
		intFieldDefault("notify.breaker.cooldown_seconds", &n.Breaker.CooldownSeconds, defaultBreakerCooldown),
	)
	applyFieldDefaults(keys, fieldDefault{
		key:   "notify.burst",
		need:  func() bool { return n.Burst <= 0 },
		apply: func() { n.Burst = max(1, int(n.RateLimitPerSecond)) },
	})
	n.Telegram.APIURL = strings.TrimRight(strings.TrimSpace(n.Telegram.APIURL), "/")
	n.DefaultLocale = strings.ToLower(strings.TrimSpace(n.DefaultLocale))
	n.Retry.applyDefaults(keys, "notify.retry", defaultNotifyBaseDelayMs, defaultNotifyMaxDelayMs, defaultNotifyMaxAttempts)
}

func (r *RedisLockConfig) applyDefaults(keys keySet) {
	if r == nil || !r.Enabled {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("lock.redis.addr", &r.Addr, defaultRedisAddr),
		intFieldDefault("lock.redis.ttl_seconds", &r.TTLSeconds, defaultRedisTTL),
		stringFieldDefault("lock.redis.key", &r.Key, defaultRedisKey),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
