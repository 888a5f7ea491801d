package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sigwatch/internal/types"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Tracker.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Lock.Redis.validate(); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if e.Name != "bybit" {
		return fmt.Errorf("exchange.name=%s not supported (bybit only)", e.Name)
	}
	if strings.TrimSpace(e.BaseURL) == "" {
		return fmt.Errorf("exchange.base_url cannot be empty")
	}
	if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
		return fmt.Errorf("exchange requires api_key and api_secret (or SIGWATCH_EXCHANGE_API_KEY/SECRET)")
	}
	if len(e.Categories) == 0 {
		return fmt.Errorf("exchange.categories requires at least one category")
	}
	for _, raw := range e.Categories {
		c, err := types.ParseCategory(raw)
		if err != nil {
			return fmt.Errorf("exchange.categories: %w", err)
		}
		if !c.IsFutures() {
			return fmt.Errorf("exchange.categories: %s has no position list on bybit", c)
		}
	}
	if e.RecvWindowMs <= 0 {
		return fmt.Errorf("exchange.recv_window_ms must be > 0")
	}
	return e.Retry.validate("exchange.retry")
}

func (r *RetryConfig) validate(prefix string) error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be >= 1", prefix)
	}
	if r.BaseDelayMs < 0 || r.MaxDelayMs < 0 {
		return fmt.Errorf("%s delays must be >= 0", prefix)
	}
	if r.MaxDelayMs > 0 && r.MaxDelayMs < r.BaseDelayMs {
		return fmt.Errorf("%s.max_delay_ms must be >= base_delay_ms", prefix)
	}
	if r.Factor < 1 {
		return fmt.Errorf("%s.factor must be >= 1", prefix)
	}
	return nil
}

func (t *TrackerConfig) validate() error {
	if t.PollIntervalSeconds <= 0 {
		return fmt.Errorf("tracker.poll_interval_seconds must be > 0")
	}
	if t.CycleTimeoutSeconds <= 0 {
		return fmt.Errorf("tracker.cycle_timeout_seconds must be > 0")
	}
	eps, err := decimal.NewFromString(strings.TrimSpace(t.SizeEpsilon))
	if err != nil {
		return fmt.Errorf("tracker.size_epsilon invalid: %w", err)
	}
	if eps.IsNegative() {
		return fmt.Errorf("tracker.size_epsilon must be >= 0")
	}
	if t.Workers <= 0 {
		return fmt.Errorf("tracker.workers must be > 0")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "sqlite":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("store.path cannot be empty for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(s.DSN) == "" {
			return fmt.Errorf("store.dsn cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("store.driver=%s not supported (sqlite|postgres)", s.Driver)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if strings.TrimSpace(n.Telegram.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token cannot be empty")
	}
	if raw := strings.TrimSpace(n.Telegram.AdminChatID); raw != "" {
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return fmt.Errorf("notify.telegram.admin_chat_id must be a numeric chat id")
		}
	}
	if n.RateLimitPerSecond <= 0 {
		return fmt.Errorf("notify.rate_limit_per_second must be > 0")
	}
	if n.Workers <= 0 {
		return fmt.Errorf("notify.workers must be > 0")
	}
	if _, err := time.LoadLocation(strings.TrimSpace(n.Timezone)); err != nil {
		return fmt.Errorf("notify.timezone invalid: %w", err)
	}
	if n.Breaker.Threshold <= 0 {
		return fmt.Errorf("notify.breaker.threshold must be > 0")
	}
	return n.Retry.validate("notify.retry")
}

func (r *RedisLockConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("lock.redis.addr cannot be empty")
	}
	if r.TTLSeconds <= 0 {
		return fmt.Errorf("lock.redis.ttl_seconds must be > 0")
	}
	return nil
}
