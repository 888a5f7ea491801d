package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sigwatch/internal/pkg/retry"
	"sigwatch/internal/types"
)

// Config 是 sigwatch 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
	Lock     LockConfig     `toml:"lock"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	LogPath       string `toml:"log_path"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
	WireLogPath   string `toml:"wire_log_path"`
	WireDumpBody  bool   `toml:"wire_dump_body"`
	HTTPAddr      string `toml:"http_addr"`
	AdminToken    string `toml:"admin_token"`
}

// RetryConfig 描述一个调用点的退避参数。
type RetryConfig struct {
	BaseDelayMs int     `toml:"base_delay_ms"`
	Factor      float64 `toml:"factor"`
	MaxDelayMs  int     `toml:"max_delay_ms"`
	MaxAttempts int     `toml:"max_attempts"`
}

func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
		Factor:      r.Factor,
		MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
		MaxAttempts: r.MaxAttempts,
	}
}

// ExchangeConfig 描述交易所访问方式（当前仅支持 Bybit v5）。
type ExchangeConfig struct {
	Name           string      `toml:"name"`
	BaseURL        string      `toml:"base_url"`
	Testnet        bool        `toml:"testnet"`
	APIKey         string      `toml:"api_key"`
	APISecret      string      `toml:"api_secret"`
	RecvWindowMs   int         `toml:"recv_window_ms"`
	TimeoutSeconds int         `toml:"timeout_seconds"`
	SettleCoin     string      `toml:"settle_coin"`
	Categories     []string    `toml:"categories"`
	Retry          RetryConfig `toml:"retry"`
}

func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// CategorySet returns the configured categories, parsed and de-duplicated.
func (e ExchangeConfig) CategorySet() []types.Category {
	seen := make(map[types.Category]bool, len(e.Categories))
	out := make([]types.Category, 0, len(e.Categories))
	for _, raw := range e.Categories {
		c, err := types.ParseCategory(raw)
		if err != nil || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

type TrackerConfig struct {
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	CycleTimeoutSeconds int    `toml:"cycle_timeout_seconds"`
	SizeEpsilon         string `toml:"size_epsilon"`
	Workers             int    `toml:"workers"`
	AlertAfterFailures  int    `toml:"alert_after_failures"`
	FetchFills          bool   `toml:"fetch_fills"`
}

func (t TrackerConfig) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSeconds) * time.Second
}

func (t TrackerConfig) CycleTimeout() time.Duration {
	return time.Duration(t.CycleTimeoutSeconds) * time.Second
}

// Epsilon 在 validate 之后总是可解析。
func (t TrackerConfig) Epsilon() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(t.SizeEpsilon))
	if err != nil {
		return decimal.Zero
	}
	return d
}

type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type NotifyConfig struct {
	Telegram           TelegramConfig `toml:"telegram"`
	RateLimitPerSecond float64        `toml:"rate_limit_per_second"`
	Burst              int            `toml:"burst"`
	Workers            int            `toml:"workers"`
	DefaultLocale      string         `toml:"default_locale"`
	Timezone           string         `toml:"timezone"`
	TemplatesPath      string         `toml:"templates_path"`
	Breaker            BreakerConfig  `toml:"breaker"`
	Retry              RetryConfig    `toml:"retry"`
}

// Location 在 validate 之后总是可解析。
func (n NotifyConfig) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(n.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

type TelegramConfig struct {
	APIURL         string `toml:"api_url"`
	BotToken       string `toml:"bot_token"`
	AdminChatID    string `toml:"admin_chat_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ChatID 返回运维告警 chat；未配置时为 0。
func (t TelegramConfig) ChatID() int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(t.AdminChatID), 10, 64)
	return id
}

func (t TelegramConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

type BreakerConfig struct {
	Threshold       int `toml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSeconds) * time.Second
}

type LockConfig struct {
	Redis RedisLockConfig `toml:"redis"`
}

// RedisLockConfig 控制多副本部署时的轮询租约。
type RedisLockConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	TTLSeconds int    `toml:"ttl_seconds"`
	Key        string `toml:"key"`
}

func (r RedisLockConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
