package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnv 读取 .env（可选），已存在的环境变量优先。
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// applyEnvOverrides 用 SIGWATCH_* 环境变量覆盖凭据类字段，便于部署时注入密钥。
func applyEnvOverrides(cfg *Config, keys keySet) {
	setStr(keys, "app.admin_token", &cfg.App.AdminToken, "SIGWATCH_ADMIN_TOKEN")
	setStr(keys, "app.log_level", &cfg.App.LogLevel, "SIGWATCH_LOG_LEVEL")
	setStr(keys, "exchange.api_key", &cfg.Exchange.APIKey, "SIGWATCH_EXCHANGE_API_KEY")
	setStr(keys, "exchange.api_secret", &cfg.Exchange.APISecret, "SIGWATCH_EXCHANGE_API_SECRET")
	setBool(keys, "exchange.testnet", &cfg.Exchange.Testnet, "SIGWATCH_EXCHANGE_TESTNET")
	setStr(keys, "store.dsn", &cfg.Store.DSN, "SIGWATCH_STORE_DSN")
	setStr(keys, "notify.telegram.bot_token", &cfg.Notify.Telegram.BotToken, "SIGWATCH_TELEGRAM_BOT_TOKEN")
	setStr(keys, "notify.telegram.admin_chat_id", &cfg.Notify.Telegram.AdminChatID, "SIGWATCH_TELEGRAM_ADMIN_CHAT_ID")
	setStr(keys, "lock.redis.password", &cfg.Lock.Redis.Password, "SIGWATCH_REDIS_PASSWORD")
	setInt(keys, "tracker.poll_interval_seconds", &cfg.Tracker.PollIntervalSeconds, "SIGWATCH_POLL_INTERVAL_SECONDS")
}

func setStr(keys keySet, path string, dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
		keys.mark(path)
	}
}

func setInt(keys keySet, path string, dst *int, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
			keys.mark(path)
		}
	}
}

func setBool(keys keySet, path string, dst *bool, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
			keys.mark(path)
		}
	}
}
