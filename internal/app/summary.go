package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"sigwatch/internal/config"
)

// StartupSummary 汇总启动时的关键配置，打印到 stdout。密钥不出现在这里。
type StartupSummary struct {
	Exchange ExchangeSummary
	Tracker  TrackerSummary
	Notify   NotifySummary
	Store    string
	HTTPAddr string
	Lease    string
}

type ExchangeSummary struct {
	Name       string
	BaseURL    string
	Categories []string
	FetchFills bool
}

type TrackerSummary struct {
	Interval     string
	CycleTimeout string
	Epsilon      string
	Workers      int
}

type NotifySummary struct {
	Locale    string
	Timezone  string
	Rate      float64
	Workers   int
	Templates string
	AdminChat bool
}

func buildSummary(cfg *config.Config, source string) *StartupSummary {
	cats := make([]string, 0, len(cfg.Exchange.Categories))
	for _, c := range cfg.Exchange.CategorySet() {
		cats = append(cats, string(c))
	}
	storeDesc := cfg.Store.Driver
	if cfg.Store.Driver == "sqlite" {
		storeDesc += " (" + cfg.Store.Path + ")"
	}
	lease := "disabled"
	if cfg.Lock.Redis.Enabled {
		lease = fmt.Sprintf("redis %s key=%s ttl=%s", cfg.Lock.Redis.Addr, cfg.Lock.Redis.Key, cfg.Lock.Redis.TTL())
	}
	templates := "built-in"
	if cfg.Notify.TemplatesPath != "" {
		templates = cfg.Notify.TemplatesPath
	}
	return &StartupSummary{
		Exchange: ExchangeSummary{
			Name:       source,
			BaseURL:    cfg.Exchange.BaseURL,
			Categories: cats,
			FetchFills: cfg.Tracker.FetchFills,
		},
		Tracker: TrackerSummary{
			Interval:     cfg.Tracker.PollInterval().String(),
			CycleTimeout: cfg.Tracker.CycleTimeout().String(),
			Epsilon:      cfg.Tracker.Epsilon().String(),
			Workers:      cfg.Tracker.Workers,
		},
		Notify: NotifySummary{
			Locale:    cfg.Notify.DefaultLocale,
			Timezone:  cfg.Notify.Location().String(),
			Rate:      cfg.Notify.RateLimitPerSecond,
			Workers:   cfg.Notify.Workers,
			Templates: templates,
			AdminChat: cfg.Notify.Telegram.ChatID() != 0,
		},
		Store:    storeDesc,
		HTTPAddr: cfg.App.HTTPAddr,
		Lease:    lease,
	}
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[交易所 (EXCHANGE)]")
	fmt.Fprintf(w, "  名称: %s\n", s.Exchange.Name)
	fmt.Fprintf(w, "  地址: %s\n", s.Exchange.BaseURL)
	fmt.Fprintf(w, "  品类: %s\n", formatList(s.Exchange.Categories))
	fmt.Fprintf(w, "  成交回查: %t\n", s.Exchange.FetchFills)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[轮询 (TRACKER)]")
	fmt.Fprintf(w, "  周期: %s  超时: %s\n", s.Tracker.Interval, s.Tracker.CycleTimeout)
	fmt.Fprintf(w, "  数量阈值: %s  并发: %d\n", s.Tracker.Epsilon, s.Tracker.Workers)
	fmt.Fprintf(w, "  租约: %s\n", s.Lease)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[通知 (NOTIFY)]")
	fmt.Fprintf(w, "  语言: %s  时区: %s\n", s.Notify.Locale, s.Notify.Timezone)
	fmt.Fprintf(w, "  限速: %.2f/s  并发: %d\n", s.Notify.Rate, s.Notify.Workers)
	fmt.Fprintf(w, "  模板: %s\n", s.Notify.Templates)
	fmt.Fprintf(w, "  运维告警: %t\n", s.Notify.AdminChat)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "[存储 (STORE)] %s\n", s.Store)
	fmt.Fprintf(w, "[运维接口 (ADMIN HTTP)] %s\n", s.HTTPAddr)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
