package app

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"sigwatch/internal/config"
	"sigwatch/internal/logger"
	"sigwatch/internal/scheduler"
	adminhttp "sigwatch/internal/transport/http/admin"
)

// App 负责应用级编排：加载配置→初始化依赖→启动轮询与运维 HTTP。
type App struct {
	cfg     *config.Config
	poller  *scheduler.Poller
	admin   *adminhttp.Server
	closers []io.Closer
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动轮询与 admin HTTP，直到 ctx 取消或任一服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.poller == nil {
		return fmt.Errorf("poller not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.admin != nil {
		group.Go(func() error {
			if err := a.admin.Start(ctx); err != nil {
				return fmt.Errorf("admin http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.poller.Run(ctx)
	})
	return group.Wait()
}

// Poller exposes the poll loop (for tests and replay harnesses).
func (a *App) Poller() *scheduler.Poller {
	if a == nil {
		return nil
	}
	return a.poller
}

// Close releases store and redis handles in reverse build order.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.Warnf("app: close resource failed: %v", err)
		}
	}
	a.closers = nil
}
