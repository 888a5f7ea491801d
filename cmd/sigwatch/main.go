package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"sigwatch/internal/app"
	"sigwatch/internal/config"
	"sigwatch/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("SIGWATCH_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := logger.SetRotatingFile(logger.RotateOptions{
		Path:       cfg.App.LogPath,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
		MaxAgeDays: cfg.App.LogMaxAgeDays,
	})
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	wireFile, err := logger.SetRotatingWireFile(logger.RotateOptions{
		Path:       cfg.App.WireLogPath,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
		MaxAgeDays: cfg.App.LogMaxAgeDays,
	})
	if err != nil {
		log.Fatalf("初始化 wire 日志失败: %v", err)
	}
	if wireFile != nil {
		defer wireFile.Close()
	}
	logger.EnableWireBodies(cfg.App.WireDumpBody)
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，交易所=%s）", cfg.App.Env, cfg.Exchange.Name)

	if len(os.Args) > 1 && os.Args[1] == "inject" {
		if err := runInject(ctx, cfg, os.Args[2:]); err != nil {
			log.Fatalf("注入测试信号失败: %v", err)
		}
		return
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("sigwatch stopped")
}
