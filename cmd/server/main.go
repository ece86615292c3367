package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"data-intelligence/internal/bootstrap"
	"data-intelligence/internal/config"
	"data-intelligence/internal/logging"
	"data-intelligence/internal/server"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径 (YAML)")
	listen := flag.String("listen", "", "监听地址，覆盖配置文件和 DI_LISTEN")
	static := flag.String("static", "web/static", "前端静态文件目录，为空则不提供")
	flag.Parse()

	if err := run(*configPath, *listen, *static); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listen, static string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger, err := logging.New(cfg.Log.Debug, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := bootstrap.NewService(cfg, logger)
	defer svc.Close()

	handles, err := bootstrap.OpenConfigured(ctx, svc, cfg)
	if err != nil {
		return err
	}
	for _, h := range handles {
		logger.Infow("已打开预置连接", "handle", h.String())
	}

	if static != "" {
		if info, err := os.Stat(static); err != nil || !info.IsDir() {
			logger.Warnw("静态目录不存在，仅提供 API", "dir", static)
			static = ""
		}
	}

	app := server.NewApp(svc,
		server.WithMetricsInterval(cfg.Server.MetricsInterval),
		server.WithStaticDir(static),
		server.WithLogger(logger.Named("http")))
	return app.Run(ctx, cfg.Server.Listen)
}
