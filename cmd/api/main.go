package main

import (
	"context"
	"flag"
	"os"
	"time"

	"abiscope/internal/api"
	"abiscope/internal/app"
	"abiscope/internal/config"
	"abiscope/internal/logging"
	"abiscope/internal/metrics"
	"abiscope/internal/proxy"
	"abiscope/internal/shutdown"

	"github.com/sirupsen/logrus"
)

var (
	configPath    = flag.String("config", "configs/config.yaml", "配置文件路径")
	port          = flag.Int("port", 0, "API 服务端口，0 表示使用配置文件")
	verbose       = flag.Bool("verbose", false, "详细输出")
	enableMetrics = flag.Bool("metrics", true, "启用 Prometheus 指标")
)

func main() {
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	metrics.Init(*enableMetrics)

	components, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("初始化组件失败: %v", err)
	}
	components.Pool.StartHealthCheck()

	explorer, err := proxy.NewExplorerProxy(cfg.Explorer, logger)
	if err != nil {
		logger.Fatalf("创建区块浏览器代理失败: %v", err)
	}
	limiter := proxy.NewRateLimiter(cfg.Explorer.RateLimit, cfg.Explorer.Burst)

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)

	var chainAdmin *api.ChainAdmin
	if dsn := os.Getenv(config.EnvDatabaseDSN); dsn != "" {
		db, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Fatalf("连接配置数据库失败: %v", err)
		}
		chainAdmin = api.NewChainAdmin(db, logger)
		gs.RegisterCloser("database", db, shutdown.OrderCloseConnections)
	}

	server := api.NewServer(api.Deps{
		Registry:    components.Registry,
		Workbench:   components.Workbench,
		Resolver:    components.Resolver,
		Lookup:      components.Lookup,
		Searcher:    components.Searcher,
		Explorer:    explorer,
		RateLimiter: limiter,
		Nodes:       components.Pool,
		ChainAdmin:  chainAdmin,
	}, cfg.Server, logger)

	gs.RegisterShutdownFunc("http-server", server.Stop, shutdown.OrderStopHTTPServer)
	gs.RegisterShutdownFunc("rate-limiter", func(context.Context) error {
		limiter.Stop()
		return nil
	}, shutdown.OrderStopBackground)
	components.RegisterShutdown(gs)

	go components.PurgeExpired(gs.Context(), time.Hour)

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("API服务器异常退出: %v", err)
			gs.Shutdown()
		}
	}()

	logger.WithFields(logrus.Fields{
		"chains": len(components.Registry.List()),
		"output": cfg.Output.Format,
		"cache":  cfg.Cache.Enabled,
	}).Info("abiscope API 已启动")

	gs.WaitForShutdown()
	logger.Info("服务器已关闭")
}

