package app

import (
	"context"
	"os"
	"time"

	"abiscope/internal/chains"
	"abiscope/internal/codec"
	"abiscope/internal/config"
	"abiscope/internal/connection"
	"abiscope/internal/contract"
	"abiscope/internal/ens"
	"abiscope/internal/history"
	"abiscope/internal/output"
	"abiscope/internal/search"
	"abiscope/internal/shutdown"
	"abiscope/internal/sourcify"
	"abiscope/internal/store"
	"abiscope/internal/validation"
	"abiscope/internal/workbench"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// App 按配置组装好的组件，API服务与命令行共用
type App struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Registry  *chains.Registry
	Pool      *connection.ConnectionPool
	Sourcify  *sourcify.Client
	Lookup    *sourcify.Lookup
	Resolver  *contract.Resolver
	Names     *ens.Resolver
	History   *history.Client
	Labeler   *codec.SelectorLabeler
	Searcher  *search.Searcher
	Validator *validation.Validator
	Output    output.Output
	Store     *store.ABIStore
	Workbench *workbench.Workbench
}

// New 创建所有组件；失败时已创建的资源会被关闭
func New(cfg *config.Config, logger *logrus.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry = chains.FromConfig(cfg.Chains)
	a.Pool = connection.NewConnectionPool(a.Registry, nil, logger)

	a.Output, err = output.NewOutput(cfg.Output, logger)
	if err != nil {
		return nil, err
	}

	opts := []contract.Option{contract.WithPublisher(a.Output)}
	if cfg.Cache.Enabled {
		a.Store, err = store.NewABIStore(cfg.Cache.Path, config.Duration(cfg.Cache.TTL, 24*time.Hour), logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, contract.WithStore(a.Store))
	}

	a.Sourcify = sourcify.NewClient(cfg.Sourcify, logger)
	a.Lookup = sourcify.NewLookup(a.Sourcify, a.Registry, logger)
	a.Resolver = contract.NewResolver(a.Registry, a.Pool, a.Sourcify, logger, opts...)
	a.Names = ens.NewResolver(a.Pool, cfg.Names, logger)
	a.History = history.NewClient(cfg.Explorer, logger)
	a.Searcher = search.NewSearcher(a.Registry, cfg.Search, logger)
	a.Validator = validation.NewValidator(logger, a.Registry, cfg.Validation != nil && cfg.Validation.StrictChecksum)

	a.Labeler, err = codec.NewSelectorLabeler(logger, cfg.Decoder)
	if err != nil {
		return nil, err
	}

	a.Workbench = workbench.New(workbench.Deps{
		Registry:  a.Registry,
		Resolver:  a.Resolver,
		Lookup:    a.Lookup,
		History:   a.History,
		Names:     a.Names,
		Readers:   a.Pool,
		Labeler:   a.Labeler,
		Publisher: a.Output,
		Validator: a.Validator,
	}, logger)

	return a, nil
}

// RegisterShutdown 按顺序注册资源释放
func (a *App) RegisterShutdown(gs *shutdown.GracefulShutdown) {
	if a.Labeler != nil {
		gs.RegisterShutdownFunc("selector-labeler", func(context.Context) error {
			a.Labeler.Close()
			return nil
		}, shutdown.OrderStopBackground)
	}
	gs.RegisterCloser("output", a.Output, shutdown.OrderFlushOutput)
	gs.RegisterCloser("rpc-pool", a.Pool, shutdown.OrderCloseConnections)
	if a.Store != nil {
		gs.RegisterShutdownFunc("abi-store-stats", func(context.Context) error {
			return a.Store.SaveStats()
		}, shutdown.OrderSaveState)
		gs.RegisterCloser("abi-store", a.Store, shutdown.OrderCloseStores)
	}
}

// PurgeExpired 定期清理过期的持久化缓存，直到ctx结束
func (a *App) PurgeExpired(ctx context.Context, interval time.Duration) {
	if a.Store == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.Store.PurgeExpired()
			if err != nil {
				a.Logger.Warnf("清理过期ABI缓存失败: %v", err)
				continue
			}
			if removed > 0 {
				a.Logger.Infof("已清理 %d 条过期ABI缓存", removed)
			}
		}
	}
}

// Close 命令行直接退出时使用，服务端通过RegisterShutdown释放
func (a *App) Close() {
	if a.Labeler != nil {
		a.Labeler.Close()
	}
	if a.Output != nil {
		if err := a.Output.Close(); err != nil {
			a.Logger.Warnf("关闭输出失败: %v", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warnf("关闭ABI缓存失败: %v", err)
		}
	}
}

// LoadConfig 加载.env后读取配置
func LoadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, err
		}
	}
	return config.LoadConfig(path)
}
