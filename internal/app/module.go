// Package app assembles the simulator with fx: persistence, state mirror,
// price feed, book, event bus, simulation loops and the HTTP server.
package app

import (
	"context"
	"fmt"
	"paper-trading-sim/internal/book"
	"paper-trading-sim/internal/bot"
	"paper-trading-sim/internal/bus"
	"paper-trading-sim/internal/exchange"
	"paper-trading-sim/internal/health"
	"paper-trading-sim/internal/models"
	"paper-trading-sim/internal/persistence"
	"paper-trading-sim/internal/server"
	"paper-trading-sim/internal/statemanager"
	"paper-trading-sim/internal/storage"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const openTimeout = 10 * time.Second

// Module 返回完整应用的 fx 选项。启动顺序: 状态镜像 -> 恢复 -> 模拟循环 -> HTTP；
// 关闭时逆序，最后刷写持久化队列并关闭存储。
func Module(cfg *models.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			NewGateway,
			NewStateManager,
			NewFeed,
			NewBus,
			NewBook,
			health.NewState,
			NewSimulator,
			NewServer,
		),
		fx.Invoke(restoreState, run),
	)
}

// NewGateway 按配置打开持久化后端。打开失败只告警并以无持久化模式运行。
func NewGateway(lc fx.Lifecycle, cfg *models.Config, logger *zap.Logger) persistence.Gateway {
	gw, err := openGateway(cfg.Persistence)
	if err != nil {
		logger.Error("持久化后端不可用，将仅在内存中运行",
			zap.String("backend", cfg.Persistence.Backend), zap.Error(err))
		return nil
	}
	if gw == nil {
		logger.Info("持久化已关闭")
		return nil
	}
	logger.Info("持久化后端已就绪", zap.String("backend", cfg.Persistence.Backend), zap.String("root", cfg.Persistence.Root))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return gw.Close() },
	})
	return gw
}

func openGateway(pc models.PersistenceConfig) (persistence.Gateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	switch pc.Backend {
	case "badger":
		return persistence.NewBadgerGateway(pc.BadgerPath)
	case "redis":
		return persistence.NewRedisGateway(ctx, persistence.RedisConfig{
			Addr:     pc.RedisAddr,
			Password: pc.RedisPassword,
			DB:       pc.RedisDB,
		})
	case "postgres":
		return persistence.NewPostgresGateway(ctx, pc.PostgresDSN)
	case "sqlite":
		return storage.NewSQLiteGateway(pc.SQLitePath)
	case "memory":
		return persistence.NewMemoryGateway(), nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown persistence backend %q", pc.Backend)
}

func NewStateManager(lc fx.Lifecycle, gw persistence.Gateway, cfg *models.Config, logger *zap.Logger) *statemanager.StateManager {
	sm := statemanager.NewStateManager(gw, cfg.Persistence.Root, cfg.Persistence.QueueSize, logger.Named("state"))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sm.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			sm.Stop()
			return nil
		},
	})
	return sm
}

func NewFeed(cfg *models.Config, logger *zap.Logger) *exchange.FallbackFeed {
	return exchange.NewFeedFromConfig(cfg, logger.Named("feed"))
}

func NewBus(lc fx.Lifecycle, cfg *models.Config, logger *zap.Logger) *bus.Bus {
	b := bus.New(cfg.Server.StreamQueueSize, logger.Named("bus"))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			b.Close()
			return nil
		},
	})
	return b
}

func NewBook(cfg *models.Config, b *bus.Bus, sm *statemanager.StateManager) *book.Book {
	return book.New(cfg.InitialBalance, cfg.Symbol, cfg.InitialPrice, b, sm)
}

func NewSimulator(cfg *models.Config, feed *exchange.FallbackFeed, bk *book.Book, b *bus.Bus, hs *health.State, logger *zap.Logger) *bot.Simulator {
	return bot.NewSimulator(cfg, feed, bk, b, hs, logger)
}

func NewServer(cfg *models.Config, sim *bot.Simulator, hs *health.State, logger *zap.Logger) *server.Server {
	return server.NewServer(cfg.Server, sim, hs, logger)
}

// restoreState 在模拟循环启动前做热启动
func restoreState(lc fx.Lifecycle, sm *statemanager.StateManager, bk *book.Book, feed *exchange.FallbackFeed, cfg *models.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			snap, err := sm.Load(ctx)
			if err != nil {
				// 读取失败按冷启动处理
				logger.Error("加载持久化状态失败，以全新账户启动", zap.Error(err))
				return nil
			}
			if snap.Empty() {
				logger.Info("未发现持久化状态，冷启动",
					zap.String("symbol", cfg.Symbol),
					zap.Float64("balance", cfg.InitialBalance),
					zap.Float64("price", cfg.InitialPrice))
				return nil
			}
			if snap.Account != nil && snap.Account.Symbol != "" && !cfg.Allowed(snap.Account.Symbol) {
				logger.Warn("持久化的活跃交易对不在白名单中，改用配置值",
					zap.String("persisted", snap.Account.Symbol), zap.String("symbol", cfg.Symbol))
				snap.Account.Symbol = cfg.Symbol
				snap.Account.Price = 0
			}
			bk.Restore(snap)
			symbol, price := bk.ActiveSymbol()
			if price > 0 {
				feed.Observe(symbol, price)
			}
			logger.Info("热启动完成",
				zap.String("symbol", symbol),
				zap.Float64("cash", bk.Cash()),
				zap.Int("open", len(snap.Open)),
				zap.Int("closed", len(snap.History)),
				zap.Int64("nextId", bk.NextID()))
			return nil
		},
	})
}

func run(lc fx.Lifecycle, sim *bot.Simulator, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return sim.Start() },
		OnStop: func(context.Context) error {
			sim.Stop()
			return nil
		},
	})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return srv.Start() },
		OnStop:  func(ctx context.Context) error { return srv.Shutdown(ctx) },
	})
}
