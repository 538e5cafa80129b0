package exchange

import (
	"context"
	"fmt"
	"paper-trading-sim/internal/models"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FallbackFeed 先向真实行情源请求价格，超时或失败时退回模拟随机游走。
type FallbackFeed struct {
	live     Quoter // 可以为空，表示纯模拟
	sim      *SimulatedExchange
	timeout  time.Duration
	degraded atomic.Bool
	logger   *zap.Logger
}

// NewFallbackFeed 创建带降级的行情源
func NewFallbackFeed(live Quoter, sim *SimulatedExchange, timeout time.Duration, logger *zap.Logger) *FallbackFeed {
	return &FallbackFeed{live: live, sim: sim, timeout: timeout, logger: logger}
}

// GetPrice 实现 PriceSource 接口，只有空交易对才返回错误
func (f *FallbackFeed) GetPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("%w: empty symbol", models.ErrUnsupportedSymbol)
	}

	if f.live != nil {
		qctx, cancel := context.WithTimeout(ctx, f.timeout)
		price, err := f.live.Quote(qctx, symbol)
		cancel()
		if err == nil && price > 0 && models.Finite(price) {
			f.sim.Observe(symbol, price)
			if f.degraded.Swap(false) {
				f.logger.Info("实时行情已恢复", zap.String("provider", f.live.Name()), zap.String("symbol", symbol))
			}
			return price, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %v", price)
		}
		err = fmt.Errorf("%w: %s: %v", models.ErrPriceFeedUnavailable, f.live.Name(), err)
		// 只在首次降级时告警，之后降为 debug，避免每秒刷屏
		if !f.degraded.Swap(true) {
			f.logger.Warn("实时行情不可用，使用模拟价格", zap.String("symbol", symbol), zap.Error(err))
		} else {
			f.logger.Debug("实时行情仍不可用", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	return f.sim.Step(symbol), nil
}

// Observe 把外部确定的价格 (如重置价格) 作为模拟起点
func (f *FallbackFeed) Observe(symbol string, price float64) {
	f.sim.Observe(strings.ToUpper(symbol), price)
}

// NewFeedFromConfig 根据配置选择真实行情源并组装降级链
func NewFeedFromConfig(cfg *models.Config, logger *zap.Logger) *FallbackFeed {
	var live Quoter
	switch cfg.Feed.Provider {
	case "kucoin":
		live = NewKucoinQuoter(cfg.Feed.KucoinBaseURL, cfg.Feed.UserAgent, logger)
	case "binance":
		live = NewBinanceQuoter(cfg.Feed.BinanceBaseURL, logger)
	}

	seeds := make(map[string]float64, len(cfg.Feed.SeedPrices)+1)
	for k, v := range cfg.Feed.SeedPrices {
		seeds[k] = v
	}
	if _, ok := seeds[cfg.Symbol]; !ok {
		seeds[cfg.Symbol] = cfg.InitialPrice
	}
	sim := NewSimulatedExchange(seeds, cfg.InitialPrice, cfg.Feed.Volatility, cfg.Feed.PriceFloor, uint64(time.Now().UnixNano()))

	provider := "simulated"
	if live != nil {
		provider = live.Name()
	}
	logger.Info("行情源已配置", zap.String("provider", provider), zap.Int("timeoutMs", cfg.Feed.TimeoutMs))
	return NewFallbackFeed(live, sim, time.Duration(cfg.Feed.TimeoutMs)*time.Millisecond, logger)
}
