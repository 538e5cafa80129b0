package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// BinanceQuoter 通过币安现货公共行情接口获取最新价格
type BinanceQuoter struct {
	client *binance.Client
	logger *zap.Logger
}

// NewBinanceQuoter 创建一个新的 BinanceQuoter，公共接口不需要API Key
func NewBinanceQuoter(baseURL string, logger *zap.Logger) *BinanceQuoter {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &BinanceQuoter{client: client, logger: logger}
}

func (q *BinanceQuoter) Name() string { return "binance" }

// Quote 获取指定交易对的当前价格
func (q *BinanceQuoter) Quote(ctx context.Context, symbol string) (float64, error) {
	prices, err := q.client.NewListPricesService().Symbol(strings.ToUpper(symbol)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance 价格请求失败: %w", err)
	}
	for _, p := range prices {
		if !strings.EqualFold(p.Symbol, symbol) {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("binance 价格无法解析: %q", p.Price)
		}
		if !(price > 0) {
			return 0, fmt.Errorf("binance 价格无效: %v", price)
		}
		q.logger.Debug("binance quote", zap.String("symbol", symbol), zap.Float64("price", price))
		return price, nil
	}
	return 0, fmt.Errorf("binance 未返回 %s 的价格", symbol)
}
