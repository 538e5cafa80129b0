package exchange

import "context"

// Quoter 从一个真实行情源获取单个交易对的最新价格。
// 实现方不做重试和降级，失败直接返回错误。
type Quoter interface {
	Name() string
	Quote(ctx context.Context, symbol string) (float64, error)
}

// PriceSource 是交易引擎使用的行情接口。
// 除非交易对非法，否则总能返回一个正价格 (必要时使用模拟价格)。
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}
