package models

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round2 按两位小数四舍五入，仅用于对外展示的金额
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return decimal.NewFromFloat(x).Round(2).InexactFloat64()
}

// PnL 计算仓位在给定价格下的盈亏: 名义价值 * 涨跌幅 * 方向
func PnL(p Position, price float64) float64 {
	notional := p.Amount * float64(p.Leverage)
	change := (price - p.EntryPrice) / p.EntryPrice
	return Round2(notional * change * p.Side.Direction())
}

// TargetPrices 根据入场价和百分比推导止盈止损价格
func TargetPrices(side Side, entry, tpPct, slPct float64) (tp, sl float64) {
	if side == Short {
		return entry * (100 - tpPct) / 100, entry * (100 + slPct) / 100
	}
	return entry * (100 + tpPct) / 100, entry * (100 - slPct) / 100
}

// Evaluate 判断价格是否触发止盈或止损，两者同时满足时止盈优先
func Evaluate(p Position, price float64) (CloseReason, bool) {
	var hitTP, hitSL bool
	if p.Side == Short {
		hitTP = price <= p.TPPrice
		hitSL = price >= p.SLPrice
	} else {
		hitTP = price >= p.TPPrice
		hitSL = price <= p.SLPrice
	}
	switch {
	case hitTP:
		return TakeProfit, true
	case hitSL:
		return StopLoss, true
	}
	return "", false
}

// Finite 判断数值是否为有限值
func Finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
