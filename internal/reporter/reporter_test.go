package reporter

import (
	"bytes"
	"paper-trading-sim/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func closed(id int64, symbol string, pnl float64, reason models.CloseReason, at time.Time) models.ClosedRecord {
	return models.ClosedRecord{
		Position:    models.Position{ID: id, Symbol: symbol, Side: models.Long, Amount: 100, Leverage: 1},
		RealizedPnL: pnl,
		CloseReason: reason,
		ClosedAt:    at,
	}
}

func TestGenerateReport(t *testing.T) {
	base := time.Unix(1700000000, 0)
	// 历史按倒序传入
	state := models.StateView{
		Balance: 1010,
		Equity:  1012,
		Positions: []models.Position{
			{ID: 4, Symbol: "BTCUSDT", Amount: 50},
		},
		History: []models.ClosedRecord{
			closed(3, "ETHUSDT", 40, models.TakeProfit, base.Add(3*time.Second)),
			closed(2, "BTCUSDT", -20, models.StopLoss, base.Add(2*time.Second)),
			closed(1, "BTCUSDT", 10, models.Manual, base.Add(time.Second)),
		},
	}

	m := GenerateReport(state)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.Equal(t, 1, m.OpenPositions)
	assert.InDelta(t, 66.67, m.WinRate, 1e-9)
	assert.InDelta(t, 30.0, m.RealizedPnL, 1e-9)
	// 1010 现金 + 50 保证金 - 30 已实现
	assert.InDelta(t, 1030.0, m.StartingBalance, 1e-9)
	assert.InDelta(t, 2.91, m.ProfitPercentage, 1e-9)
	// 平均盈利 25 / 平均亏损 20
	assert.InDelta(t, 1.25, m.AvgProfitLoss, 1e-9)
	// 曲线 1030 -> 1040 -> 1020 -> 1060，峰值 1040 回撤 20
	assert.InDelta(t, 1.92, m.MaxDrawdown, 1e-9)
	assert.Equal(t, 1, m.ByReason[models.TakeProfit])
	assert.Equal(t, 1, m.ByReason[models.StopLoss])
	assert.Equal(t, 1, m.ByReason[models.Manual])
	assert.InDelta(t, -10.0, m.BySymbol["BTCUSDT"], 1e-9)
	assert.InDelta(t, 40.0, m.BySymbol["ETHUSDT"], 1e-9)
}

func TestGenerateReportEmpty(t *testing.T) {
	m := GenerateReport(models.StateView{Balance: 1000, Equity: 1000})
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 0.0, m.WinRate)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 1000.0, m.StartingBalance)
}

func TestCalculateMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, calculateMaxDrawdown(nil))
	assert.Equal(t, 0.0, calculateMaxDrawdown([]float64{100}))
	assert.InDelta(t, 0.5, calculateMaxDrawdown([]float64{100, 200, 100, 150}), 1e-9)
	assert.Equal(t, 0.0, calculateMaxDrawdown([]float64{100, 110, 120}))
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, &Metrics{
		StartingBalance: 1000,
		Cash:            1020,
		Equity:          1020,
		TotalTrades:     1,
		WinningTrades:   1,
		ByReason:        map[models.CloseReason]int{models.TakeProfit: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "1000.00 USDT")
	assert.Contains(t, out, "1020.00 USDT")
	assert.Contains(t, out, string(models.TakeProfit))
}
