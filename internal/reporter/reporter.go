package reporter

import (
	"fmt"
	"io"
	"math"
	"paper-trading-sim/internal/models"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储根据平仓历史计算出的账户表现指标
type Metrics struct {
	StartingBalance  float64                    `json:"startingBalance"`  // 推算的期初资金
	Cash             float64                    `json:"cash"`             // 当前现金
	Equity           float64                    `json:"equity"`           // 当前权益
	RealizedPnL      float64                    `json:"realizedPnl"`      // 已实现盈亏合计
	ProfitPercentage float64                    `json:"profitPercentage"` // 已实现收益率 (%)
	TotalTrades      int                        `json:"totalTrades"`
	WinningTrades    int                        `json:"winningTrades"`
	LosingTrades     int                        `json:"losingTrades"`
	WinRate          float64                    `json:"winRate"`       // 胜率 (%)
	AvgProfitLoss    float64                    `json:"avgProfitLoss"` // 平均盈亏比
	MaxDrawdown      float64                    `json:"maxDrawdown"`   // 已实现权益曲线的最大回撤 (%)
	OpenPositions    int                        `json:"openPositions"`
	ByReason         map[models.CloseReason]int `json:"byReason"`
	BySymbol         map[string]float64         `json:"bySymbol"` // 各交易对已实现盈亏
}

// GenerateReport 根据账户视图计算性能指标
func GenerateReport(state models.StateView) *Metrics {
	m := &Metrics{
		Cash:          state.Balance,
		Equity:        state.Equity,
		OpenPositions: len(state.Positions),
		TotalTrades:   len(state.History),
		ByReason:      make(map[models.CloseReason]int),
		BySymbol:      make(map[string]float64),
	}

	// 历史按时间倒序保存，这里转为正序构建权益曲线
	trades := append([]models.ClosedRecord{}, state.History...)
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].ClosedAt.Before(trades[j].ClosedAt) })

	var totalProfit, totalLoss float64
	for _, trade := range trades {
		m.RealizedPnL += trade.RealizedPnL
		m.ByReason[trade.CloseReason]++
		m.BySymbol[trade.Symbol] = models.Round2(m.BySymbol[trade.Symbol] + trade.RealizedPnL)
		if trade.RealizedPnL > 0 {
			m.WinningTrades++
			totalProfit += trade.RealizedPnL
		} else {
			m.LosingTrades++
			totalLoss += trade.RealizedPnL
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 && totalLoss != 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}

	// 开仓只是把现金转为保证金，所以期初资金 = 现金 + 占用保证金 - 已实现盈亏
	var margin float64
	for _, p := range state.Positions {
		margin += p.Amount
	}
	m.StartingBalance = state.Balance + margin - m.RealizedPnL
	if m.StartingBalance != 0 {
		m.ProfitPercentage = m.RealizedPnL / m.StartingBalance * 100
	}

	curve := make([]float64, 0, len(trades)+1)
	running := m.StartingBalance
	curve = append(curve, running)
	for _, trade := range trades {
		running += trade.RealizedPnL
		curve = append(curve, running)
	}
	m.MaxDrawdown = calculateMaxDrawdown(curve) * 100

	m.RealizedPnL = models.Round2(m.RealizedPnL)
	m.StartingBalance = models.Round2(m.StartingBalance)
	m.ProfitPercentage = models.Round2(m.ProfitPercentage)
	m.WinRate = models.Round2(m.WinRate)
	m.AvgProfitLoss = models.Round2(m.AvgProfitLoss)
	m.MaxDrawdown = models.Round2(m.MaxDrawdown)
	return m
}

// Print 以表格形式输出报告
func Print(w io.Writer, m *Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("模拟账户表现报告")
	t.AppendRows([]table.Row{
		{"期初资金", fmt.Sprintf("%.2f USDT", m.StartingBalance)},
		{"当前现金", fmt.Sprintf("%.2f USDT", m.Cash)},
		{"当前权益", fmt.Sprintf("%.2f USDT", m.Equity)},
		{"已实现盈亏", fmt.Sprintf("%.2f USDT", m.RealizedPnL)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"总交易次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
		{"未平仓位", m.OpenPositions},
	})
	if len(m.ByReason) > 0 {
		t.AppendSeparator()
		for _, reason := range []models.CloseReason{models.TakeProfit, models.StopLoss, models.Manual} {
			if n := m.ByReason[reason]; n > 0 {
				t.AppendRow(table.Row{"平仓: " + string(reason), n})
			}
		}
	}
	t.Render()
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
