package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.24, Round2(1.235))
	assert.Equal(t, -1.24, Round2(-1.235))
	assert.Equal(t, 20.0, Round2(20.000000000000004))
	assert.True(t, math.IsNaN(Round2(math.NaN())))
}

func TestTargetPrices(t *testing.T) {
	tp, sl := TargetPrices(Long, 60000, 2, 2)
	assert.Equal(t, 61200.0, tp)
	assert.Equal(t, 58800.0, sl)

	tp, sl = TargetPrices(Short, 60000, 2, 2)
	assert.Equal(t, 58800.0, tp)
	assert.Equal(t, 61200.0, sl)
}

func TestPnL(t *testing.T) {
	long := Position{Side: Long, Amount: 100, Leverage: 10, EntryPrice: 60000}
	short := Position{Side: Short, Amount: 100, Leverage: 10, EntryPrice: 60000}

	assert.Equal(t, 20.0, PnL(long, 61200))
	assert.Equal(t, -20.0, PnL(long, 58800))
	assert.Equal(t, 20.0, PnL(short, 58800))
	assert.Equal(t, -20.0, PnL(short, 61200))
	assert.Equal(t, 0.0, PnL(long, 60000), "closing at entry yields zero")
}

func TestEvaluate(t *testing.T) {
	long := Position{Side: Long, TPPrice: 61200, SLPrice: 58800}
	short := Position{Side: Short, TPPrice: 58800, SLPrice: 61200}

	tests := []struct {
		name   string
		pos    Position
		price  float64
		reason CloseReason
		hit    bool
	}{
		{"long inside band", long, 60000, "", false},
		{"long take profit at boundary", long, 61200, TakeProfit, true},
		{"long stop loss at boundary", long, 58800, StopLoss, true},
		{"short take profit at boundary", short, 58800, TakeProfit, true},
		{"short stop loss", short, 62000, StopLoss, true},
		{"short inside band", short, 60000, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, hit := Evaluate(tt.pos, tt.price)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestEvaluateTakeProfitWinsTie(t *testing.T) {
	// 退化情况：止盈价和止损价重合，两个条件同时满足
	p := Position{Side: Long, TPPrice: 100, SLPrice: 100}
	reason, hit := Evaluate(p, 100)
	require.True(t, hit)
	assert.Equal(t, TakeProfit, reason)
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"LONG": Long, "buy": Long, "SHORT": Short, " sell ": Short} {
		got, ok := ParseSide(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := ParseSide("HOLD")
	assert.False(t, ok)
}

func TestEventOmitsUnusedFields(t *testing.T) {
	raw, err := json.Marshal(ResetEvent())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"reset"}`, string(raw))

	raw, err = json.Marshal(TickEvent("BTCUSDT", 60000, time.UnixMilli(1700000000000)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tick","symbol":"BTCUSDT","price":60000,"timestamp":1700000000000}`, string(raw))

	raw, err = json.Marshal(OrderOpenEvent(Position{ID: 1}, 899.999))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"balance":900`)
}

func TestSnapshotMaxID(t *testing.T) {
	s := &Snapshot{
		Open:    []Position{{ID: 3}, {ID: 7}},
		History: []ClosedRecord{{Position: Position{ID: 9}}, {Position: Position{ID: 2}}},
	}
	assert.Equal(t, int64(9), s.MaxID())
	assert.False(t, s.Empty())
	assert.True(t, (&Snapshot{}).Empty())
}
