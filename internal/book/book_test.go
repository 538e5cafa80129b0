package book

import (
	"errors"
	"math"
	"paper-trading-sim/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingPublisher) Publish(ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingPublisher) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recordingPublisher) last() models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type recordingMirror struct {
	mu    sync.Mutex
	calls []string
	last  models.Account
}

func (m *recordingMirror) add(c string) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}
func (m *recordingMirror) PutOpen(models.Position)       { m.add("put_open") }
func (m *recordingMirror) DeleteOpen(int64)              { m.add("delete_open") }
func (m *recordingMirror) PutClosed(models.ClosedRecord) { m.add("put_closed") }
func (m *recordingMirror) Wipe()                         { m.add("wipe") }
func (m *recordingMirror) PutAccount(a models.Account) {
	m.mu.Lock()
	m.last = a
	m.mu.Unlock()
	m.add("put_account")
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestBook(t *testing.T) (*Book, *recordingPublisher, *recordingMirror) {
	t.Helper()
	pub := &recordingPublisher{}
	mir := &recordingMirror{}
	b := New(9000, "BTCUSDT", 60000, pub, mir, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, b.Reset(1000, 60000))
	return b, pub, mir
}

func longReq(amount float64) models.OpenRequest {
	return models.OpenRequest{Side: models.Long, Amount: amount, Leverage: 10, TPPct: 2, SLPct: 2}
}

func TestOpenLongScenario(t *testing.T) {
	b, pub, _ := newTestBook(t)

	pos, err := b.Open(longReq(100))
	require.NoError(t, err)

	assert.Equal(t, int64(1), pos.ID)
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.Equal(t, 60000.0, pos.EntryPrice)
	assert.Equal(t, 61200.0, pos.TPPrice)
	assert.Equal(t, 58800.0, pos.SLPrice)
	assert.Equal(t, fixedNow, pos.OpenedAt)
	assert.Equal(t, 900.0, b.Cash())
	assert.Len(t, b.ListOpen(), 1)

	ev := pub.last()
	assert.Equal(t, models.EventOrderOpen, ev.Type)
	require.NotNil(t, ev.Balance)
	assert.Equal(t, 900.0, *ev.Balance)
	assert.Equal(t, pos.ID, ev.Position.ID)
}

func TestCloseAtTakeProfit(t *testing.T) {
	b, pub, _ := newTestBook(t)
	pos, err := b.Open(longReq(100))
	require.NoError(t, err)

	price := 61200.0
	rec, err := b.Close(pos.ID, models.TakeProfit, &price)
	require.NoError(t, err)

	// 100 * 10 * (1200/60000) = 20
	assert.Equal(t, 20.0, rec.RealizedPnL)
	assert.Equal(t, models.TakeProfit, rec.CloseReason)
	assert.Equal(t, 61200.0, rec.ExitPrice)
	assert.Equal(t, 1020.0, b.Cash())
	assert.Empty(t, b.ListOpen())

	history := b.ListHistory()
	require.Len(t, history, 1)
	assert.Equal(t, pos.ID, history[0].ID)

	ev := pub.last()
	assert.Equal(t, models.EventOrderClose, ev.Type)
	assert.Equal(t, 1020.0, *ev.Balance)
}

func TestShortTakeProfit(t *testing.T) {
	b, _, _ := newTestBook(t)
	req := longReq(100)
	req.Side = models.Short
	pos, err := b.Open(req)
	require.NoError(t, err)
	assert.Equal(t, 58800.0, pos.TPPrice)
	assert.Equal(t, 61200.0, pos.SLPrice)

	price := 58800.0
	rec, err := b.Close(pos.ID, models.TakeProfit, &price)
	require.NoError(t, err)
	assert.Equal(t, 20.0, rec.RealizedPnL)
	assert.Equal(t, 1020.0, b.Cash())
}

func TestOpenThenCloseAtSamePriceIsFlat(t *testing.T) {
	b, _, _ := newTestBook(t)
	pos, err := b.Open(longReq(250))
	require.NoError(t, err)

	rec, err := b.Close(pos.ID, models.Manual, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.RealizedPnL)
	assert.Equal(t, 1000.0, b.Cash())
}

func TestOpenBalanceBoundary(t *testing.T) {
	b, _, _ := newTestBook(t)

	_, err := b.Open(longReq(math.Nextafter(1000, 2000)))
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
	assert.Equal(t, 1000.0, b.Cash())
	assert.Empty(t, b.ListOpen())

	_, err = b.Open(longReq(1000))
	require.NoError(t, err)
	assert.Equal(t, 0.0, b.Cash())
}

func TestOpenValidation(t *testing.T) {
	tests := []struct {
		name string
		req  models.OpenRequest
	}{
		{"bad side", models.OpenRequest{Side: "HOLD", Amount: 10, Leverage: 1, TPPct: 1, SLPct: 1}},
		{"zero amount", models.OpenRequest{Side: models.Long, Amount: 0, Leverage: 1, TPPct: 1, SLPct: 1}},
		{"nan amount", models.OpenRequest{Side: models.Long, Amount: math.NaN(), Leverage: 1, TPPct: 1, SLPct: 1}},
		{"leverage zero", models.OpenRequest{Side: models.Long, Amount: 10, Leverage: 0, TPPct: 1, SLPct: 1}},
		{"leverage too high", models.OpenRequest{Side: models.Long, Amount: 10, Leverage: 101, TPPct: 1, SLPct: 1}},
		{"zero tp", models.OpenRequest{Side: models.Long, Amount: 10, Leverage: 1, TPPct: 0, SLPct: 1}},
		{"negative sl", models.OpenRequest{Side: models.Long, Amount: 10, Leverage: 1, TPPct: 1, SLPct: -1}},
		{"long sl below zero", models.OpenRequest{Side: models.Long, Amount: 10, Leverage: 1, TPPct: 1, SLPct: 100}},
		{"short tp below zero", models.OpenRequest{Side: models.Short, Amount: 10, Leverage: 1, TPPct: 150, SLPct: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, pub, _ := newTestBook(t)
			before := len(pub.types())

			_, err := b.Open(tt.req)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Equal(t, 1000.0, b.Cash())
			assert.Empty(t, b.ListOpen())
			assert.Len(t, pub.types(), before, "no event on rejected open")
		})
	}
}

func TestOpenLeverageBoundsAccepted(t *testing.T) {
	b, _, _ := newTestBook(t)
	for _, lev := range []int{1, 100} {
		req := longReq(10)
		req.Leverage = lev
		_, err := b.Open(req)
		assert.NoError(t, err)
	}
}

func TestOpenUnknownSymbolNeedsPrice(t *testing.T) {
	b, _, _ := newTestBook(t)
	req := longReq(10)
	req.Symbol = "ethusdt"

	_, err := b.Open(req)
	assert.ErrorIs(t, err, models.ErrNoPrice)

	b.ObservePrice("ETHUSDT", 3000)
	pos, err := b.Open(req)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", pos.Symbol)
	assert.Equal(t, 3000.0, pos.EntryPrice)
}

func TestCloseTwiceReturnsNotFound(t *testing.T) {
	b, pub, _ := newTestBook(t)
	pos, err := b.Open(longReq(100))
	require.NoError(t, err)

	_, err = b.Close(pos.ID, models.Manual, nil)
	require.NoError(t, err)
	cash := b.Cash()
	events := len(pub.types())

	_, err = b.Close(pos.ID, models.Manual, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, cash, b.Cash())
	assert.Len(t, b.ListHistory(), 1)
	assert.Len(t, pub.types(), events)
}

func TestConcurrentCloseRace(t *testing.T) {
	b, _, _ := newTestBook(t)
	pos, err := b.Open(longReq(100))
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := b.Close(pos.ID, models.Manual, nil)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var ok, notFound int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		if errors.Is(err, models.ErrNotFound) {
			notFound++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, racers-1, notFound)
	assert.Len(t, b.ListHistory(), 1)
	assert.Equal(t, 1000.0, b.Cash())
}

func TestHistoryIsMostRecentFirst(t *testing.T) {
	b, _, _ := newTestBook(t)
	for i := 0; i < 3; i++ {
		_, err := b.Open(longReq(10))
		require.NoError(t, err)
	}
	for _, id := range []int64{2, 1, 3} {
		_, err := b.Close(id, models.Manual, nil)
		require.NoError(t, err)
	}
	var ids []int64
	for _, r := range b.ListHistory() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{3, 1, 2}, ids)
}

func TestEquityUsesEachSymbolsPrice(t *testing.T) {
	b, _, _ := newTestBook(t)
	_, err := b.Open(longReq(100)) // BTC at 60000
	require.NoError(t, err)

	b.ObservePrice("ETHUSDT", 3000)
	eth := longReq(100)
	eth.Symbol = "ETHUSDT"
	eth.Side = models.Short
	_, err = b.Open(eth)
	require.NoError(t, err)
	assert.Equal(t, 800.0, b.Equity())

	// long +20, short +10
	b.ApplyTick("BTCUSDT", 61200, fixedNow)
	b.ObservePrice("ETHUSDT", 2970)
	assert.Equal(t, 830.0, b.Equity())

	state := b.State()
	assert.Equal(t, 800.0, state.Balance)
	assert.Equal(t, 830.0, state.Equity)
	assert.Equal(t, 61200.0, state.Price)
	assert.Len(t, state.Positions, 2)

	u := b.Unrealized()
	assert.Equal(t, 20.0, u[1])
	assert.Equal(t, 10.0, u[2])
}

func TestCloseAllNewestFirst(t *testing.T) {
	b, _, mir := newTestBook(t)
	for i := 0; i < 3; i++ {
		_, err := b.Open(longReq(100))
		require.NoError(t, err)
	}
	closed := b.CloseAll(models.Manual)
	require.Len(t, closed, 3)
	assert.Equal(t, int64(3), closed[0].ID)
	assert.Equal(t, int64(1), closed[2].ID)
	assert.Empty(t, b.ListOpen())
	assert.Equal(t, 1000.0, b.Cash())
	assert.Equal(t, 1000.0, mir.last.Cash)
}

func TestResetClearsEverything(t *testing.T) {
	b, pub, mir := newTestBook(t)
	_, err := b.Open(longReq(100))
	require.NoError(t, err)
	_, err = b.Close(1, models.Manual, nil)
	require.NoError(t, err)
	b.ObservePrice("ETHUSDT", 3000)
	_, err = b.Open(longReq(100))
	require.NoError(t, err)

	require.NoError(t, b.Reset(500, 42000))

	assert.Equal(t, 500.0, b.Cash())
	assert.Empty(t, b.ListOpen())
	assert.Empty(t, b.ListHistory())
	assert.Equal(t, int64(1), b.NextID())
	sym, price := b.ActiveSymbol()
	assert.Equal(t, "BTCUSDT", sym)
	assert.Equal(t, 42000.0, price)
	_, ok := b.Price("ETHUSDT")
	assert.False(t, ok)

	assert.Equal(t, models.EventReset, pub.last().Type)
	assert.Equal(t, []string{"wipe", "put_account"}, mir.calls[len(mir.calls)-2:])

	assert.ErrorIs(t, b.Reset(-1, 100), models.ErrValidation)
	assert.ErrorIs(t, b.Reset(100, 0), models.ErrValidation)
}

func TestMirrorSequence(t *testing.T) {
	b, _, mir := newTestBook(t)
	mir.calls = nil

	_, err := b.Open(longReq(100))
	require.NoError(t, err)
	_, err = b.Close(1, models.Manual, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"put_open", "put_account", "delete_open", "put_closed", "put_account"}, mir.calls)
}

func TestSetSymbolAndTicks(t *testing.T) {
	b, pub, _ := newTestBook(t)

	b.SetSymbol("ethusdt", 3000)
	sym, price := b.ActiveSymbol()
	assert.Equal(t, "ETHUSDT", sym)
	assert.Equal(t, 3000.0, price)
	assert.Equal(t, models.SymbolEvent("ETHUSDT"), pub.last())

	n := len(pub.types())
	b.ApplyTick("BTCUSDT", 61000, fixedNow)
	assert.Len(t, pub.types(), n, "stale tick for the old symbol is not broadcast")
	p, _ := b.Price("BTCUSDT")
	assert.Equal(t, 61000.0, p)

	b.ApplyTick("ETHUSDT", 3010, fixedNow)
	ev := pub.last()
	assert.Equal(t, models.EventTick, ev.Type)
	assert.Equal(t, 3010.0, ev.Price)
	assert.Equal(t, fixedNow.UnixMilli(), ev.Timestamp)

	b.EmitTick(fixedNow)
	assert.Equal(t, 3010.0, pub.last().Price)
}

func TestRestoreContinuesIDs(t *testing.T) {
	b := New(9000, "BTCUSDT", 60000, nil, nil)
	snap := &models.Snapshot{
		Account: &models.Account{Cash: 750, Symbol: "ethusdt", Price: 3100},
		Open:    []models.Position{{ID: 4, Symbol: "ETHUSDT", Side: models.Long, Amount: 50, Leverage: 2, EntryPrice: 3000}},
		History: []models.ClosedRecord{{Position: models.Position{ID: 7}}},
	}
	b.Restore(snap)

	assert.Equal(t, int64(8), b.NextID())
	assert.Equal(t, 750.0, b.Cash())
	sym, price := b.ActiveSymbol()
	assert.Equal(t, "ETHUSDT", sym)
	assert.Equal(t, 3100.0, price)
	assert.Len(t, b.ListOpen(), 1)
	assert.Len(t, b.ListHistory(), 1)

	pos, err := b.Open(models.OpenRequest{Side: models.Long, Amount: 10, Leverage: 1, TPPct: 1, SLPct: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos.ID)
}

func TestCloseWithoutObservedPriceUsesEntry(t *testing.T) {
	b := New(1000, "BTCUSDT", 60000, nil, nil)
	b.Restore(&models.Snapshot{Open: []models.Position{{ID: 1, Symbol: "SOLUSDT", Side: models.Long, Amount: 10, Leverage: 5, EntryPrice: 150}}})

	assert.Equal(t, 1000.0, b.Equity())
	rec, err := b.Close(1, models.Manual, nil)
	require.NoError(t, err)
	assert.Equal(t, 150.0, rec.ExitPrice)
	assert.Equal(t, 0.0, rec.RealizedPnL)
}

func TestWithActiveBlocksMutations(t *testing.T) {
	b := New(1000, "BTCUSDT", 60000, nil, nil)
	done := make(chan struct{})

	b.WithActive(func(symbol string, price float64) {
		assert.Equal(t, "BTCUSDT", symbol)
		assert.Equal(t, 60000.0, price)
		go func() {
			b.SetSymbol("ETHUSDT", 3000)
			close(done)
		}()
		select {
		case <-done:
			t.Error("SetSymbol completed while the book was held")
		case <-time.After(20 * time.Millisecond):
		}
	})

	<-done
	symbol, price := b.ActiveSymbol()
	assert.Equal(t, "ETHUSDT", symbol)
	assert.Equal(t, 3000.0, price)
}
