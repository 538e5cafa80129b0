// Package book holds the account, the open positions, the closed history and
// the observed market prices behind a single lock.
package book

import (
	"fmt"
	"paper-trading-sim/internal/models"
	"strings"
	"sync"
	"time"
)

// Publisher receives every event the book emits. Implementations must not block.
type Publisher interface {
	Publish(ev models.Event)
}

// Mirror receives best-effort persistence writes. Implementations must not block.
type Mirror interface {
	PutOpen(p models.Position)
	DeleteOpen(id int64)
	PutClosed(r models.ClosedRecord)
	PutAccount(a models.Account)
	Wipe()
}

// Book is the single critical section of the simulator. Events and mirror
// writes are emitted while the lock is held so their order matches the order
// of mutations.
type Book struct {
	mu        sync.Mutex
	cash      float64
	symbol    string
	prices    map[string]float64
	open      []models.Position
	history   []models.ClosedRecord // most recent first
	nextID    int64
	publisher Publisher
	mirror    Mirror
	now       func() time.Time
}

// Option customises a Book.
type Option func(*Book)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// New creates a book with the given cash, active symbol and its starting price.
// publisher and mirror may be nil.
func New(cash float64, symbol string, price float64, publisher Publisher, mirror Mirror, opts ...Option) *Book {
	b := &Book{
		cash:      cash,
		symbol:    strings.ToUpper(symbol),
		prices:    make(map[string]float64),
		nextID:    1,
		publisher: publisher,
		mirror:    mirror,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if price > 0 {
		b.prices[b.symbol] = price
	}
	return b
}

// Open validates the request, debits the margin and records a new position
// at the current price of its symbol.
func (b *Book) Open(req models.OpenRequest) (models.Position, error) {
	if err := validate(req); err != nil {
		return models.Position{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		symbol = b.symbol
	}
	entry, ok := b.prices[symbol]
	if !ok || !(entry > 0) {
		return models.Position{}, fmt.Errorf("%w: %s", models.ErrNoPrice, symbol)
	}
	tp, sl := models.TargetPrices(req.Side, entry, req.TPPct, req.SLPct)
	if !(tp > 0) || !(sl > 0) {
		return models.Position{}, models.Invalid("derived tp/sl prices must be positive (tp=%v sl=%v)", tp, sl)
	}
	if b.cash < req.Amount {
		return models.Position{}, fmt.Errorf("%w: cash %.2f < amount %.2f", models.ErrInsufficientBalance, b.cash, req.Amount)
	}

	pos := models.Position{
		ID:         b.nextID,
		Symbol:     symbol,
		Side:       req.Side,
		Amount:     req.Amount,
		Leverage:   req.Leverage,
		EntryPrice: entry,
		TPPct:      req.TPPct,
		SLPct:      req.SLPct,
		TPPrice:    tp,
		SLPrice:    sl,
		OpenedAt:   b.now(),
	}
	b.nextID++
	b.cash -= req.Amount
	b.open = append(b.open, pos)

	b.publish(models.OrderOpenEvent(pos, b.cash))
	if b.mirror != nil {
		b.mirror.PutOpen(pos)
		b.mirror.PutAccount(b.accountLocked())
	}
	return pos, nil
}

func validate(req models.OpenRequest) error {
	switch {
	case req.Side != models.Long && req.Side != models.Short:
		return models.Invalid("side must be LONG or SHORT, got %q", req.Side)
	case !models.Finite(req.Amount) || !(req.Amount > 0):
		return models.Invalid("amount must be > 0")
	case req.Leverage < 1 || req.Leverage > 100:
		return models.Invalid("leverage must be within 1-100")
	case !models.Finite(req.TPPct) || !(req.TPPct > 0):
		return models.Invalid("tpPct must be > 0")
	case !models.Finite(req.SLPct) || !(req.SLPct > 0):
		return models.Invalid("slPct must be > 0")
	}
	return nil
}

// Close settles the position at exitOverride, or at the last observed price
// of its symbol (entry price if none was ever observed).
func (b *Book) Close(id int64, reason models.CloseReason, exitOverride *float64) (models.ClosedRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked(id, reason, exitOverride)
}

func (b *Book) closeLocked(id int64, reason models.CloseReason, exitOverride *float64) (models.ClosedRecord, error) {
	idx := -1
	for i := range b.open {
		if b.open[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.ClosedRecord{}, fmt.Errorf("%w: id %d", models.ErrNotFound, id)
	}

	pos := b.open[idx]
	exit := b.markLocked(pos)
	if exitOverride != nil && *exitOverride > 0 {
		exit = *exitOverride
	}
	pnl := models.PnL(pos, exit)

	rec := models.ClosedRecord{
		Position:    pos,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		CloseReason: reason,
		ClosedAt:    b.now(),
	}
	b.cash += pos.Amount + pnl
	b.open = append(b.open[:idx], b.open[idx+1:]...)
	b.history = append([]models.ClosedRecord{rec}, b.history...)

	b.publish(models.OrderCloseEvent(rec, b.cash))
	if b.mirror != nil {
		b.mirror.DeleteOpen(pos.ID)
		b.mirror.PutClosed(rec)
		b.mirror.PutAccount(b.accountLocked())
	}
	return rec, nil
}

// CloseAll closes every open position, newest first, at current prices.
func (b *Book) CloseAll(reason models.CloseReason) []models.ClosedRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make([]models.ClosedRecord, 0, len(b.open))
	for i := len(b.open) - 1; i >= 0; i-- {
		rec, err := b.closeLocked(b.open[i].ID, reason, nil)
		if err == nil {
			closed = append(closed, rec)
		}
	}
	return closed
}

// Reset wipes positions and history, sets cash and the active symbol's price,
// and restarts ids at 1. Prices observed for other symbols are forgotten.
func (b *Book) Reset(balance, price float64) error {
	if !models.Finite(balance) || balance < 0 {
		return models.Invalid("balance must be >= 0")
	}
	if !models.Finite(price) || !(price > 0) {
		return models.Invalid("price must be > 0")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.cash = balance
	b.prices = map[string]float64{b.symbol: price}
	b.open = nil
	b.history = nil
	b.nextID = 1

	b.publish(models.ResetEvent())
	if b.mirror != nil {
		b.mirror.Wipe()
		b.mirror.PutAccount(b.accountLocked())
	}
	return nil
}

// SetSymbol switches the active symbol. price seeds its market price.
func (b *Book) SetSymbol(symbol string, price float64) {
	symbol = strings.ToUpper(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.symbol = symbol
	if price > 0 {
		b.prices[symbol] = price
	}
	b.publish(models.SymbolEvent(symbol))
	if b.mirror != nil {
		b.mirror.PutAccount(b.accountLocked())
	}
}

// ApplyTick records the active symbol's latest price and emits a tick.
// A tick for a symbol that is no longer active is recorded but not broadcast.
func (b *Book) ApplyTick(symbol string, price float64, ts time.Time) {
	symbol = strings.ToUpper(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	if price > 0 {
		b.prices[symbol] = price
	}
	if symbol != b.symbol {
		return
	}
	b.publish(models.TickEvent(symbol, b.prices[symbol], ts))
}

// EmitTick broadcasts the active symbol's current price without changing it.
func (b *Book) EmitTick(ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publish(models.TickEvent(b.symbol, b.prices[b.symbol], ts))
}

// ObservePrice records a price without emitting anything.
func (b *Book) ObservePrice(symbol string, price float64) {
	if !(price > 0) || !models.Finite(price) {
		return
	}
	b.mu.Lock()
	b.prices[strings.ToUpper(symbol)] = price
	b.mu.Unlock()
}

// Price returns the last observed price of symbol.
func (b *Book) Price(symbol string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[strings.ToUpper(symbol)]
	return p, ok
}

// ActiveSymbol returns the active symbol and its current price.
func (b *Book) ActiveSymbol() (string, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.symbol, b.prices[b.symbol]
}

// WithActive calls fn with the active symbol and price while holding the
// book lock. No event is published while fn runs; fn must not call back
// into the book.
func (b *Book) WithActive(fn func(symbol string, price float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.symbol, b.prices[b.symbol])
}

// Cash returns the unrounded cash balance.
func (b *Book) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// ListOpen returns a copy of the open positions in opening order.
func (b *Book) ListOpen() []models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Position{}, b.open...)
}

// ListHistory returns a copy of the closed records, most recent first.
func (b *Book) ListHistory() []models.ClosedRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ClosedRecord{}, b.history...)
}

// Equity is cash plus the unrealized PnL of every open position at its own
// symbol's price.
func (b *Book) Equity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.equityLocked()
}

// State returns a consistent rounded view of the whole book.
func (b *Book) State() models.StateView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.StateView{
		Symbol:    b.symbol,
		Price:     b.prices[b.symbol],
		Balance:   models.Round2(b.cash),
		Equity:    models.Round2(b.equityLocked()),
		Positions: append([]models.Position{}, b.open...),
		History:   append([]models.ClosedRecord{}, b.history...),
	}
}

// Unrealized returns the unrealized PnL of every open position keyed by id.
func (b *Book) Unrealized() map[int64]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]float64, len(b.open))
	for _, p := range b.open {
		out[p.ID] = models.PnL(p, b.markLocked(p))
	}
	return out
}

// Restore replaces the book contents with a persisted snapshot. The id
// counter continues after the highest id seen.
func (b *Book) Restore(snap *models.Snapshot) {
	if snap == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if a := snap.Account; a != nil {
		b.cash = a.Cash
		if a.Symbol != "" {
			b.symbol = strings.ToUpper(a.Symbol)
		}
		if a.Price > 0 {
			b.prices[b.symbol] = a.Price
		}
	}
	b.open = append([]models.Position{}, snap.Open...)
	b.history = append([]models.ClosedRecord{}, snap.History...)
	b.nextID = snap.MaxID() + 1
}

// NextID exposes the id the next opened position will get.
func (b *Book) NextID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

func (b *Book) equityLocked() float64 {
	eq := b.cash
	for _, p := range b.open {
		eq += models.PnL(p, b.markLocked(p))
	}
	return eq
}

// markLocked is the price a position is valued at right now.
func (b *Book) markLocked(p models.Position) float64 {
	if px, ok := b.prices[p.Symbol]; ok && px > 0 {
		return px
	}
	return p.EntryPrice
}

func (b *Book) accountLocked() models.Account {
	return models.Account{
		Cash:      b.cash,
		Symbol:    b.symbol,
		Price:     b.prices[b.symbol],
		UpdatedAt: b.now(),
	}
}

func (b *Book) publish(ev models.Event) {
	if b.publisher != nil {
		b.publisher.Publish(ev)
	}
}
