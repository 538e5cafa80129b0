package models

import "time"

// EventType 定义了推送给订阅者的事件类型
type EventType string

const (
	EventHello      EventType = "hello"
	EventTick       EventType = "tick"
	EventOrderOpen  EventType = "order_open"
	EventOrderClose EventType = "order_close"
	EventSymbol     EventType = "symbol"
	EventReset      EventType = "reset"
)

// Event 是广播负载，未用到的字段在序列化时省略
type Event struct {
	Type      EventType     `json:"type"`
	Symbol    string        `json:"symbol,omitempty"`
	Price     float64       `json:"price,omitempty"`
	Timestamp int64         `json:"timestamp,omitempty"` // 毫秒
	Position  *Position     `json:"position,omitempty"`
	Record    *ClosedRecord `json:"record,omitempty"`
	Balance   *float64      `json:"balance,omitempty"`
}

func HelloEvent(symbol string, price float64) Event {
	return Event{Type: EventHello, Symbol: symbol, Price: price}
}

func TickEvent(symbol string, price float64, ts time.Time) Event {
	return Event{Type: EventTick, Symbol: symbol, Price: price, Timestamp: ts.UnixMilli()}
}

func OrderOpenEvent(p Position, balance float64) Event {
	b := Round2(balance)
	return Event{Type: EventOrderOpen, Position: &p, Balance: &b}
}

func OrderCloseEvent(r ClosedRecord, balance float64) Event {
	b := Round2(balance)
	return Event{Type: EventOrderClose, Record: &r, Balance: &b}
}

func SymbolEvent(symbol string) Event {
	return Event{Type: EventSymbol, Symbol: symbol}
}

func ResetEvent() Event {
	return Event{Type: EventReset}
}
