package health

import (
	"sync/atomic"
	"time"
)

// State tracks process readiness and loop liveness for the probe endpoints.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	lastTickUnix atomic.Int64 // unix millis
	lastScanUnix atomic.Int64 // unix millis
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.UnixMilli()) }
func (s *State) LastTick() time.Time   { return fromMillis(s.lastTickUnix.Load()) }

func (s *State) TouchScan(t time.Time) { s.lastScanUnix.Store(t.UnixMilli()) }
func (s *State) LastScan() time.Time   { return fromMillis(s.lastScanUnix.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

// Snapshot is the JSON body of /healthz.
type Snapshot struct {
	OK           bool  `json:"ok"`
	Ready        bool  `json:"ready"`
	UptimeSec    int64 `json:"uptimeSec"`
	LastTickUnix int64 `json:"lastTickUnix"`
	LastScanUnix int64 `json:"lastScanUnix"`
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		OK:           true,
		Ready:        s.Ready(),
		UptimeSec:    int64(s.Uptime().Seconds()),
		LastTickUnix: unixOrZero(s.LastTick()),
		LastScanUnix: unixOrZero(s.LastScan()),
	}
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
