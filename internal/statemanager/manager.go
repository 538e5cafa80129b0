package statemanager

import (
	"context"
	"fmt"
	"paper-trading-sim/internal/models"
	"paper-trading-sim/internal/persistence"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// MutationType defines the kind of write mirrored to the persistence gateway
type MutationType int

const (
	PutOpenMutation MutationType = iota
	DeleteOpenMutation
	PutClosedMutation
	PutAccountMutation
	WipeMutation
)

func (t MutationType) String() string {
	switch t {
	case PutOpenMutation:
		return "put_open"
	case DeleteOpenMutation:
		return "delete_open"
	case PutClosedMutation:
		return "put_closed"
	case PutAccountMutation:
		return "put_account"
	case WipeMutation:
		return "wipe"
	}
	return "unknown"
}

// Mutation is a standardized internal representation of a pending write
type Mutation struct {
	Type      MutationType
	Timestamp time.Time
	Data      interface{}
}

// Paths lays out the persisted tree under a root node.
type Paths struct {
	Root string
}

func (p Paths) OpenDir() string        { return persistence.Join(p.Root, "open") }
func (p Paths) ClosedDir() string      { return persistence.Join(p.Root, "closed") }
func (p Paths) AccountDir() string     { return persistence.Join(p.Root, "account") }
func (p Paths) Open(id int64) string   { return persistence.Join(p.OpenDir(), strconv.FormatInt(id, 10)) }
func (p Paths) Closed(id int64) string { return persistence.Join(p.ClosedDir(), strconv.FormatInt(id, 10)) }
func (p Paths) Account() string        { return persistence.Join(p.AccountDir(), "current") }

// StateManager mirrors every book mutation to the gateway asynchronously.
// Mutations are applied serially in dispatch order; failures are logged and
// never reach the trading path.
type StateManager struct {
	gateway         persistence.Gateway
	paths           Paths
	persistenceChan chan Mutation
	stopChan        chan struct{}
	doneChan        chan struct{}
	stopOnce        sync.Once
	opTimeout       time.Duration
	dropped         atomic.Int64
	failures        atomic.Int64
	applied         atomic.Int64
	logger          *zap.Logger
}

// NewStateManager creates a new StateManager. A nil gateway turns it into a no-op.
func NewStateManager(gateway persistence.Gateway, root string, queueSize int, logger *zap.Logger) *StateManager {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &StateManager{
		gateway:         gateway,
		paths:           Paths{Root: persistence.Clean(root)},
		persistenceChan: make(chan Mutation, queueSize), // Buffered channel for pending writes
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
		opTimeout:       5 * time.Second,
		logger:          logger,
	}
}

// Paths returns the node layout used by this manager.
func (sm *StateManager) Paths() Paths { return sm.paths }

// Start begins the persistence loop.
func (sm *StateManager) Start() {
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop flushes already queued mutations and shuts the loop down.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
		<-sm.doneChan
		sm.logger.Sugar().Infof("StateManager stopped. applied=%d failed=%d dropped=%d",
			sm.applied.Load(), sm.failures.Load(), sm.dropped.Load())
	})
}

// DispatchMutation queues a write without ever blocking the caller.
func (sm *StateManager) DispatchMutation(m Mutation) {
	if sm.gateway == nil {
		return
	}
	select {
	case <-sm.stopChan:
		sm.dropped.Add(1)
		return
	default:
	}
	select {
	case sm.persistenceChan <- m:
	default:
		sm.dropped.Add(1)
		sm.logger.Sugar().Errorf("CRITICAL: persistence queue full, dropping %s mutation", m.Type)
	}
}

func (sm *StateManager) PutOpen(p models.Position) {
	sm.DispatchMutation(Mutation{Type: PutOpenMutation, Timestamp: time.Now(), Data: p})
}

func (sm *StateManager) DeleteOpen(id int64) {
	sm.DispatchMutation(Mutation{Type: DeleteOpenMutation, Timestamp: time.Now(), Data: id})
}

func (sm *StateManager) PutClosed(r models.ClosedRecord) {
	sm.DispatchMutation(Mutation{Type: PutClosedMutation, Timestamp: time.Now(), Data: r})
}

func (sm *StateManager) PutAccount(a models.Account) {
	sm.DispatchMutation(Mutation{Type: PutAccountMutation, Timestamp: time.Now(), Data: a})
}

func (sm *StateManager) Wipe() {
	sm.DispatchMutation(Mutation{Type: WipeMutation, Timestamp: time.Now()})
}

// Stats reports applied, failed and dropped mutation counts.
func (sm *StateManager) Stats() (applied, failed, dropped int64) {
	return sm.applied.Load(), sm.failures.Load(), sm.dropped.Load()
}

// persistenceLoop handles the asynchronous writes.
func (sm *StateManager) persistenceLoop() {
	defer close(sm.doneChan)
	for {
		select {
		case m := <-sm.persistenceChan:
			sm.apply(m)
		case <-sm.stopChan:
			// Drain what was queued before Stop so a clean shutdown loses nothing.
			for {
				select {
				case m := <-sm.persistenceChan:
					sm.apply(m)
				default:
					return
				}
			}
		}
	}
}

func (sm *StateManager) apply(m Mutation) {
	ctx, cancel := context.WithTimeout(context.Background(), sm.opTimeout)
	defer cancel()

	if err := sm.processMutation(ctx, m); err != nil {
		sm.failures.Add(1)
		sm.logger.Sugar().Errorf("CRITICAL: Failed to persist %s mutation: %v", m.Type, err)
		return
	}
	sm.applied.Add(1)
}

// processMutation translates a mutation into gateway calls.
func (sm *StateManager) processMutation(ctx context.Context, m Mutation) error {
	switch m.Type {
	case PutOpenMutation:
		if p, ok := m.Data.(models.Position); ok {
			return sm.put(ctx, sm.paths.Open(p.ID), p)
		}
	case DeleteOpenMutation:
		if id, ok := m.Data.(int64); ok {
			return sm.gateway.Delete(ctx, sm.paths.Open(id))
		}
	case PutClosedMutation:
		if r, ok := m.Data.(models.ClosedRecord); ok {
			return sm.put(ctx, sm.paths.Closed(r.ID), r)
		}
	case PutAccountMutation:
		if a, ok := m.Data.(models.Account); ok {
			return sm.put(ctx, sm.paths.Account(), a)
		}
	case WipeMutation:
		if err := sm.gateway.Delete(ctx, sm.paths.OpenDir()); err != nil {
			return err
		}
		return sm.gateway.Delete(ctx, sm.paths.ClosedDir())
	}
	sm.logger.Sugar().Warnf("Received %s mutation with unexpected data type: %T", m.Type, m.Data)
	return nil
}

func (sm *StateManager) put(ctx context.Context, path string, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return sm.gateway.Put(ctx, path, data)
}

// Load reads the persisted tree back for a warm start. Undecodable nodes are
// skipped with a warning. A nil gateway yields an empty snapshot.
func (sm *StateManager) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	if sm.gateway == nil {
		return snap, nil
	}

	openRaw, err := sm.gateway.ListChildren(ctx, sm.paths.OpenDir())
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", models.ErrPersistence, sm.paths.OpenDir(), err)
	}
	for _, raw := range openRaw {
		var p models.Position
		if err := sonic.Unmarshal(raw, &p); err != nil || p.ID <= 0 {
			sm.logger.Sugar().Warnf("Skipping unreadable open position node: %v", err)
			continue
		}
		snap.Open = append(snap.Open, p)
	}

	closedRaw, err := sm.gateway.ListChildren(ctx, sm.paths.ClosedDir())
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", models.ErrPersistence, sm.paths.ClosedDir(), err)
	}
	for _, raw := range closedRaw {
		var r models.ClosedRecord
		if err := sonic.Unmarshal(raw, &r); err != nil || r.ID <= 0 {
			sm.logger.Sugar().Warnf("Skipping unreadable closed record node: %v", err)
			continue
		}
		snap.History = append(snap.History, r)
	}

	accountRaw, err := sm.gateway.ListChildren(ctx, sm.paths.AccountDir())
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", models.ErrPersistence, sm.paths.AccountDir(), err)
	}
	if len(accountRaw) > 0 {
		var a models.Account
		if err := sonic.Unmarshal(accountRaw[len(accountRaw)-1], &a); err != nil {
			sm.logger.Sugar().Warnf("Skipping unreadable account node: %v", err)
		} else {
			snap.Account = &a
		}
	}

	sort.Slice(snap.Open, func(i, j int) bool { return snap.Open[i].ID < snap.Open[j].ID })
	sort.Slice(snap.History, func(i, j int) bool {
		a, b := snap.History[i], snap.History[j]
		if !a.ClosedAt.Equal(b.ClosedAt) {
			return a.ClosedAt.After(b.ClosedAt)
		}
		return a.ID > b.ID
	})

	// A position that made it to history must not also come back as open.
	closedIDs := make(map[int64]struct{}, len(snap.History))
	for _, r := range snap.History {
		closedIDs[r.ID] = struct{}{}
	}
	open := snap.Open[:0]
	for _, p := range snap.Open {
		if _, dup := closedIDs[p.ID]; dup {
			sm.logger.Sugar().Warnf("Open position %d is also in history; keeping the closed record.", p.ID)
			continue
		}
		open = append(open, p)
	}
	snap.Open = open

	sm.logger.Sugar().Infof("Loaded persisted state: open=%d closed=%d account=%t", len(snap.Open), len(snap.History), snap.Account != nil)
	return snap, nil
}
