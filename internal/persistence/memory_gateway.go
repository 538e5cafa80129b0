package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryGateway keeps nodes in a map. Used for the "memory" backend and in tests.
type MemoryGateway struct {
	mu    sync.RWMutex
	nodes map[string][]byte
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{nodes: make(map[string][]byte)}
}

func (g *MemoryGateway) Put(_ context.Context, path string, value []byte) error {
	cp := append([]byte(nil), value...)
	g.mu.Lock()
	g.nodes[Clean(path)] = cp
	g.mu.Unlock()
	return nil
}

func (g *MemoryGateway) Delete(_ context.Context, path string) error {
	node := Clean(path)
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, node)
	for k := range g.nodes {
		if strings.HasPrefix(k, node+"/") {
			delete(g.nodes, k)
		}
	}
	return nil
}

func (g *MemoryGateway) ListChildren(_ context.Context, path string) ([][]byte, error) {
	prefix := Clean(path) + "/"
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := make([]string, 0)
	for k := range g.nodes {
		if _, ok := childName(prefix, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, 0, len(keys))
	for _, k := range keys {
		values = append(values, append([]byte(nil), g.nodes[k]...))
	}
	return values, nil
}

// Len returns the number of stored nodes.
func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *MemoryGateway) Close() error { return nil }
