package persistence

import (
	"context"
	"path"
	"strings"
)

// Gateway defines the interface for mirroring state into a hierarchical
// key-value store. Paths are slash separated, e.g. "paper/positions/open/3".
// It abstracts the underlying storage mechanism (BadgerDB, Redis, PostgreSQL,
// SQLite, in-memory) from the rest of the application.
type Gateway interface {
	// Put writes value at path, replacing any previous value.
	Put(ctx context.Context, path string, value []byte) error

	// Delete removes the node at path and its whole subtree.
	// Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// ListChildren returns the values of the direct children of path,
	// ordered by key. A missing path yields an empty slice.
	ListChildren(ctx context.Context, path string) ([][]byte, error)

	// Close gracefully closes the connection to the store.
	Close() error
}

// Join builds a clean node path from its segments.
func Join(parts ...string) string {
	return strings.Trim(path.Join(parts...), "/")
}

// Clean normalises a caller supplied path.
func Clean(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// childName returns the first segment of key below prefix, and whether key is
// a direct child (no further nesting).
func childName(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
