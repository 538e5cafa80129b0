package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"paper-trading-sim/internal/persistence"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// One row per persisted node. parent lets us list direct children without
	// pattern matching on path.
	createNodesTableSQL := `
	CREATE TABLE IF NOT EXISTS kv_nodes (
		path TEXT PRIMARY KEY,
		parent TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createNodesTableSQL); err != nil {
		return err
	}

	createParentIndexSQL := `CREATE INDEX IF NOT EXISTS kv_nodes_parent_idx ON kv_nodes (parent);`
	if _, err := db.Exec(createParentIndexSQL); err != nil {
		return err
	}
	return nil
}

// SQLiteGateway implements persistence.Gateway on top of a local SQLite file.
type SQLiteGateway struct {
	db *sql.DB
}

var _ persistence.Gateway = (*SQLiteGateway)(nil)

// NewSQLiteGateway opens (or creates) the database at dataSourceName.
func NewSQLiteGateway(dataSourceName string) (*SQLiteGateway, error) {
	db, err := InitDB(dataSourceName)
	if err != nil {
		return nil, err
	}
	return &SQLiteGateway{db: db}, nil
}

// Put creates or updates the node at p.
func (g *SQLiteGateway) Put(ctx context.Context, p string, value []byte) error {
	node := persistence.Clean(p)
	query := `
	INSERT INTO kv_nodes (path, parent, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at;`

	_, err := g.db.ExecContext(ctx, query, node, parentOf(node), value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to put node %s: %w", node, err)
	}
	return nil
}

// Delete removes the node and its subtree in one transaction.
func (g *SQLiteGateway) Delete(ctx context.Context, p string) error {
	node := persistence.Clean(p)

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for delete %s: %w", node, err)
	}
	defer tx.Rollback() // Rollback on any error

	if _, err := tx.ExecContext(ctx, "DELETE FROM kv_nodes WHERE path = ?", node); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", node, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_nodes WHERE path LIKE ? ESCAPE '\'`, escapeLike(node)+"/%"); err != nil {
		return fmt.Errorf("failed to delete subtree %s: %w", node, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete %s: %w", node, err)
	}
	return nil
}

// ListChildren returns the values of the direct children of p ordered by path.
func (g *SQLiteGateway) ListChildren(ctx context.Context, p string) ([][]byte, error) {
	node := persistence.Clean(p)
	rows, err := g.db.QueryContext(ctx, "SELECT value FROM kv_nodes WHERE parent = ? ORDER BY path", node)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %s: %w", node, err)
	}
	defer rows.Close()

	values := make([][]byte, 0)
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Close closes the underlying database.
func (g *SQLiteGateway) Close() error {
	return g.db.Close()
}

func parentOf(node string) string {
	dir := path.Dir(node)
	if dir == "." {
		return ""
	}
	return dir
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
