package persistence

import (
	"context"
	"path"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const createNodesTableSQL = `
CREATE TABLE IF NOT EXISTS kv_nodes (
	path       TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS kv_nodes_parent_idx ON kv_nodes (parent);`

// postgresGateway keeps one row per node; parent makes child listing an index lookup.
type postgresGateway struct {
	pool *pgxpool.Pool
}

// NewPostgresGateway opens a pgx pool, verifies connectivity and ensures the table exists.
func NewPostgresGateway(ctx context.Context, dsn string) (Gateway, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: parse config")
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	if _, err := pool.Exec(ctx, createNodesTableSQL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: create table")
	}
	return &postgresGateway{pool: pool}, nil
}

func (g *postgresGateway) Put(ctx context.Context, p string, value []byte) error {
	node := Clean(p)
	_, err := g.pool.Exec(ctx, `
		INSERT INTO kv_nodes (path, parent, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		node, parentOf(node), value)
	return errors.Wrapf(err, "postgres: put %s", node)
}

func (g *postgresGateway) Delete(ctx context.Context, p string) error {
	node := Clean(p)
	_, err := g.pool.Exec(ctx,
		`DELETE FROM kv_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'`,
		node, escapeLike(node)+"/%")
	return errors.Wrapf(err, "postgres: delete %s", node)
}

func (g *postgresGateway) ListChildren(ctx context.Context, p string) ([][]byte, error) {
	node := Clean(p)
	rows, err := g.pool.Query(ctx, `SELECT value FROM kv_nodes WHERE parent = $1 ORDER BY path`, node)
	if err != nil {
		return nil, errors.Wrapf(err, "postgres: list %s", node)
	}
	defer rows.Close()

	values := make([][]byte, 0)
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrapf(err, "postgres: scan %s", node)
		}
		values = append(values, v)
	}
	return values, errors.Wrapf(rows.Err(), "postgres: list %s", node)
}

func (g *postgresGateway) Close() error {
	g.pool.Close()
	return nil
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
