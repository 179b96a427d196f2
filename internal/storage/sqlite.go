// Package storage caches parsed registry node lists in SQLite so repeated
// invocations can skip the node list download. Check results are never
// stored.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datadavev/mnstatus/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    base_url   TEXT PRIMARY KEY,
    fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
    base_url   TEXT    NOT NULL REFERENCES snapshots(base_url) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    identifier TEXT    NOT NULL,
    data       TEXT    NOT NULL,
    PRIMARY KEY (base_url, identifier)
);

CREATE INDEX IF NOT EXISTS idx_nodes_position ON nodes(base_url, position);
`

// Snapshot describes one cached node list.
type Snapshot struct {
	BaseURL   string
	FetchedAt time.Time
	Nodes     int
}

// DB wraps a SQLite database.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// one connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveNodes replaces the cached node list for baseURL. Check status is not
// stored.
func (d *DB) SaveNodes(ctx context.Context, baseURL string, nodes []registry.Node) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{`DELETE FROM nodes WHERE base_url = ?`, `DELETE FROM snapshots WHERE base_url = ?`} {
		if _, err := tx.ExecContext(ctx, q, baseURL); err != nil {
			return fmt.Errorf("clearing snapshot for %q: %w", baseURL, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (base_url, fetched_at) VALUES (?, ?)`,
		baseURL, d.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting snapshot for %q: %w", baseURL, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (base_url, position, identifier, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing node insert: %w", err)
	}
	defer stmt.Close()
	for i, n := range nodes {
		n.Status = nil
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encoding node %q: %w", n.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, baseURL, i, n.ID, string(data)); err != nil {
			return fmt.Errorf("inserting node %q: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// LoadNodes returns the cached node list for baseURL if it is younger than
// maxAge. A maxAge <= 0 accepts any age. ok is false when nothing usable is
// cached.
func (d *DB) LoadNodes(ctx context.Context, baseURL string, maxAge time.Duration) ([]registry.Node, bool, error) {
	nodes, _, ok, err := d.LoadSnapshot(ctx, baseURL, maxAge)
	return nodes, ok, err
}

// LoadSnapshot is LoadNodes that also returns when the list was fetched.
func (d *DB) LoadSnapshot(ctx context.Context, baseURL string, maxAge time.Duration) (nodes []registry.Node, fetchedAt time.Time, ok bool, err error) {
	var fetched string
	err = d.db.QueryRowContext(ctx, `SELECT fetched_at FROM snapshots WHERE base_url = ?`, baseURL).Scan(&fetched)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("querying snapshot for %q: %w", baseURL, err)
	}
	t, err := time.Parse(time.RFC3339Nano, fetched)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("parsing fetched_at %q: %w", fetched, err)
	}
	if maxAge > 0 && d.now().Sub(t) > maxAge {
		return nil, time.Time{}, false, nil
	}

	rows, err := d.db.QueryContext(ctx, `SELECT data FROM nodes WHERE base_url = ? ORDER BY position`, baseURL)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("querying nodes for %q: %w", baseURL, err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, time.Time{}, false, fmt.Errorf("scanning node row: %w", err)
		}
		var n registry.Node
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return nil, time.Time{}, false, fmt.Errorf("decoding cached node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("iterating node rows: %w", err)
	}
	return nodes, t, true, nil
}

// Snapshots lists the cached node lists.
func (d *DB) Snapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT s.base_url, s.fetched_at, COUNT(n.identifier)
		FROM snapshots s
		LEFT JOIN nodes n ON n.base_url = s.base_url
		GROUP BY s.base_url, s.fetched_at
		ORDER BY s.base_url
	`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var fetched string
		if err := rows.Scan(&s.BaseURL, &fetched, &s.Nodes); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if s.FetchedAt, err = time.Parse(time.RFC3339Nano, fetched); err != nil {
			return nil, fmt.Errorf("parsing fetched_at %q: %w", fetched, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}
	return out, nil
}

// Purge removes the cached node list for baseURL, or every list when
// baseURL is empty.
func (d *DB) Purge(ctx context.Context, baseURL string) error {
	where, args := ` WHERE base_url = ?`, []any{baseURL}
	if baseURL == "" {
		where, args = "", nil
	}
	for _, table := range []string{"nodes", "snapshots"} {
		if _, err := d.db.ExecContext(ctx, "DELETE FROM "+table+where, args...); err != nil {
			return fmt.Errorf("purging %s: %w", table, err)
		}
	}
	return nil
}
