package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/pthm-cable/digipop/telemetry"
)

// SQLiteStore keeps snapshots as JSON payloads in a SQLite database, next
// to the flushed telemetry windows so a run can be queried after the fact.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	name       TEXT PRIMARY KEY,
	update_num INTEGER NOT NULL,
	bookmark   TEXT NOT NULL DEFAULT '',
	population INTEGER NOT NULL,
	payload    BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS windows (
	window_end INTEGER PRIMARY KEY,
	population INTEGER NOT NULL,
	births     INTEGER NOT NULL,
	deaths     INTEGER NOT NULL,
	payload    BLOB NOT NULL
);`

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Save upserts the snapshot under its name.
func (s *SQLiteStore) Save(ctx context.Context, snap *telemetry.Snapshot) (string, error) {
	data, err := telemetry.EncodeSnapshot(snap)
	if err != nil {
		return "", err
	}
	bookmark := ""
	if snap.Bookmark != nil {
		bookmark = string(snap.Bookmark.Type)
	}
	name := snap.Name()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots(name, update_num, bookmark, population, payload) VALUES(?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET update_num=excluded.update_num, bookmark=excluded.bookmark,
		population=excluded.population, payload=excluded.payload`,
		name, snap.Population.Update, bookmark, len(snap.Population.Organisms), data)
	if err != nil {
		return "", fmt.Errorf("upsert snapshot %s: %w", name, err)
	}
	return name, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*telemetry.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE name = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot %s: %w", key, err)
	}
	return telemetry.DecodeSnapshot(data)
}

// List returns snapshot names ordered by update.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM snapshots ORDER BY update_num, name`)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SaveWindows records flushed telemetry windows in one transaction.
func (s *SQLiteStore) SaveWindows(ctx context.Context, windows ...telemetry.WindowStats) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, w := range windows {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO windows(window_end, population, births, deaths, payload) VALUES(?,?,?,?,?)
			ON CONFLICT(window_end) DO UPDATE SET population=excluded.population, births=excluded.births,
			deaths=excluded.deaths, payload=excluded.payload`,
			w.WindowEnd, w.Population, w.Births, w.Deaths, data); err != nil {
			return fmt.Errorf("upsert window %d: %w", w.WindowEnd, err)
		}
	}
	return tx.Commit()
}

// Windows returns every recorded window ordered by its end update.
func (s *SQLiteStore) Windows(ctx context.Context) ([]telemetry.WindowStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM windows ORDER BY window_end`)
	if err != nil {
		return nil, fmt.Errorf("select windows: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []telemetry.WindowStats
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var w telemetry.WindowStats
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DB exposes the underlying sql.DB.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error { return s.db.Close() }
