package statusstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tv_status (
	store_id  TEXT PRIMARY KEY,
	device_id TEXT NOT NULL DEFAULT '',
	last_seen INTEGER NOT NULL
);`

// SQLiteStore implements Store on the tv_status table. last_seen is stored
// as epoch milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database at dsn and creates the table if needed.
// The parent directory of a file DSN is created as well.
func OpenSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if path := dsnPath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tv_status: %w", err)
	}
	if err := addDeviceIDColumn(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tv_status: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// dsnPath returns the file path named by dsn, or "" for in-memory databases.
func dsnPath(dsn string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return path
}

// addDeviceIDColumn upgrades tables created before device_id existed.
func addDeviceIDColumn(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info('tv_status')`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == "device_id" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = db.ExecContext(ctx, `ALTER TABLE tv_status ADD COLUMN device_id TEXT NOT NULL DEFAULT ''`)
	return err
}

// Upsert implements Store.Upsert.
func (s *SQLiteStore) Upsert(ctx context.Context, hb Heartbeat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tv_status (store_id, device_id, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			device_id = excluded.device_id,
			last_seen = excluded.last_seen
	`, hb.StoreID, hb.DeviceID, hb.LastSeen.UnixMilli())
	return err
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(ctx context.Context, storeID string) (Heartbeat, bool, error) {
	var (
		hb       Heartbeat
		lastSeen int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT store_id, device_id, last_seen FROM tv_status WHERE store_id = ?`,
		storeID,
	).Scan(&hb.StoreID, &hb.DeviceID, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return Heartbeat{}, false, nil
	}
	if err != nil {
		return Heartbeat{}, false, err
	}
	hb.LastSeen = time.UnixMilli(lastSeen).UTC()
	return hb, true, nil
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
