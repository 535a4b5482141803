// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps records in a single _local_kv table.
type SQLiteBackend struct {
	DB      *sql.DB
	ownsDB  bool
	writeMu sync.Mutex // Serialize writes to avoid SQLITE_BUSY under concurrent savers
}

// OpenSQLite opens (or creates) the database file at path and prepares it.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	b, err := NewSQLiteBackend(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// NewSQLiteBackend prepares an existing database handle. The caller keeps ownership of db.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &SQLiteBackend{DB: db}, nil
}

func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _local_kv (
			kv_key         TEXT NOT NULL PRIMARY KEY,  -- namespace:entity_type:entity_id
			namespace      TEXT NOT NULL,
			entity_type    TEXT NOT NULL,
			entity_id      TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			value          TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_local_kv_entity ON _local_kv(namespace, entity_type, entity_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create local kv table: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, key Key) (*Record, error) {
	var (
		version   int
		value     string
		updatedAt string
	)
	err := b.DB.QueryRowContext(ctx, `
		SELECT schema_version, value, updated_at FROM _local_kv WHERE kv_key = ?
	`, key.String()).Scan(&version, &value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", key, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("bad updated_at for %s: %w", key, err)
	}
	return &Record{Key: key, Version: version, Value: []byte(value), UpdatedAt: ts}, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, rec *Record) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_, err := b.DB.ExecContext(ctx, `
		INSERT INTO _local_kv (kv_key, namespace, entity_type, entity_id, schema_version, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kv_key) DO UPDATE SET
			schema_version = excluded.schema_version,
			value = excluded.value,
			updated_at = excluded.updated_at
	`, rec.Key.String(), rec.Key.Namespace, rec.Key.EntityType, rec.Key.ID,
		rec.Version, string(rec.Value), rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.Key, err)
	}
	return nil
}

func (b *SQLiteBackend) Remove(ctx context.Context, key Key) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if _, err := b.DB.ExecContext(ctx, `DELETE FROM _local_kv WHERE kv_key = ?`, key.String()); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (b *SQLiteBackend) Scan(ctx context.Context, namespace, entityType string) ([]Record, error) {
	rows, err := b.DB.QueryContext(ctx, `
		SELECT entity_id, schema_version, value, updated_at
		FROM _local_kv
		WHERE namespace = ? AND entity_type = ?
		ORDER BY entity_id
	`, namespace, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			id        string
			version   int
			value     string
			updatedAt string
		)
		if err := rows.Scan(&id, &version, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("bad updated_at for %s: %w", id, err)
		}
		out = append(out, Record{
			Key:       Key{Namespace: namespace, EntityType: entityType, ID: id},
			Version:   version,
			Value:     []byte(value),
			UpdatedAt: ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}

// Close closes the database only when the backend opened it.
func (b *SQLiteBackend) Close() error {
	if b.ownsDB {
		return b.DB.Close()
	}
	return nil
}
