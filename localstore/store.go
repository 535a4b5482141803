// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package localstore provides a namespaced, versioned key-value store for
// client state that has to survive restarts (fallback edits, id mappings,
// preferences).
//
// Every value lives under a key of the form namespace:entityType:id and
// carries the schema version it was written with. Older values are upgraded
// on read through registered migrations; values written by a newer client
// are refused instead of being misread.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("localstore: not found")
	ErrFutureVersion = errors.New("localstore: value written by a newer schema version")
	ErrNoMigration   = errors.New("localstore: no migration registered")
	ErrQuotaExceeded = errors.New("localstore: quota exceeded")
	ErrInvalidKey    = errors.New("localstore: invalid key")
)

// Key identifies one stored value.
type Key struct {
	Namespace  string
	EntityType string
	ID         string
}

func (k Key) String() string {
	return k.Namespace + ":" + k.EntityType + ":" + k.ID
}

// ParseKey splits "namespace:entityType:id". The id part may itself contain ':'.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return Key{Namespace: parts[0], EntityType: parts[1], ID: parts[2]}, nil
}

// Record is the unit persisted by a Backend.
type Record struct {
	Key       Key
	Version   int
	Value     json.RawMessage
	UpdatedAt time.Time
}

// Backend persists records. Implementations must be safe for concurrent use.
type Backend interface {
	Load(ctx context.Context, key Key) (*Record, error) // ErrNotFound when absent
	Save(ctx context.Context, rec *Record) error
	Remove(ctx context.Context, key Key) error
	Scan(ctx context.Context, namespace, entityType string) ([]Record, error) // ordered by id
	Close() error
}

// Migration upgrades a value from version N to N+1.
type Migration func(old json.RawMessage) (json.RawMessage, error)

// Options configures a Store.
type Options struct {
	Namespace     string
	MaxValueBytes int // 0 = unlimited
	Logger        *slog.Logger
	Now           func() time.Time
}

type typeInfo struct {
	version int
	steps   map[int]Migration
}

// Store is the typed front of a Backend scoped to one namespace.
type Store struct {
	backend   Backend
	namespace string
	maxBytes  int
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	types map[string]*typeInfo
}

// Entry is a decoded listing item.
type Entry struct {
	ID        string
	Version   int
	Value     json.RawMessage
	UpdatedAt time.Time
}

// Decode unmarshals the entry value into out.
func (e Entry) Decode(out any) error {
	return json.Unmarshal(e.Value, out)
}

// New creates a Store over backend.
func New(backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if opts.Namespace == "" || strings.Contains(opts.Namespace, ":") {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidKey, opts.Namespace)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend:   backend,
		namespace: opts.Namespace,
		maxBytes:  opts.MaxValueBytes,
		logger:    opts.Logger,
		now:       opts.Now,
		types:     make(map[string]*typeInfo),
	}, nil
}

// Namespace returns the namespace all keys of this store live under.
func (s *Store) Namespace() string { return s.namespace }

// Close closes the underlying backend.
func (s *Store) Close() error { return s.backend.Close() }

// Register declares the current schema version of an entity type. Types that
// are never registered are stored at version 1.
func (s *Store) Register(entityType string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti := s.typeLocked(entityType)
	ti.version = version
}

// RegisterMigration installs the step that upgrades entityType values from
// version `from` to `from+1`.
func (s *Store) RegisterMigration(entityType string, from int, fn Migration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti := s.typeLocked(entityType)
	ti.steps[from] = fn
}

func (s *Store) typeLocked(entityType string) *typeInfo {
	ti, ok := s.types[entityType]
	if !ok {
		ti = &typeInfo{version: 1, steps: make(map[int]Migration)}
		s.types[entityType] = ti
	}
	return ti
}

func (s *Store) currentVersion(entityType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ti, ok := s.types[entityType]; ok {
		return ti.version
	}
	return 1
}

func (s *Store) key(entityType, id string) (Key, error) {
	if entityType == "" || id == "" || strings.Contains(entityType, ":") {
		return Key{}, fmt.Errorf("%w: entity=%q id=%q", ErrInvalidKey, entityType, id)
	}
	return Key{Namespace: s.namespace, EntityType: entityType, ID: id}, nil
}

// Put stores v (JSON-encoded) at the current schema version of entityType,
// overwriting any previous value.
func (s *Store) Put(ctx context.Context, entityType, id string, v any) error {
	key, err := s.key(entityType, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrQuotaExceeded, key, len(data), s.maxBytes)
	}
	rec := &Record{
		Key:       key,
		Version:   s.currentVersion(entityType),
		Value:     data,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.backend.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Get loads the value for (entityType, id) into out. It reports false when no
// value exists.
func (s *Store) Get(ctx context.Context, entityType, id string, out any) (bool, error) {
	key, err := s.key(entityType, id)
	if err != nil {
		return false, err
	}
	rec, err := s.backend.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	value, err := s.upgrade(ctx, rec)
	if err != nil {
		return false, err
	}
	if out != nil {
		if err := json.Unmarshal(value, out); err != nil {
			return false, fmt.Errorf("failed to decode %s: %w", key, err)
		}
	}
	return true, nil
}

// Delete removes the value for (entityType, id). Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	key, err := s.key(entityType, id)
	if err != nil {
		return err
	}
	if err := s.backend.Remove(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List returns every value of entityType in id order, upgraded to the current version.
func (s *Store) List(ctx context.Context, entityType string) ([]Entry, error) {
	if entityType == "" {
		return nil, fmt.Errorf("%w: empty entity type", ErrInvalidKey)
	}
	recs, err := s.backend.Scan(ctx, s.namespace, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s:%s: %w", s.namespace, entityType, err)
	}
	out := make([]Entry, 0, len(recs))
	for i := range recs {
		value, err := s.upgrade(ctx, &recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{
			ID:        recs[i].Key.ID,
			Version:   s.currentVersion(entityType),
			Value:     value,
			UpdatedAt: recs[i].UpdatedAt,
		})
	}
	return out, nil
}

// upgrade walks rec forward to the current schema version and writes the result back.
func (s *Store) upgrade(ctx context.Context, rec *Record) (json.RawMessage, error) {
	s.mu.RLock()
	ti := s.types[rec.Key.EntityType]
	current := 1
	var steps map[int]Migration
	if ti != nil {
		current = ti.version
		steps = ti.steps
	}
	s.mu.RUnlock()

	if rec.Version > current {
		return nil, fmt.Errorf("%w: %s has version %d, client understands %d", ErrFutureVersion, rec.Key, rec.Version, current)
	}
	if rec.Version == current {
		return rec.Value, nil
	}

	value := rec.Value
	for v := rec.Version; v < current; v++ {
		step, ok := steps[v]
		if !ok {
			return nil, fmt.Errorf("%w: %s from version %d", ErrNoMigration, rec.Key, v)
		}
		next, err := step(value)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate %s from version %d: %w", rec.Key, v, err)
		}
		value = next
	}

	migrated := &Record{Key: rec.Key, Version: current, Value: value, UpdatedAt: rec.UpdatedAt}
	if err := s.backend.Save(ctx, migrated); err != nil {
		// The upgraded value is still usable; the next read migrates again.
		s.logger.Warn("Failed to persist migrated value", "key", rec.Key.String(), "error", err)
	} else {
		s.logger.Debug("Migrated stored value", "key", rec.Key.String(), "from", rec.Version, "to", current)
	}
	return value, nil
}
