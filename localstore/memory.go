// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps records in process memory. Used by tests and by the CLI
// when no database path is configured.
type MemoryBackend struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{recs: make(map[string]Record)}
}

func (m *MemoryBackend) Load(_ context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	cp := rec
	cp.Value = append([]byte(nil), rec.Value...)
	return &cp, nil
}

func (m *MemoryBackend) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.Value = append([]byte(nil), rec.Value...)
	m.recs[rec.Key.String()] = cp
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, key.String())
	return nil
}

func (m *MemoryBackend) Scan(_ context.Context, namespace, entityType string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.recs {
		if rec.Key.Namespace == namespace && rec.Key.EntityType == entityType {
			cp := rec
			cp.Value = append([]byte(nil), rec.Value...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.ID < out[j].Key.ID })
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }
