package store

import (
	"context"
	"sort"
	"sync"

	"github.com/healthapp/healthapp/internal/types"
)

type historyEntry struct {
	alertID string
	at      int64
	seq     int
}

// MemoryStore is a process-local Backend. State does not survive restart.
type MemoryStore struct {
	mu         sync.RWMutex
	heartbeats map[string]int64
	firing     map[string]string
	alerts     map[string]map[string]string
	history    map[string]historyEntry
	seq        int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		heartbeats: make(map[string]int64),
		firing:     make(map[string]string),
		alerts:     make(map[string]map[string]string),
		history:    make(map[string]historyEntry),
	}
}

func (m *MemoryStore) Record(_ context.Context, entityID string, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[entityID] = timestamp
	return nil
}

func (m *MemoryStore) ListStale(_ context.Context, before int64) ([]types.HeartbeatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.HeartbeatRecord, 0)
	for id, ts := range m.heartbeats {
		if ts <= before {
			out = append(out, types.HeartbeatRecord{EntityID: id, LastSeen: ts})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen != out[j].LastSeen {
			return out[i].LastSeen > out[j].LastSeen
		}
		return out[i].EntityID > out[j].EntityID
	})
	return out, nil
}

func (m *MemoryStore) LastSeen(_ context.Context, entityID string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.heartbeats[entityID]
	return ts, ok, nil
}

func (m *MemoryStore) List(_ context.Context) ([]types.HeartbeatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.HeartbeatRecord, 0, len(m.heartbeats))
	for id, ts := range m.heartbeats {
		out = append(out, types.HeartbeatRecord{EntityID: id, LastSeen: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (m *MemoryStore) GetFiring(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.firing))
	for k, v := range m.firing {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SetFiring(_ context.Context, stateName, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firing[stateName] = alertID
	return nil
}

func (m *MemoryStore) ClearFiring(_ context.Context, stateName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.firing, stateName)
	return nil
}

func (m *MemoryStore) PutAlert(_ context.Context, alertID string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.alerts[alertID]
	if !ok {
		rec = make(map[string]string, len(fields))
		m.alerts[alertID] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (m *MemoryStore) GetAlert(_ context.Context, alertID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.alerts[alertID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) GetAlertField(_ context.Context, alertID, field string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.alerts[alertID][field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) SetAlertField(_ context.Context, alertID, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.alerts[alertID]
	if !ok {
		rec = make(map[string]string)
		m.alerts[alertID] = rec
	}
	rec[field] = value
	return nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, alertID string, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.history[alertID]; ok {
		e.at = timestamp
		m.history[alertID] = e
		return nil
	}
	m.seq++
	m.history[alertID] = historyEntry{alertID: alertID, at: timestamp, seq: m.seq}
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	entries := make([]historyEntry, 0, len(m.history))
	for _, e := range m.history {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].at != entries[j].at {
			return entries[i].at > entries[j].at
		}
		return entries[i].seq > entries[j].seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.alertID
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
