package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/spatial/geometry"
)

var _ Backend = (*Memory)(nil)

// Memory is a volatile Backend for tests and throwaway servers.
type Memory struct {
	mu      sync.RWMutex
	objects map[uuid.UUID]Record
	regions map[uuid.UUID]RegionRecord
	order   []uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[uuid.UUID]Record),
		regions: make(map[uuid.UUID]RegionRecord),
	}
}

func (m *Memory) Region(id uuid.UUID) Persistence {
	return &memoryRegion{m: m, region: id}
}

func (m *Memory) LookupRegion(_ context.Context, key string) (RegionRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		if r.Key == key {
			return r, true, nil
		}
	}
	return RegionRecord{}, false, nil
}

func (m *Memory) SaveRegion(_ context.Context, r RegionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.regions[r.ID] = r
	return nil
}

func (m *Memory) ListRegions(context.Context) ([]RegionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RegionRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.regions[id])
	}
	return out, nil
}

func (m *Memory) CountObjects(_ context.Context, region uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.objects {
		if rec.RegionID == region {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

type memoryRegion struct {
	m      *Memory
	region uuid.UUID
}

func (r *memoryRegion) Write(_ context.Context, rec Record) error {
	rec.RegionID = r.region
	rec.Payload = slices.Clone(rec.Payload)

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.objects[rec.ID] = rec
	return nil
}

func (r *memoryRegion) ReadRange(_ context.Context, min, max geometry.Vec3) ([]Record, error) {
	box := geometry.Box{Min: min, Max: max}
	return r.collect(func(rec Record) bool { return box.ContainsPoint(rec.Position) }), nil
}

func (r *memoryRegion) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if rec, ok := r.m.objects[id]; ok && rec.RegionID == r.region {
		delete(r.m.objects, id)
	}
	return nil
}

func (r *memoryRegion) LoadAll(context.Context) ([]Record, error) {
	return r.collect(func(Record) bool { return true }), nil
}

func (r *memoryRegion) collect(keep func(Record) bool) []Record {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []Record
	for _, rec := range r.m.objects {
		if rec.RegionID == r.region && keep(rec) {
			rec.Payload = slices.Clone(rec.Payload)
			out = append(out, rec)
		}
	}
	return out
}
