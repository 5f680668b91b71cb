package vault

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/storage"
	"github.com/zeusync/vault/pkg/concurrent"
)

// Manager routes every operation to the owning region. Its map lock is held
// only to look regions up or register new ones, never across a region
// operation or a storage call. An entity id lives in at most one region.
type Manager struct {
	mu      sync.RWMutex
	regions map[RegionID]*Region
	byKey   map[string]RegionID

	// opening deduplicates region lookups and loads per key.
	opening singleflight.Group
	owners  *ownership

	backend storage.Backend
	cfg     Config
	logger  log.Log
	metrics *metrics.Metrics
}

func NewManager(backend storage.Backend, cfg Config, logger log.Log, m *metrics.Metrics) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}
	if cfg.PersistWorkers <= 0 {
		cfg.PersistWorkers = 1
	}
	return &Manager{
		regions: make(map[RegionID]*Region),
		byKey:   make(map[string]RegionID),
		owners:  newOwnership(),
		backend: backend,
		cfg:     cfg,
		logger:  logger.With(log.String("component", "vault")),
		metrics: m,
	}
}

// CreateOrLoadRegion returns the region whose key matches center and radius,
// loading it from storage or creating it when needed.
func (m *Manager) CreateOrLoadRegion(ctx context.Context, center geometry.Vec3, radius float64) (RegionID, error) {
	if err := validVolume(center, radius); err != nil {
		return RegionID{}, err
	}
	return m.CreateOrLoadRegionKey(ctx, RegionKey(center, radius, m.cfg.KeyPrecision), center, radius)
}

// CreateOrLoadRegionKey is CreateOrLoadRegion with a caller-chosen key. Two
// regions may share a volume when their keys differ. Concurrent calls for the
// same key share one lookup and load.
func (m *Manager) CreateOrLoadRegionKey(ctx context.Context, key string, center geometry.Vec3, radius float64) (RegionID, error) {
	if err := validVolume(center, radius); err != nil {
		return RegionID{}, err
	}
	if key == "" {
		return RegionID{}, fmt.Errorf("%w: empty key", ErrInvalidRegion)
	}

	if id, ok := m.lookupKey(key); ok {
		return id, nil
	}

	v, err, _ := m.opening.Do(key, func() (any, error) {
		if id, ok := m.lookupKey(key); ok {
			return id, nil
		}

		desc, found, err := m.backend.LookupRegion(ctx, key)
		if err != nil {
			return RegionID{}, fmt.Errorf("lookup region %s: %w", key, err)
		}
		if found {
			r, err := m.loadRegion(ctx, desc)
			if err != nil {
				return RegionID{}, err
			}
			return r.ID(), nil
		}

		desc = storage.RegionRecord{ID: uuid.New(), Key: key, Center: center, Radius: radius}
		if err = m.backend.SaveRegion(ctx, desc); err != nil {
			return RegionID{}, fmt.Errorf("save region %s: %w", key, err)
		}
		r := m.register(m.newRegion(desc))
		m.logger.Info("region created",
			log.String("region", r.ID().String()),
			log.String("key", key),
			log.Float64("radius", radius),
		)
		return r.ID(), nil
	})
	if err != nil {
		return RegionID{}, err
	}
	return v.(RegionID), nil
}

// LoadAll restores every persisted region that is not loaded yet and returns
// how many were loaded.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	descs, err := m.backend.ListRegions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list regions: %w", err)
	}

	loaded := 0
	for _, desc := range descs {
		_, err, _ := m.opening.Do(desc.Key, func() (any, error) {
			if _, ok := m.lookupKey(desc.Key); ok {
				return nil, nil
			}
			if _, err := m.loadRegion(ctx, desc); err != nil {
				return nil, err
			}
			loaded++
			return nil, nil
		})
		if err != nil {
			return loaded, err
		}
	}
	return loaded, nil
}

func (m *Manager) lookupKey(key string) (RegionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	return id, ok
}

func (m *Manager) newRegion(desc storage.RegionRecord) *Region {
	return newRegion(desc, m.backend.Region(desc.ID), m.owners, m.cfg, m.logger, m.metrics)
}

// loadRegion reads a persisted region and registers it. Storage is read
// without holding the map lock.
func (m *Manager) loadRegion(ctx context.Context, desc storage.RegionRecord) (*Region, error) {
	started := time.Now()
	r := m.newRegion(desc)
	recs, err := r.persist.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load region %s: %w", desc.ID, err)
	}
	recs = m.owners.claimLoaded(r.ID(), recs, r.logger)
	r.load(recs)

	r = m.register(r)
	m.logger.Info("region loaded",
		log.String("region", r.ID().String()),
		log.String("key", desc.Key),
		log.Int("objects", len(recs)),
		log.Duration("took", time.Since(started)),
	)
	return r, nil
}

// register adds r to the map and returns the region now registered under its
// id, which is r unless another caller got there first.
func (m *Manager) register(r *Region) *Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.regions[r.ID()]; ok {
		return existing
	}
	m.regions[r.ID()] = r
	m.byKey[r.Key()] = r.ID()
	m.metrics.SetRegions(len(m.regions))
	return r
}

// Locate returns the region holding entity id.
func (m *Manager) Locate(id uuid.UUID) (RegionID, bool) {
	return m.owners.owner(id)
}

// Region returns the loaded region with the given id.
func (m *Manager) Region(id RegionID) (*Region, error) {
	m.mu.RLock()
	r, ok := m.regions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, id)
	}
	return r, nil
}

// Regions describes every loaded region ordered by key.
func (m *Manager) Regions() []Info {
	m.mu.RLock()
	regions := slices.Collect(maps.Values(m.regions))
	m.mu.RUnlock()

	out := make([]Info, 0, len(regions))
	for _, r := range regions {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (m *Manager) QueryRegion(_ context.Context, id RegionID, box geometry.Box) ([]Entity, error) {
	r, err := m.Region(id)
	if err != nil {
		return nil, err
	}
	return r.Query(box)
}

func (m *Manager) AddObject(ctx context.Context, region RegionID, id uuid.UUID, kind string, pos geometry.Vec3, payload Payload) (Entity, error) {
	r, err := m.Region(region)
	if err != nil {
		return Entity{}, err
	}
	return r.AddObject(ctx, id, kind, pos, payload)
}

func (m *Manager) UpdateObject(ctx context.Context, region RegionID, e Entity) error {
	r, err := m.Region(region)
	if err != nil {
		return err
	}
	return r.UpdateObject(ctx, e)
}

func (m *Manager) RemoveObject(ctx context.Context, region RegionID, id uuid.UUID) (Entity, error) {
	r, err := m.Region(region)
	if err != nil {
		return Entity{}, err
	}
	return r.RemoveObject(ctx, id)
}

func (m *Manager) GetObject(region RegionID, id uuid.UUID) (Entity, error) {
	r, err := m.Region(region)
	if err != nil {
		return Entity{}, err
	}
	e, ok := r.GetObject(id)
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// PersistAll flushes every region concurrently and joins the failures.
func (m *Manager) PersistAll(ctx context.Context) error {
	m.mu.RLock()
	regions := slices.Collect(maps.Values(m.regions))
	m.mu.RUnlock()

	defer m.metrics.ObservePersist("persist_all", time.Now())
	return concurrent.ForEach(ctx, slices.Values(regions), m.cfg.PersistWorkers, func(ctx context.Context, r *Region) error {
		if err := r.Persist(ctx); err != nil {
			return fmt.Errorf("region %s: %w", r.ID(), err)
		}
		return nil
	})
}

// Close releases the storage backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func validVolume(center geometry.Vec3, radius float64) error {
	if !geometry.Finite(center) || math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
		return fmt.Errorf("%w: center %v radius %v", ErrInvalidRegion, center, radius)
	}
	return nil
}
