package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/spatial/rtree"
	"github.com/zeusync/vault/internal/core/storage"
)

// Mode selects when mutations reach the persistence layer.
type Mode string

const (
	// ModeSync writes through: a mutation succeeds only after it is durable.
	ModeSync Mode = "sync"
	// ModeSnapshot keeps mutations in memory until the next Persist.
	ModeSnapshot Mode = "snapshot"
)

// Region is one spatial partition: an ObjectStore and its R-tree guarded by a
// single lock, backed by the region's Persistence. Positions outside the
// region volume are accepted; the volume is a placement hint only.
type Region struct {
	id     RegionID
	key    string
	center geometry.Vec3
	radius float64
	mode   Mode

	mu      sync.RWMutex
	objects *ObjectStore
	index   *rtree.Index[uuid.UUID]
	// deletes not yet applied to persistence (snapshot mode)
	pending map[uuid.UUID]struct{}

	flushMu sync.Mutex
	persist storage.Persistence

	owners *ownership

	logger  log.Log
	metrics *metrics.Metrics
}

func newRegion(desc storage.RegionRecord, p storage.Persistence, owners *ownership, cfg Config, logger log.Log, m *metrics.Metrics) *Region {
	id := RegionID(desc.ID)
	return &Region{
		id:      id,
		key:     desc.Key,
		center:  desc.Center,
		radius:  desc.Radius,
		mode:    cfg.Mode,
		objects: NewObjectStore(),
		index:   rtree.New[uuid.UUID](cfg.MaxEntries),
		pending: make(map[uuid.UUID]struct{}),
		persist: p,
		owners:  owners,
		logger:  logger.With(log.String("region", id.String())),
		metrics: m,
	}
}

func (r *Region) ID() RegionID          { return r.id }
func (r *Region) Key() string           { return r.key }
func (r *Region) Center() geometry.Vec3 { return r.center }
func (r *Region) Radius() float64       { return r.radius }

// Contains reports whether p lies inside the region's nominal sphere.
func (r *Region) Contains(p geometry.Vec3) bool {
	return geometry.Sphere{Center: r.center, Radius: r.radius}.Contains(p)
}

func (r *Region) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects.Len()
}

// load replaces the region contents with persisted records.
func (r *Region) load(recs []storage.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.objects = NewObjectStore()
	entries := make([]rtree.Entry[uuid.UUID], 0, len(recs))
	for _, rec := range recs {
		e := entityFromRecord(rec)
		e.Region = r.id
		if err := r.objects.Insert(e); err != nil {
			r.logger.Warn("skipping duplicate persisted record", log.String("id", e.ID.String()))
			continue
		}
		entries = append(entries, rtree.Entry[uuid.UUID]{ID: e.ID, Box: geometry.PointBox(e.Position)})
	}
	r.index.BulkLoad(entries)
	r.metrics.SetObjects(r.id.String(), r.objects.Len())
}

func (r *Region) AddObject(ctx context.Context, id uuid.UUID, kind string, pos geometry.Vec3, payload Payload) (Entity, error) {
	e := Entity{ID: id, Kind: kind, Position: pos, Payload: payload, Region: r.id}

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.admitLocked(ctx, e)
	r.metrics.ObserveOperation("add", err)
	if err != nil {
		return Entity{}, err
	}
	return e.Clone(), nil
}

// admitLocked is insertLocked for ids entering the vault. The id must not be
// held by any other region.
func (r *Region) admitLocked(ctx context.Context, e Entity) error {
	if !geometry.Finite(e.Position) {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, e.Position)
	}
	if r.objects.Has(e.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	claimed, err := r.owners.claim(e.ID, r.id)
	if err != nil {
		return err
	}
	if err = r.insertLocked(ctx, e); err != nil && claimed {
		r.owners.release(e.ID, r.id)
	}
	return err
}

// UpdateObject replaces the stored entity with e, keyed by e.ID.
func (r *Region) UpdateObject(ctx context.Context, e Entity) error {
	if !geometry.Finite(e.Position) {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, e.Position)
	}
	e.Region = r.id

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.objects.Get(e.ID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotFound, e.ID)
		r.metrics.ObserveOperation("update", err)
		return err
	}
	if r.mode == ModeSync {
		if err := r.persist.Write(ctx, e.record()); err != nil {
			r.metrics.ObserveOperation("update", err)
			return err
		}
	}
	if _, err := r.objects.Update(e); err != nil {
		return err
	}
	if old.Position != e.Position {
		r.index.Insert(e.ID, geometry.PointBox(e.Position))
	}
	r.metrics.ObserveOperation("update", nil)
	return nil
}

func (r *Region) RemoveObject(ctx context.Context, id uuid.UUID) (Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.removeLocked(ctx, id)
	r.metrics.ObserveOperation("remove", err)
	if err == nil {
		r.owners.release(id, r.id)
	}
	return e, err
}

func (r *Region) GetObject(id uuid.UUID) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects.Get(id)
}

// Query returns every entity positioned inside the inclusive box.
func (r *Region) Query(box geometry.Box) ([]Entity, error) {
	if err := box.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBox, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entity
	r.index.Search(box, func(id uuid.UUID, _ geometry.Box) bool {
		e, ok := r.objects.Get(id)
		if !ok {
			r.logger.Error("index entry without object", log.String("id", id.String()))
			return true
		}
		if box.ContainsPoint(e.Position) {
			out = append(out, e)
		}
		return true
	})
	return out, nil
}

// Snapshot returns every entity ordered by id.
func (r *Region) Snapshot() []Entity {
	r.mu.RLock()
	all := r.objects.All()
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.String() < all[j].ID.String()
	})
	return all
}

// Persist writes every in-memory entity to the persistence layer and applies
// pending deletes. It is idempotent. Writers wait while a flush runs so the
// flushed state is a consistent cut.
func (r *Region) Persist(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for id := range r.pending {
		if err := r.persist.Delete(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(r.pending, id)
	}
	for _, e := range r.objects.entities {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.persist.Write(ctx, e.record()); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		r.logger.Warn("region persist incomplete", log.Error(err))
	}
	return err
}

// Info describes a region without its contents.
type Info struct {
	ID      RegionID
	Key     string
	Center  geometry.Vec3
	Radius  float64
	Objects int
}

func (r *Region) Info() Info {
	return Info{ID: r.id, Key: r.key, Center: r.center, Radius: r.radius, Objects: r.Len()}
}

// insertLocked adds e to persistence (sync mode) and then to memory. The
// caller holds r.mu.
func (r *Region) insertLocked(ctx context.Context, e Entity) error {
	if !geometry.Finite(e.Position) {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, e.Position)
	}
	if r.objects.Has(e.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	e.Region = r.id
	if r.mode == ModeSync {
		if err := r.persist.Write(ctx, e.record()); err != nil {
			return err
		}
	}
	if err := r.objects.Insert(e); err != nil {
		return err
	}
	r.index.Insert(e.ID, geometry.PointBox(e.Position))
	delete(r.pending, e.ID)
	r.metrics.SetObjects(r.id.String(), r.objects.Len())
	return nil
}

// removeLocked drops id from persistence (sync mode) and memory. The caller
// holds r.mu.
func (r *Region) removeLocked(ctx context.Context, id uuid.UUID) (Entity, error) {
	if !r.objects.Has(id) {
		return Entity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.mode == ModeSync {
		if err := r.persist.Delete(ctx, id); err != nil {
			return Entity{}, err
		}
	} else {
		r.pending[id] = struct{}{}
	}
	e, _ := r.objects.Remove(id)
	r.index.Remove(id)
	r.metrics.SetObjects(r.id.String(), r.objects.Len())
	return e, nil
}

// restoreLocked puts e back after a failed transfer. Memory is restored
// unconditionally; a persistence failure is logged.
func (r *Region) restoreLocked(ctx context.Context, e Entity) {
	e.Region = r.id
	if err := r.objects.Insert(e); err != nil {
		r.logger.Error("transfer rollback found id already present", log.String("id", e.ID.String()))
		return
	}
	r.index.Insert(e.ID, geometry.PointBox(e.Position))
	delete(r.pending, e.ID)
	r.metrics.SetObjects(r.id.String(), r.objects.Len())

	if r.mode == ModeSync {
		if err := r.persist.Write(ctx, e.record()); err != nil {
			r.logger.Error("transfer rollback not persisted", log.String("id", e.ID.String()), log.Error(err))
		}
	}
}
