package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/storage/blob"
	"github.com/zeusync/vault/internal/core/storage/sqlite"
)

// InlineRef marks records whose payload lives in the record itself.
const InlineRef = "inline"

// Blob backends.
const (
	BlobFile   = "file"
	BlobBadger = "badger"
)

const (
	indexFile  = "vault.db"
	payloadDir = "payloads"
	badgerDir  = "badger"

	lockStripes = 64
)

type Options struct {
	// Dir holds the record index and the payload store.
	Dir string
	// BlobBackend is BlobFile or BlobBadger.
	BlobBackend string
	// InlineLimit is the largest payload kept inside the record. Zero sends
	// every payload to the blob store.
	InlineLimit int
	// ShardChars is the shard directory width of the file blob store.
	ShardChars int
	// SyncWrites fsyncs every badger commit.
	SyncWrites bool
}

var _ Backend = (*Store)(nil)

// Store is the on-disk Backend: a SQLite record index plus a blob store for
// payloads.
type Store struct {
	index   *sqlite.RecordIndex
	blobs   blob.Store
	opts    Options
	logger  log.Log
	metrics *metrics.Metrics

	// stripes serialize the record and blob steps of writes and deletes
	// touching the same id.
	stripes [lockStripes]sync.Mutex
}

func Open(opts Options, logger log.Log, m *metrics.Metrics) (*Store, error) {
	logger = logger.With(log.String("component", "storage"))

	index, err := sqlite.Open(filepath.Join(opts.Dir, indexFile), logger)
	if err != nil {
		return nil, err
	}

	var blobs blob.Store
	switch opts.BlobBackend {
	case BlobFile, "":
		blobs, err = blob.NewFileStore(filepath.Join(opts.Dir, payloadDir), opts.ShardChars)
	case BlobBadger:
		cfg := blob.DefaultBadgerConfig(filepath.Join(opts.Dir, badgerDir))
		cfg.SyncWrites = opts.SyncWrites
		blobs, err = blob.OpenBadger(cfg, logger)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownBackend, opts.BlobBackend)
	}
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	logger.Info("storage opened",
		log.String("dir", opts.Dir),
		log.String("blob_backend", opts.BlobBackend),
		log.Int("inline_limit", opts.InlineLimit),
	)
	return &Store{index: index, blobs: blobs, opts: opts, logger: logger, metrics: m}, nil
}

func (s *Store) Close() error {
	return errors.Join(s.blobs.Close(), s.index.Close())
}

// Region returns the Persistence bound to one region id.
func (s *Store) Region(id uuid.UUID) Persistence {
	return &regionStore{store: s, region: id}
}

func (s *Store) LookupRegion(ctx context.Context, key string) (RegionRecord, bool, error) {
	row, ok, err := s.index.RegionByKey(ctx, key)
	if err != nil || !ok {
		return RegionRecord{}, ok, err
	}
	r, err := regionFromRow(row)
	return r, err == nil, err
}

func (s *Store) SaveRegion(ctx context.Context, r RegionRecord) error {
	return s.index.UpsertRegion(ctx, sqlite.RegionRow{
		ID:     r.ID.String(),
		Key:    r.Key,
		CX:     r.Center.X,
		CY:     r.Center.Y,
		CZ:     r.Center.Z,
		Radius: r.Radius,
	})
}

func (s *Store) ListRegions(ctx context.Context) ([]RegionRecord, error) {
	rows, err := s.index.Regions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RegionRecord, 0, len(rows))
	for _, row := range rows {
		r, err := regionFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) CountObjects(ctx context.Context, region uuid.UUID) (int, error) {
	return s.index.CountObjects(ctx, region.String())
}

func (s *Store) stripe(id uuid.UUID) *sync.Mutex {
	return &s.stripes[xxhash.Sum64(id[:])%lockStripes]
}

func regionFromRow(row sqlite.RegionRow) (RegionRecord, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return RegionRecord{}, fmt.Errorf("region row %q: %w", row.ID, err)
	}
	return RegionRecord{
		ID:     id,
		Key:    row.Key,
		Center: geometry.V(row.CX, row.CY, row.CZ),
		Radius: row.Radius,
	}, nil
}

// regionStore implements Persistence for one region of a Store.
type regionStore struct {
	store  *Store
	region uuid.UUID
}

// Write stores the payload under a reference of its own before the record
// points at it, so a failed record write leaves the previous version readable
// and at worst an orphaned blob behind.
func (r *regionStore) Write(ctx context.Context, rec Record) (err error) {
	s := r.store
	defer s.metrics.ObservePersist("write", time.Now())

	mu := s.stripe(rec.ID)
	mu.Lock()
	defer mu.Unlock()

	row := sqlite.ObjectRow{
		ID:         rec.ID.String(),
		RegionID:   r.region.String(),
		Kind:       rec.Kind,
		X:          rec.Position.X,
		Y:          rec.Position.Y,
		Z:          rec.Position.Z,
		PayloadSum: Checksum(rec.Payload),
	}

	old, exists, err := s.index.GetObject(ctx, row.ID)
	if err != nil {
		return persistErr("write", rec.ID, err)
	}

	inline := s.opts.InlineLimit > 0 && len(rec.Payload) <= s.opts.InlineLimit
	if inline {
		row.PayloadRef = InlineRef
		row.Inline = append([]byte{}, rec.Payload...)
	} else {
		ref, err := s.blobs.Put(ctx, rec.ID, row.PayloadSum, rec.Payload)
		if err != nil {
			return persistErr("write", rec.ID, err)
		}
		row.PayloadRef = ref
	}

	if err = s.index.UpsertObject(ctx, row); err != nil {
		if !inline && (!exists || old.PayloadRef != row.PayloadRef) {
			s.logger.Warn("payload orphaned after record write failure",
				log.String("id", row.ID),
				log.String("payload_ref", row.PayloadRef),
				log.Error(err),
			)
		}
		return persistErr("write", rec.ID, err)
	}

	if exists && old.PayloadRef != InlineRef && old.PayloadRef != row.PayloadRef {
		if err := s.blobs.Delete(ctx, old.PayloadRef); err != nil {
			s.logger.Warn("failed to remove superseded payload",
				log.String("id", row.ID), log.String("payload_ref", old.PayloadRef), log.Error(err))
		}
	}
	return nil
}

func (r *regionStore) ReadRange(ctx context.Context, min, max geometry.Vec3) ([]Record, error) {
	s := r.store
	defer s.metrics.ObservePersist("read_range", time.Now())

	rows, err := s.index.ObjectsInRange(ctx, r.region.String(), geometry.ToArray(min), geometry.ToArray(max))
	if err != nil {
		return nil, persistErr("read_range", uuid.Nil, err)
	}
	return r.records(ctx, rows, false)
}

func (r *regionStore) LoadAll(ctx context.Context) ([]Record, error) {
	s := r.store
	defer s.metrics.ObservePersist("load", time.Now())

	rows, err := s.index.ObjectsByRegion(ctx, r.region.String())
	if err != nil {
		return nil, persistErr("load", uuid.Nil, err)
	}
	return r.records(ctx, rows, true)
}

func (r *regionStore) Delete(ctx context.Context, id uuid.UUID) error {
	s := r.store
	defer s.metrics.ObservePersist("delete", time.Now())

	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	ref, ok, err := s.index.DeleteObject(ctx, r.region.String(), id.String())
	if err != nil {
		return persistErr("delete", id, err)
	}
	if !ok || ref == InlineRef {
		return nil
	}
	if err = s.blobs.Delete(ctx, ref); err != nil {
		s.logger.Warn("failed to remove payload of deleted object",
			log.String("id", id.String()), log.String("payload_ref", ref), log.Error(err))
	}
	return nil
}

// records resolves payloads for rows. A row whose payload is missing or fails
// its checksum is skipped and logged when skipBad is set; otherwise it fails
// the whole read.
func (r *regionStore) records(ctx context.Context, rows []sqlite.ObjectRow, skipBad bool) ([]Record, error) {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, persistErr("read", uuid.Nil, fmt.Errorf("object row %q: %w", row.ID, err))
		}

		payload, err := r.payload(ctx, row)
		if err != nil {
			if skipBad && (errors.Is(err, ErrChecksumMismatch) || errors.Is(err, blob.ErrNotFound)) {
				r.store.logger.Error("skipping unreadable object",
					log.String("region", r.region.String()),
					log.String("id", row.ID),
					log.String("payload_ref", row.PayloadRef),
					log.Error(err),
				)
				continue
			}
			return nil, persistErr("read", id, err)
		}

		out = append(out, Record{
			ID:       id,
			RegionID: r.region,
			Kind:     row.Kind,
			Position: geometry.V(row.X, row.Y, row.Z),
			Payload:  payload,
		})
	}
	return out, nil
}

func (r *regionStore) payload(ctx context.Context, row sqlite.ObjectRow) ([]byte, error) {
	payload := row.Inline
	if row.PayloadRef != InlineRef {
		var err error
		if payload, err = r.store.blobs.Get(ctx, row.PayloadRef); err != nil {
			return nil, err
		}
	}
	if err := verify(payload, row.PayloadSum); err != nil {
		return nil, err
	}
	return payload, nil
}
