package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/storage/blob"
)

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	s, err := Open(opts, log.NewNop(), metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func byID(recs []Record) []Record {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID.String() < recs[j].ID.String() })
	return recs
}

// exercisePersistence runs the behaviour every Backend must share.
func exercisePersistence(t *testing.T, b Backend) {
	ctx := context.Background()
	regionA, regionB := uuid.New(), uuid.New()
	pa, pb := b.Region(regionA), b.Region(regionB)

	near := Record{ID: uuid.New(), Kind: "player", Position: geometry.V(1, 2, 3), Payload: []byte(`{"hp":10}`)}
	far := Record{ID: uuid.New(), Kind: "npc", Position: geometry.V(400, 0, 0), Payload: []byte(`{"name":"merchant","stock":[1,2,3,4,5,6,7,8,9,10]}`)}
	require.NoError(t, pa.Write(ctx, near))
	require.NoError(t, pa.Write(ctx, far))

	t.Run("Load All", func(t *testing.T) {
		got, err := pa.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, rec := range got {
			require.Equal(t, regionA, rec.RegionID)
			switch rec.ID {
			case near.ID:
				require.Equal(t, near.Payload, rec.Payload)
				require.Equal(t, near.Position, rec.Position)
			case far.ID:
				require.Equal(t, far.Payload, rec.Payload)
				require.Equal(t, "npc", rec.Kind)
			default:
				t.Fatalf("unexpected record %s", rec.ID)
			}
		}
	})

	t.Run("Read Range", func(t *testing.T) {
		got, err := pa.ReadRange(ctx, geometry.V(0, 0, 0), geometry.V(10, 10, 10))
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, near.ID, got[0].ID)

		got, err = pb.ReadRange(ctx, geometry.V(-1000, -1000, -1000), geometry.V(1000, 1000, 1000))
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("Move Between Regions", func(t *testing.T) {
		moved := far
		moved.Position = geometry.V(0, 0, 0)
		require.NoError(t, pb.Write(ctx, moved))
		// The source's delete must not touch the row now owned by B.
		require.NoError(t, pa.Delete(ctx, far.ID))

		got, err := pb.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, far.Payload, got[0].Payload)

		n, err := b.CountObjects(ctx, regionA)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("Delete Absent", func(t *testing.T) {
		require.NoError(t, pa.Delete(ctx, uuid.New()))
	})

	t.Run("Regions", func(t *testing.T) {
		ra := RegionRecord{ID: regionA, Key: "a", Center: geometry.V(0, 0, 0), Radius: 100}
		rb := RegionRecord{ID: regionB, Key: "b", Center: geometry.V(500, 0, 0), Radius: 50}
		require.NoError(t, b.SaveRegion(ctx, ra))
		require.NoError(t, b.SaveRegion(ctx, rb))

		got, ok, err := b.LookupRegion(ctx, "b")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, rb, got)

		_, ok, err = b.LookupRegion(ctx, "zzz")
		require.NoError(t, err)
		require.False(t, ok)

		all, err := b.ListRegions(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []RegionRecord{ra, rb}, all)
	})
}

func TestStore(t *testing.T) {
	t.Run("File Blobs", func(t *testing.T) {
		exercisePersistence(t, openStore(t, Options{BlobBackend: BlobFile, ShardChars: 2}))
	})
	t.Run("File Blobs With Inline Payloads", func(t *testing.T) {
		exercisePersistence(t, openStore(t, Options{BlobBackend: BlobFile, InlineLimit: 16}))
	})
	t.Run("Badger Blobs", func(t *testing.T) {
		exercisePersistence(t, openStore(t, Options{BlobBackend: BlobBadger}))
	})
	t.Run("Memory", func(t *testing.T) {
		exercisePersistence(t, NewMemory())
	})
	t.Run("Unknown Backend", func(t *testing.T) {
		_, err := Open(Options{Dir: t.TempDir(), BlobBackend: "tape"}, log.NewNop(), nil)
		require.ErrorIs(t, err, ErrUnknownBackend)
	})
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	region := uuid.New()
	recs := []Record{
		{ID: uuid.New(), Kind: "a", Position: geometry.V(1, 1, 1), Payload: []byte(`1`)},
		{ID: uuid.New(), Kind: "b", Position: geometry.V(2, 2, 2), Payload: []byte(`{"large":"payload"}`)},
	}

	s, err := Open(Options{Dir: dir, InlineLimit: 4}, log.NewNop(), nil)
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, s.Region(region).Write(ctx, rec))
	}
	require.NoError(t, s.Close())

	s = openStore(t, Options{Dir: dir, InlineLimit: 4})
	got, err := s.Region(region).LoadAll(ctx)
	require.NoError(t, err)
	got = byID(got)

	want := byID(recs)
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].ID, got[i].ID)
		require.Equal(t, want[i].Payload, got[i].Payload)
		require.Equal(t, want[i].Position, got[i].Position)
	}
}

// payloadPath is where the file blob store keeps one payload version.
func payloadPath(dir string, id uuid.UUID, payload []byte) string {
	return filepath.Join(dir, payloadDir, id.String()[:2], id.String()+"."+Checksum(payload))
}

func TestStore_PayloadLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, Options{Dir: dir, ShardChars: 2, InlineLimit: 8})
	p := s.Region(uuid.New())
	id := uuid.New()
	big, bigger := []byte(`{"big":"enough"}`), []byte(`{"big":"again!!"}`)

	t.Run("Large Payload Goes To Shard", func(t *testing.T) {
		require.NoError(t, p.Write(ctx, Record{ID: id, Payload: big}))
		data, err := os.ReadFile(payloadPath(dir, id, big))
		require.NoError(t, err)
		require.JSONEq(t, `{"big":"enough"}`, string(data))
	})

	t.Run("New Version Replaces Old File", func(t *testing.T) {
		require.NoError(t, p.Write(ctx, Record{ID: id, Payload: bigger}))
		_, err := os.Stat(payloadPath(dir, id, big))
		require.ErrorIs(t, err, os.ErrNotExist)
		_, err = os.Stat(payloadPath(dir, id, bigger))
		require.NoError(t, err)
	})

	t.Run("Shrinking To Inline Drops Blob", func(t *testing.T) {
		require.NoError(t, p.Write(ctx, Record{ID: id, Payload: []byte(`{}`)}))
		_, err := os.Stat(payloadPath(dir, id, bigger))
		require.ErrorIs(t, err, os.ErrNotExist)

		got, err := p.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, []byte(`{}`), got[0].Payload)
	})

	t.Run("Delete Removes Blob", func(t *testing.T) {
		require.NoError(t, p.Write(ctx, Record{ID: id, Payload: big}))
		require.NoError(t, p.Delete(ctx, id))
		_, err := os.Stat(payloadPath(dir, id, big))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestStore_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, Options{Dir: dir})
	p := s.Region(uuid.New())
	bad, good := uuid.New(), uuid.New()

	require.NoError(t, p.Write(ctx, Record{ID: bad, Payload: []byte(`{"v":1}`)}))
	require.NoError(t, p.Write(ctx, Record{ID: good, Payload: []byte(`{"v":3}`)}))
	require.NoError(t, os.WriteFile(payloadPath(dir, bad, []byte(`{"v":1}`)), []byte(`{"v":2}`), 0o600))

	t.Run("Read Range Fails", func(t *testing.T) {
		_, err := p.ReadRange(ctx, geometry.V(-1, -1, -1), geometry.V(1, 1, 1))
		require.ErrorIs(t, err, ErrChecksumMismatch)

		var perr *PersistenceError
		require.ErrorAs(t, err, &perr)
		require.Equal(t, bad, perr.ID)
		require.Equal(t, "read", perr.Op)
	})

	t.Run("Load All Skips The Bad Row", func(t *testing.T) {
		got, err := p.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, good, got[0].ID)
	})
}

var errBlobWrite = errors.New("disk full")

// faultyBlobs wraps the store's blob backend to fail or interrupt writes.
type faultyBlobs struct {
	blob.Store
	failPut  bool
	afterPut func()
}

func (b *faultyBlobs) Put(ctx context.Context, id uuid.UUID, version string, data []byte) (string, error) {
	if b.failPut {
		return "", errBlobWrite
	}
	ref, err := b.Store.Put(ctx, id, version, data)
	if err == nil && b.afterPut != nil {
		b.afterPut()
	}
	return ref, err
}

func TestStore_WriteFailures(t *testing.T) {
	v1, v2 := []byte(`{"v":1,"pad":"keep this out of the record"}`), []byte(`{"v":2,"pad":"keep this out of the record"}`)

	setup := func(t *testing.T) (string, *Store, *faultyBlobs, Persistence, uuid.UUID) {
		dir := t.TempDir()
		s := openStore(t, Options{Dir: dir, InlineLimit: 8})
		faulty := &faultyBlobs{Store: s.blobs}
		s.blobs = faulty
		p := s.Region(uuid.New())
		id := uuid.New()
		require.NoError(t, p.Write(context.Background(), Record{ID: id, Kind: "player", Position: geometry.V(1, 1, 1), Payload: v1}))
		return dir, s, faulty, p, id
	}

	t.Run("Payload Write Leaves Record Untouched", func(t *testing.T) {
		_, _, faulty, p, id := setup(t)
		faulty.failPut = true

		err := p.Write(context.Background(), Record{ID: id, Kind: "player", Position: geometry.V(9, 9, 9), Payload: v2})
		require.ErrorIs(t, err, errBlobWrite)
		var perr *PersistenceError
		require.ErrorAs(t, err, &perr)
		require.Equal(t, "write", perr.Op)

		got, err := p.LoadAll(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, v1, got[0].Payload)
		require.Equal(t, geometry.V(1, 1, 1), got[0].Position)
	})

	t.Run("Record Write Leaves Only An Orphan", func(t *testing.T) {
		dir, _, faulty, p, id := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		faulty.afterPut = cancel

		err := p.Write(ctx, Record{ID: id, Kind: "player", Position: geometry.V(9, 9, 9), Payload: v2})
		require.ErrorIs(t, err, context.Canceled)

		got, err := p.LoadAll(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, v1, got[0].Payload, "live payload must survive")
		require.Equal(t, geometry.V(1, 1, 1), got[0].Position)

		_, err = os.Stat(payloadPath(dir, id, v2))
		require.NoError(t, err, "new version is left as an orphan")
	})
}
