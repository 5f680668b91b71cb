package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/vault/internal/core/observability/log"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	id := uuid.New()

	ref, err := s.Put(ctx, id, "v1", []byte(`{"name":"P1majors","value":0}`))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	data, err := s.Get(ctx, ref)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"P1majors","value":0}`, string(data))

	t.Run("New Version Leaves Old One Intact", func(t *testing.T) {
		ref2, err := s.Put(ctx, id, "v2", []byte(`{"value":1}`))
		require.NoError(t, err)
		require.NotEqual(t, ref, ref2)

		data, err := s.Get(ctx, ref)
		require.NoError(t, err)
		require.JSONEq(t, `{"name":"P1majors","value":0}`, string(data))
		data, err = s.Get(ctx, ref2)
		require.NoError(t, err)
		require.JSONEq(t, `{"value":1}`, string(data))

		require.NoError(t, s.Delete(ctx, ref2))
	})

	t.Run("Same Version Same Ref", func(t *testing.T) {
		again, err := s.Put(ctx, id, "v1", []byte(`{"name":"P1majors","value":0}`))
		require.NoError(t, err)
		require.Equal(t, ref, again)
	})

	t.Run("Rejects Path Versions", func(t *testing.T) {
		_, err := s.Put(ctx, id, "../x", []byte(`{}`))
		require.ErrorIs(t, err, ErrInvalidRef)
	})

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore(t *testing.T) {
	t.Run("Round Trip", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), DefaultShardChars)
		require.NoError(t, err)
		exerciseStore(t, s)
	})

	t.Run("Shard Layout", func(t *testing.T) {
		root := t.TempDir()
		s, err := NewFileStore(root, 2)
		require.NoError(t, err)

		id := uuid.MustParse("ab12cd34-0000-4000-8000-000000000001")
		ref, err := s.Put(context.Background(), id, "9f", []byte("x"))
		require.NoError(t, err)
		require.Equal(t, "ab/"+id.String()+".9f", ref)

		_, err = os.Stat(filepath.Join(root, "ab", id.String()+".9f"))
		require.NoError(t, err)

		entries, err := os.ReadDir(filepath.Join(root, "ab"))
		require.NoError(t, err)
		require.Len(t, entries, 1, "temp file left behind")
	})

	t.Run("Delete Missing Is Quiet", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), 2)
		require.NoError(t, err)
		require.NoError(t, s.Delete(context.Background(), s.Ref(uuid.New(), "1")))
	})

	t.Run("Rejects Escaping Refs", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), 2)
		require.NoError(t, err)
		_, err = s.Get(context.Background(), "../../etc/passwd")
		require.ErrorIs(t, err, ErrInvalidRef)
	})
}

func TestBadgerStore(t *testing.T) {
	cfg := DefaultBadgerConfig("")
	cfg.InMemory = true
	cfg.SyncWrites = false
	s, err := OpenBadger(cfg, log.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	exerciseStore(t, s)
}
