package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultShardChars is how many leading hex characters of the id name the
// shard directory.
const DefaultShardChars = 2

var _ Store = (*FileStore)(nil)

// FileStore keeps one file per payload version under
// root/<shard>/<uuid>.<version>, where shard is the first ShardChars hex
// characters of the uuid. The shard level bounds directory fan-out.
type FileStore struct {
	root       string
	shardChars int
}

func NewFileStore(root string, shardChars int) (*FileStore, error) {
	if shardChars <= 0 || shardChars > 8 {
		shardChars = DefaultShardChars
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create payload root %s: %w", root, err)
	}
	return &FileStore{root: root, shardChars: shardChars}, nil
}

// Ref returns the slash-separated reference for one version of id.
func (s *FileStore) Ref(id uuid.UUID, version string) string {
	name := id.String()
	return path.Join(name[:s.shardChars], versioned(name, version))
}

// Path resolves a reference to its location on disk.
func (s *FileStore) Path(ref string) (string, error) {
	local := filepath.FromSlash(ref)
	if ref == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.root, local), nil
}

// Put writes data atomically: temp file in the shard directory, fsync, rename.
func (s *FileStore) Put(_ context.Context, id uuid.UUID, version string, data []byte) (string, error) {
	if err := validVersion(version); err != nil {
		return "", err
	}
	ref := s.Ref(id, version)
	target, err := s.Path(ref)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(target)
	if err = os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create shard %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp payload: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("write payload %s: %w", ref, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync payload %s: %w", ref, err)
	}
	if err = tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close payload %s: %w", ref, err)
	}
	if err = os.Rename(tmpName, target); err != nil {
		cleanup()
		return "", fmt.Errorf("publish payload %s: %w", ref, err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	p, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes the payload file. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, ref string) error {
	p, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove payload %s: %w", ref, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
