// Package blob stores serialized object payloads outside the structured
// index. Payloads are addressed by the owning object's id and a version, so
// writing a new version never touches the bytes of the previous one.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidRef = errors.New("invalid blob reference")
)

// Store persists payload bytes. Put returns the reference recorded in the
// structured index; the same reference is later handed to Get and Delete.
// Distinct versions of one id get distinct references.
type Store interface {
	Put(ctx context.Context, id uuid.UUID, version string, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	Close() error
}

func versioned(name, version string) string {
	if version == "" {
		return name
	}
	return name + "." + version
}

// validVersion keeps versions usable as a file name suffix.
func validVersion(version string) error {
	if strings.ContainsAny(version, `/\.`) {
		return fmt.Errorf("%w: version %q", ErrInvalidRef, version)
	}
	return nil
}
