package vault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDuplicateID     = errors.New("duplicate id")
	ErrNotFound        = errors.New("not found")
	ErrRegionNotFound  = fmt.Errorf("region %w", ErrNotFound)
	ErrInvalidBox      = errors.New("invalid query box")
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidRegion   = errors.New("invalid region volume")
)

type TransferErrorKind uint8

const (
	TransferEntityNotFound TransferErrorKind = iota + 1
	TransferDestinationRejected
)

func (k TransferErrorKind) String() string {
	switch k {
	case TransferEntityNotFound:
		return "entity not found"
	case TransferDestinationRejected:
		return "destination rejected"
	default:
		return "unknown"
	}
}

// TransferError reports why a transfer did not happen. When it is returned
// the entity is still held by the source region.
type TransferError struct {
	Kind   TransferErrorKind
	Entity uuid.UUID
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %s: %v", e.Entity, e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
