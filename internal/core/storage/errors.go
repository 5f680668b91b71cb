package storage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
	ErrUnknownBackend   = errors.New("unknown blob backend")
)

// PersistenceError reports a failed durable operation on one object.
type PersistenceError struct {
	Op  string
	ID  uuid.UUID
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, id uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, ID: id, Err: err}
}
