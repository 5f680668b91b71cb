package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
)

type transferOptions struct {
	position *geometry.Vec3
}

type TransferOption func(*transferOptions)

// WithPosition places the entity at p in the destination region.
func WithPosition(p geometry.Vec3) TransferOption {
	return func(o *transferOptions) { o.position = &p }
}

// Transfer moves entity id from one region to another. Both region locks are
// taken in RegionID order. The entity is never left outside both regions: if
// the destination rejects it, it is put back into the source.
func (m *Manager) Transfer(ctx context.Context, id uuid.UUID, from, to RegionID, opts ...TransferOption) (err error) {
	defer func() { m.metrics.ObserveTransfer(err) }()

	var o transferOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.position != nil && !geometry.Finite(*o.position) {
		return &TransferError{Kind: TransferDestinationRejected, Entity: id, Err: fmt.Errorf("%w: %v", ErrInvalidPosition, *o.position)}
	}

	src, err := m.Region(from)
	if err != nil {
		return &TransferError{Kind: TransferEntityNotFound, Entity: id, Err: err}
	}
	dst, err := m.Region(to)
	if err != nil {
		return &TransferError{Kind: TransferDestinationRejected, Entity: id, Err: err}
	}

	if src == dst {
		return m.transferInPlace(ctx, src, id, o)
	}

	first, second := src, dst
	if to.Compare(from) < 0 {
		first, second = dst, src
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if !src.objects.Has(id) {
		return &TransferError{Kind: TransferEntityNotFound, Entity: id, Err: fmt.Errorf("%w: %s in region %s", ErrNotFound, id, from)}
	}
	if dst.objects.Has(id) {
		return &TransferError{Kind: TransferDestinationRejected, Entity: id, Err: fmt.Errorf("%w: %s in region %s", ErrDuplicateID, id, to)}
	}

	e, err := src.removeLocked(ctx, id)
	if err != nil {
		return err
	}
	moved := e.Clone()
	if o.position != nil {
		moved.Position = *o.position
	}
	if err = dst.insertLocked(ctx, moved); err != nil {
		src.restoreLocked(ctx, e)
		return &TransferError{Kind: TransferDestinationRejected, Entity: id, Err: err}
	}
	m.owners.move(id, to)

	m.logger.Debug("entity transferred",
		log.String("id", id.String()),
		log.String("from", from.String()),
		log.String("to", to.String()),
	)
	return nil
}

// transferInPlace handles from == to: nothing moves unless a new position was
// requested.
func (m *Manager) transferInPlace(ctx context.Context, r *Region, id uuid.UUID, o transferOptions) error {
	e, ok := r.GetObject(id)
	if !ok {
		return &TransferError{Kind: TransferEntityNotFound, Entity: id, Err: fmt.Errorf("%w: %s in region %s", ErrNotFound, id, r.ID())}
	}
	if o.position == nil {
		return nil
	}
	e.Position = *o.position
	err := r.UpdateObject(ctx, e)
	if errors.Is(err, ErrNotFound) {
		return &TransferError{Kind: TransferEntityNotFound, Entity: id, Err: err}
	}
	return err
}
