package vault

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/storage"
)

// ownership maps every live entity id to the region holding it, so an id is
// never admitted into a second region. Changes happen while the affected
// region locks are held. A nil *ownership admits everything.
type ownership struct {
	mu     sync.Mutex
	owners map[uuid.UUID]RegionID
}

func newOwnership() *ownership {
	return &ownership{owners: make(map[uuid.UUID]RegionID)}
}

// claim records region as the owner of id. It reports whether a new entry was
// made; a claim by the current owner is a no-op.
func (o *ownership) claim(id uuid.UUID, region RegionID) (bool, error) {
	if o == nil {
		return false, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if owner, ok := o.owners[id]; ok {
		if owner != region {
			return false, fmt.Errorf("%w: %s is held by region %s", ErrDuplicateID, id, owner)
		}
		return false, nil
	}
	o.owners[id] = region
	return true, nil
}

// release forgets id if region still owns it.
func (o *ownership) release(id uuid.UUID, region RegionID) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.owners[id] == region {
		delete(o.owners, id)
	}
}

func (o *ownership) move(id uuid.UUID, to RegionID) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.owners[id] = to
	o.mu.Unlock()
}

func (o *ownership) owner(id uuid.UUID) (RegionID, bool) {
	if o == nil {
		return RegionID{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.owners[id]
	return r, ok
}

// claimLoaded claims every persisted record for region and returns the ones
// it may hold. Records whose id already belongs to another loaded region are
// dropped.
func (o *ownership) claimLoaded(region RegionID, recs []storage.Record, logger log.Log) []storage.Record {
	if o == nil {
		return recs
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := recs[:0:0]
	for _, rec := range recs {
		if owner, ok := o.owners[rec.ID]; ok && owner != region {
			logger.Warn("skipping persisted record held by another region",
				log.String("id", rec.ID.String()),
				log.String("owner", owner.String()),
			)
			continue
		}
		o.owners[rec.ID] = region
		kept = append(kept, rec)
	}
	return kept
}
