package vault

import (
	"fmt"

	"github.com/google/uuid"
)

// ObjectStore is the authoritative table of a region's entities. Values are
// copied on the way in and out. It is not safe for concurrent use; the owning
// Region serializes access together with its spatial index.
type ObjectStore struct {
	entities map[uuid.UUID]Entity
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{entities: make(map[uuid.UUID]Entity)}
}

func (s *ObjectStore) Insert(e Entity) error {
	if _, ok := s.entities[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	s.entities[e.ID] = e.Clone()
	return nil
}

func (s *ObjectStore) Get(id uuid.UUID) (Entity, bool) {
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, false
	}
	return e.Clone(), true
}

// Update replaces the stored entity and returns the previous value. The
// caller re-synchronizes the spatial index when the position changed.
func (s *ObjectStore) Update(e Entity) (Entity, error) {
	old, ok := s.entities[e.ID]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrNotFound, e.ID)
	}
	s.entities[e.ID] = e.Clone()
	return old, nil
}

func (s *ObjectStore) Remove(id uuid.UUID) (Entity, bool) {
	e, ok := s.entities[id]
	if ok {
		delete(s.entities, id)
	}
	return e, ok
}

func (s *ObjectStore) Has(id uuid.UUID) bool {
	_, ok := s.entities[id]
	return ok
}

func (s *ObjectStore) Len() int { return len(s.entities) }

// All returns a copy of every entity in unspecified order.
func (s *ObjectStore) All() []Entity {
	out := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e.Clone())
	}
	return out
}
