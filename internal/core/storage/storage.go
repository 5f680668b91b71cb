// Package storage is the durable tier behind the in-memory regions. A Backend
// hands out one Persistence per region and keeps the region registry.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/spatial/geometry"
)

// Record is the durable form of one object.
type Record struct {
	ID       uuid.UUID
	RegionID uuid.UUID
	Kind     string
	Position geometry.Vec3
	Payload  []byte
}

// RegionRecord is the durable descriptor of one region.
type RegionRecord struct {
	ID     uuid.UUID
	Key    string
	Center geometry.Vec3
	Radius float64
}

// Persistence stores the objects of a single region.
type Persistence interface {
	// Write stores rec, replacing any earlier version with the same id.
	Write(ctx context.Context, rec Record) error
	// ReadRange returns the region's records whose position lies in the
	// inclusive box [min, max].
	ReadRange(ctx context.Context, min, max geometry.Vec3) ([]Record, error)
	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
	// LoadAll returns every record of the region. Records whose payload can
	// no longer be read back intact are logged and left out.
	LoadAll(ctx context.Context) ([]Record, error)
}

// Backend owns the durable state of every region.
type Backend interface {
	Region(id uuid.UUID) Persistence

	LookupRegion(ctx context.Context, key string) (RegionRecord, bool, error)
	SaveRegion(ctx context.Context, r RegionRecord) error
	ListRegions(ctx context.Context) ([]RegionRecord, error)
	CountObjects(ctx context.Context, region uuid.UUID) (int, error)

	Close() error
}
