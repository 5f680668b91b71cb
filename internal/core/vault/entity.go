package vault

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/storage"
)

// Payload is opaque JSON owned by the entity.
type Payload = json.RawMessage

// RegionID identifies a region for the lifetime of its durable state. It is
// generated at creation and never derived from the region's volume.
type RegionID uuid.UUID

func NewRegionID() RegionID { return RegionID(uuid.New()) }

func ParseRegionID(s string) (RegionID, error) {
	id, err := uuid.Parse(s)
	return RegionID(id), err
}

func (id RegionID) String() string { return uuid.UUID(id).String() }

// Compare orders region ids bytewise. Lock ordering relies on it.
func (id RegionID) Compare(other RegionID) int {
	return bytes.Compare(id[:], other[:])
}

func (id RegionID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *RegionID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}

// Entity is one spatially located object.
type Entity struct {
	ID       uuid.UUID
	Kind     string
	Position geometry.Vec3
	Payload  Payload
	Region   RegionID
}

// Clone returns a copy that shares no memory with e.
func (e Entity) Clone() Entity {
	e.Payload = slices.Clone(e.Payload)
	return e
}

func (e Entity) record() storage.Record {
	return storage.Record{
		ID:       e.ID,
		RegionID: uuid.UUID(e.Region),
		Kind:     e.Kind,
		Position: e.Position,
		Payload:  e.Payload,
	}
}

func entityFromRecord(rec storage.Record) Entity {
	return Entity{
		ID:       rec.ID,
		Kind:     rec.Kind,
		Position: rec.Position,
		Payload:  Payload(rec.Payload),
		Region:   RegionID(rec.RegionID),
	}
}

// RegionKey derives the lookup key of a region from its center and radius
// rounded to precision decimal places, so repeated calls with the same volume
// resolve to the same region.
func RegionKey(center geometry.Vec3, radius float64, precision int) string {
	scale := math.Pow10(precision)
	var buf [32]byte
	for i, v := range [4]float64{center.X, center.Y, center.Z, radius} {
		r := math.Round(v*scale) / scale
		if r == 0 {
			r = 0 // fold -0
		}
		bits := math.Float64bits(r)
		for b := 0; b < 8; b++ {
			buf[i*8+b] = byte(bits >> (8 * b))
		}
	}
	return strconv.FormatUint(xxhash.Sum64(buf[:]), 16)
}
