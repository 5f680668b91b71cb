// Package zones tracks a moving point against spherical zones and fires enter
// and exit callbacks when its containment in a zone flips.
package zones

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/zeusync/vault/internal/core/events"
	"github.com/zeusync/vault/internal/core/events/bus"
	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/spatial/rtree"
)

var (
	ErrZoneNotFound = errors.New("zone not found")
	ErrInvalidZone  = errors.New("invalid zone")
)

type ZoneID int

// Callback receives the zone and the tracked point that caused the flip.
type Callback func(zone ZoneID, point geometry.Vec3)

type Zone struct {
	ID       ZoneID
	Center   geometry.Vec3
	Radius   float64
	Occupied bool
	OnEnter  Callback
	OnExit   Callback
}

// Contains uses an inclusive boundary: a point exactly on the sphere is
// inside.
func (z *Zone) Contains(p geometry.Vec3) bool {
	return geometry.Distance2(p, z.Center) <= z.Radius*z.Radius
}

type TransitionKind uint8

const (
	Entered TransitionKind = iota + 1
	Exited
)

func (k TransitionKind) String() string {
	switch k {
	case Entered:
		return "entered"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

type Transition struct {
	Zone  ZoneID
	Kind  TransitionKind
	Point geometry.Vec3
}

type Option func(*Engine)

// WithBus publishes every transition as zone.entered or zone.exited.
func WithBus(b bus.EventBus) Option {
	return func(e *Engine) { e.bus = b }
}

func WithLogger(l log.Log) Option {
	return func(e *Engine) { e.logger = l.With(log.String("component", "zones")) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithMaxEntries(n int) Option {
	return func(e *Engine) { e.index = rtree.New[ZoneID](n) }
}

// Engine owns the zones and their R-tree. Zone envelopes are indexed whole,
// so the broad phase needs no padding; candidates are then tested exactly.
type Engine struct {
	// fireMu serializes tracked point updates so callbacks observe
	// transitions in the order the state changed.
	fireMu sync.Mutex

	mu       sync.Mutex
	zones    map[ZoneID]*Zone
	index    *rtree.Index[ZoneID]
	occupied map[ZoneID]struct{}
	next     ZoneID

	bus     bus.EventBus
	logger  log.Log
	metrics *metrics.Metrics
}

func New(opts ...Option) *Engine {
	e := &Engine{
		zones:    make(map[ZoneID]*Zone),
		index:    rtree.New[ZoneID](rtree.DefaultMaxEntries),
		occupied: make(map[ZoneID]struct{}),
		next:     1,
		logger:   log.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddZone registers a sphere. Either callback may be nil.
func (e *Engine) AddZone(center geometry.Vec3, radius float64, onEnter, onExit Callback) (ZoneID, error) {
	if !geometry.Finite(center) || math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 {
		return 0, fmt.Errorf("%w: center %v radius %v", ErrInvalidZone, center, radius)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	z := &Zone{ID: id, Center: center, Radius: radius, OnEnter: onEnter, OnExit: onExit}
	e.zones[id] = z
	e.index.Insert(id, geometry.Sphere{Center: center, Radius: radius}.Envelope())
	return id, nil
}

// RemoveZone drops the zone without firing its exit callback and repacks the
// index from the remaining zones.
func (e *Engine) RemoveZone(id ZoneID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.zones[id]; !ok {
		return fmt.Errorf("%w: %d", ErrZoneNotFound, id)
	}
	delete(e.zones, id)
	delete(e.occupied, id)

	entries := make([]rtree.Entry[ZoneID], 0, len(e.zones))
	for zid, z := range e.zones {
		entries = append(entries, rtree.Entry[ZoneID]{ID: zid, Box: geometry.Sphere{Center: z.Center, Radius: z.Radius}.Envelope()})
	}
	e.index.BulkLoad(entries)
	return nil
}

// Zone returns a copy of the zone.
func (e *Engine) Zone(id ZoneID) (Zone, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	z, ok := e.zones[id]
	if !ok {
		return Zone{}, false
	}
	return *z, true
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.zones)
}

// Occupied returns the ids of every zone currently containing the tracked
// point, ascending.
func (e *Engine) Occupied() []ZoneID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ZoneID, 0, len(e.occupied))
	for id := range e.occupied {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UpdateTrackedPoint moves the tracked point to p and returns the resulting
// transitions ordered by zone id. Each flipped zone fires exactly one
// callback, after the engine lock is released. Concurrent updates are applied
// one at a time. Callbacks may add or remove zones but must not call
// UpdateTrackedPoint. Non-finite points are ignored.
func (e *Engine) UpdateTrackedPoint(p geometry.Vec3) []Transition {
	if !geometry.Finite(p) {
		e.logger.Warn("ignoring non-finite tracked point", log.Any("point", p))
		return nil
	}

	e.fireMu.Lock()
	defer e.fireMu.Unlock()

	type fire struct {
		t  Transition
		cb Callback
	}
	var fires []fire

	e.mu.Lock()
	candidates := make(map[ZoneID]struct{}, len(e.occupied))
	for id := range e.occupied {
		candidates[id] = struct{}{}
	}
	e.index.Search(geometry.PointBox(p), func(id ZoneID, _ geometry.Box) bool {
		candidates[id] = struct{}{}
		return true
	})

	for id := range candidates {
		z := e.zones[id]
		inside := z.Contains(p)
		if inside == z.Occupied {
			continue
		}
		z.Occupied = inside
		t := Transition{Zone: id, Point: p}
		var cb Callback
		if inside {
			e.occupied[id] = struct{}{}
			t.Kind, cb = Entered, z.OnEnter
		} else {
			delete(e.occupied, id)
			t.Kind, cb = Exited, z.OnExit
		}
		fires = append(fires, fire{t: t, cb: cb})
	}
	e.mu.Unlock()

	sort.Slice(fires, func(i, j int) bool { return fires[i].t.Zone < fires[j].t.Zone })

	out := make([]Transition, 0, len(fires))
	for _, f := range fires {
		if f.cb != nil {
			f.cb(f.t.Zone, p)
		}
		e.metrics.ObserveZoneTransition(f.t.Kind.String())
		e.publish(f.t)
		out = append(out, f.t)
	}
	return out
}

func (e *Engine) publish(t Transition) {
	if e.bus == nil {
		return
	}
	typ := events.ZoneEntered
	if t.Kind == Exited {
		typ = events.ZoneExited
	}
	ev := bus.NewEvent(typ, "zones", events.ZoneTransition{Zone: int(t.Zone), Point: t.Point}, nil)
	if err := e.bus.Publish(ev); err != nil {
		e.logger.Warn("zone transition handler failed",
			log.String("type", typ),
			log.Int("zone", int(t.Zone)),
			log.Error(err),
		)
	}
}
