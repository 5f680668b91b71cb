// Package geometry holds the small set of value types shared by the spatial
// index, the region store and the zone engine.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is a position in world space.
type Vec3 = r3.Vec

// V is shorthand for Vec3{X: x, Y: y, Z: z}.
func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

// FromArray converts a positional [x, y, z] triple.
func FromArray(a [3]float64) Vec3 { return Vec3{X: a[0], Y: a[1], Z: a[2]} }

// ToArray is the inverse of FromArray.
func ToArray(v Vec3) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// Distance2 returns the squared euclidean distance between a and b.
func Distance2(a, b Vec3) float64 { return r3.Norm2(r3.Sub(a, b)) }

// Distance returns the euclidean distance between a and b.
func Distance(a, b Vec3) float64 { return r3.Norm(r3.Sub(a, b)) }

// Finite reports whether no component of v is NaN or infinite.
func Finite(v Vec3) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

// Box is an axis-aligned bounding box. Min and Max are inclusive.
type Box struct {
	Min Vec3
	Max Vec3
}

// NewBox returns the box spanned by two opposite corners in any order.
func NewBox(a, b Vec3) Box {
	return Box{
		Min: Vec3{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)},
		Max: Vec3{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)},
	}
}

// PointBox is the degenerate box holding exactly p.
func PointBox(p Vec3) Box { return Box{Min: p, Max: p} }

// BoxAround returns the cube of half-extent r centered at p.
func BoxAround(p Vec3, r float64) Box {
	d := Vec3{X: r, Y: r, Z: r}
	return Box{Min: r3.Sub(p, d), Max: r3.Add(p, d)}
}

// Everything is a box that intersects every finite box.
func Everything() Box {
	inf := math.Inf(1)
	return Box{Min: Vec3{X: -inf, Y: -inf, Z: -inf}, Max: Vec3{X: inf, Y: inf, Z: inf}}
}

// Validate rejects boxes with NaN corners or Min above Max on any axis.
func (b Box) Validate() error {
	if math.IsNaN(b.Min.X) || math.IsNaN(b.Min.Y) || math.IsNaN(b.Min.Z) ||
		math.IsNaN(b.Max.X) || math.IsNaN(b.Max.Y) || math.IsNaN(b.Max.Z) {
		return fmt.Errorf("box %v has NaN corner", b)
	}
	if b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z {
		return fmt.Errorf("box min %v exceeds max %v", b.Min, b.Max)
	}
	return nil
}

// Intersects reports whether the two boxes share at least one point.
func (b Box) Intersects(o Box) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	return b.Min.X <= o.Min.X && o.Max.X <= b.Max.X &&
		b.Min.Y <= o.Min.Y && o.Max.Y <= b.Max.Y &&
		b.Min.Z <= o.Min.Z && o.Max.Z <= b.Max.Z
}

// ContainsPoint reports whether p lies inside b.
func (b Box) ContainsPoint(p Vec3) bool { return b.Contains(PointBox(p)) }

// Union returns the smallest box containing both b and o.
func (b Box) Union(o Box) Box {
	return Box{
		Min: Vec3{X: math.Min(b.Min.X, o.Min.X), Y: math.Min(b.Min.Y, o.Min.Y), Z: math.Min(b.Min.Z, o.Min.Z)},
		Max: Vec3{X: math.Max(b.Max.X, o.Max.X), Y: math.Max(b.Max.Y, o.Max.Y), Z: math.Max(b.Max.Z, o.Max.Z)},
	}
}

// Center returns the midpoint of b.
func (b Box) Center() Vec3 { return r3.Scale(0.5, r3.Add(b.Min, b.Max)) }

// Volume returns the box volume; degenerate boxes have zero volume.
func (b Box) Volume() float64 {
	d := r3.Sub(b.Max, b.Min)
	return d.X * d.Y * d.Z
}

// Margin returns the sum of the edge lengths along each axis.
func (b Box) Margin() float64 {
	d := r3.Sub(b.Max, b.Min)
	return d.X + d.Y + d.Z
}

// Sphere is a ball with an inclusive boundary.
type Sphere struct {
	Center Vec3
	Radius float64
}

// Envelope returns the bounding box of s.
func (s Sphere) Envelope() Box { return BoxAround(s.Center, s.Radius) }

// Contains reports whether p is inside s. Points exactly on the boundary count
// as inside.
func (s Sphere) Contains(p Vec3) bool {
	return Distance2(p, s.Center) <= s.Radius*s.Radius
}
