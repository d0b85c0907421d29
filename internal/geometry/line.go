// Package geometry holds the pure line and corner math behind cover
// extraction: deduplicating Hough segments, pairing opposite edges and
// resolving the four corners of the cover. Nothing here touches pixels.
package geometry

import (
	"fmt"
	"math"
)

// Point is a 2D point in image pixel coordinates.
type Point struct {
	X, Y float64
}

// Vector is a 2D direction.
type Vector struct {
	DX, DY float64
}

// Line is a detected segment with integer pixel endpoints.
type Line struct {
	X1, Y1, X2, Y2 int
}

// LineFromCoords builds a Line from a raw coordinate slice as produced by the
// Hough transform. Anything other than exactly four values is rejected.
func LineFromCoords(coords []int32) (Line, error) {
	if len(coords) != 4 {
		return Line{}, fmt.Errorf("line has %d coordinates, want 4", len(coords))
	}
	return Line{
		X1: int(coords[0]),
		Y1: int(coords[1]),
		X2: int(coords[2]),
		Y2: int(coords[3]),
	}, nil
}

func (l Line) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", l.X1, l.Y1, l.X2, l.Y2)
}

// Start returns the first endpoint.
func (l Line) Start() Point { return Point{X: float64(l.X1), Y: float64(l.Y1)} }

// End returns the second endpoint.
func (l Line) End() Point { return Point{X: float64(l.X2), Y: float64(l.Y2)} }

// Degenerate reports whether both endpoints coincide.
func (l Line) Degenerate() bool {
	return l.X1 == l.X2 && l.Y1 == l.Y2
}

// Length returns the euclidean length of the segment.
func (l Line) Length() float64 {
	return math.Hypot(float64(l.X2-l.X1), float64(l.Y2-l.Y1))
}

// Direction returns the unit direction vector of the segment. ok is false for
// a degenerate line.
func (l Line) Direction() (v Vector, ok bool) {
	norm := l.Length()
	if norm == 0 {
		return Vector{}, false
	}
	return Vector{
		DX: float64(l.X2-l.X1) / norm,
		DY: float64(l.Y2-l.Y1) / norm,
	}, true
}

// ParallelSimilarity scores how parallel two lines are as the absolute dot
// product of their unit directions: 1 is parallel, 0 is perpendicular.
// A degenerate line scores 0 against anything.
func ParallelSimilarity(a, b Line) float64 {
	va, ok := a.Direction()
	if !ok {
		return 0
	}
	vb, ok := b.Direction()
	if !ok {
		return 0
	}
	return math.Abs(va.DX*vb.DX + va.DY*vb.DY)
}

// Close reports whether any endpoint of a lies within threshold pixels of any
// endpoint of b.
func Close(a, b Line, threshold float64) bool {
	for _, p := range [2]Point{a.Start(), a.End()} {
		for _, q := range [2]Point{b.Start(), b.End()} {
			if distance(p, q) < threshold {
				return true
			}
		}
	}
	return false
}

// Intersect returns the point where the infinite extensions of a and b cross.
// ok is false when the lines are parallel (equal slopes, or both vertical) or
// either line is degenerate.
func Intersect(a, b Line) (p Point, ok bool) {
	if a.Degenerate() || b.Degenerate() {
		return Point{}, false
	}

	verticalA := a.X1 == a.X2
	verticalB := b.X1 == b.X2

	var slopeA, slopeB float64
	if !verticalA {
		slopeA = float64(a.Y2-a.Y1) / float64(a.X2-a.X1)
	}
	if !verticalB {
		slopeB = float64(b.Y2-b.Y1) / float64(b.X2-b.X1)
	}

	switch {
	case verticalA && verticalB:
		return Point{}, false
	case verticalA:
		x := float64(a.X1)
		return Point{X: x, Y: slopeB*x + (float64(b.Y1) - slopeB*float64(b.X1))}, true
	case verticalB:
		x := float64(b.X1)
		return Point{X: x, Y: slopeA*x + (float64(a.Y1) - slopeA*float64(a.X1))}, true
	}

	if slopeA == slopeB {
		return Point{}, false
	}
	interceptA := float64(a.Y1) - slopeA*float64(a.X1)
	interceptB := float64(b.Y1) - slopeB*float64(b.X1)
	x := (interceptB - interceptA) / (slopeA - slopeB)
	return Point{X: x, Y: slopeA*x + interceptA}, true
}

// ProximityThreshold scales fraction by the shorter image side.
func ProximityThreshold(width, height int, fraction float64) float64 {
	return float64(min(width, height)) * fraction
}

func distance(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}
