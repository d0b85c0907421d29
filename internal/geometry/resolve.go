package geometry

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientLines means fewer than four unique lines survived
	// deduplication.
	ErrInsufficientLines = errors.New("not enough unique lines")

	// ErrInsufficientPairs means no two pairs along different axes exist.
	ErrInsufficientPairs = errors.New("not enough parallel pairs")

	// ErrDegenerateIntersection means two lines that should cross are parallel.
	ErrDegenerateIntersection = errors.New("parallel lines do not intersect")

	// ErrCornerOrder means the corners could not be assigned one per quadrant.
	ErrCornerOrder = errors.New("corners cannot be ordered")

	// ErrOutOfBounds means a resolved corner lies outside the image.
	ErrOutOfBounds = errors.New("corner out of image bounds")
)

// MinUniqueLines is the fewest unique lines that can describe a quadrilateral.
const MinUniqueLines = 4

// Strategy selects how the final two pairs are chosen.
type Strategy string

const (
	// StrategyBestFit evaluates every pair-of-pairs and keeps the most square quad.
	StrategyBestFit Strategy = "best-fit"

	// StrategySimple takes the top pair and the next pair on another axis.
	StrategySimple Strategy = "simple"
)

// Params are the thresholds used by Resolve.
type Params struct {
	// ProximityThreshold is the endpoint distance, in pixels, under which two
	// lines are considered the same physical edge.
	ProximityThreshold float64

	// DuplicateSimilarity is the parallel similarity above which close lines
	// are merged. Default 0.92.
	DuplicateSimilarity float64

	// AxisSimilarity is the parallel similarity above which two pairs are
	// considered to lie along the same axis. Default 0.9.
	AxisSimilarity float64

	Strategy Strategy
}

// Resolution is the outcome of Resolve, including intermediate sets kept for
// diagnostics.
type Resolution struct {
	Unique []Line
	Pairs  []Pair
	First  Pair
	Second Pair
	Quad   Quad
}

// Resolve runs deduplication, pairing, pair selection, corner ordering and
// the bounds check over raw detected lines for an image of the given size.
// On failure the partially filled Resolution is still returned.
func Resolve(lines []Line, width, height int, p Params) (Resolution, error) {
	var r Resolution

	r.Unique = DedupeLines(lines, p.ProximityThreshold, p.DuplicateSimilarity)
	if len(r.Unique) < MinUniqueLines {
		return r, fmt.Errorf("%w: %d of %d", ErrInsufficientLines, len(r.Unique), MinUniqueLines)
	}

	r.Pairs = FindParallelPairs(r.Unique, p.ProximityThreshold)

	switch p.Strategy {
	case StrategySimple:
		first, second, err := SelectSimple(r.Pairs, p.AxisSimilarity)
		if err != nil {
			return r, err
		}
		r.First, r.Second = first, second
		quad, err := QuadFromPairs(first, second)
		if err != nil {
			return r, err
		}
		r.Quad = quad
	default:
		c, err := SelectBestFit(r.Pairs, p.AxisSimilarity)
		if err != nil {
			return r, err
		}
		r.First, r.Second, r.Quad = c.First, c.Second, c.Quad
	}

	if !r.Quad.InBounds(width, height) {
		return r, fmt.Errorf("%w: %s in %dx%d", ErrOutOfBounds, r.Quad, width, height)
	}
	return r, nil
}
