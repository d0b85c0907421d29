package geometry

import (
	"fmt"
	"math"
)

// Quad is an ordered corner set: top-left, top-right, bottom-right,
// bottom-left.
type Quad [4]Point

// Corner indexes into a Quad.
const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

func (q Quad) String() string {
	return fmt.Sprintf("tl=(%.1f,%.1f) tr=(%.1f,%.1f) br=(%.1f,%.1f) bl=(%.1f,%.1f)",
		q[TopLeft].X, q[TopLeft].Y, q[TopRight].X, q[TopRight].Y,
		q[BottomRight].X, q[BottomRight].Y, q[BottomLeft].X, q[BottomLeft].Y)
}

// InBounds reports whether every corner lies within [0,width]x[0,height].
func (q Quad) InBounds(width, height int) bool {
	for _, p := range q {
		if p.X < 0 || p.X > float64(width) || p.Y < 0 || p.Y > float64(height) {
			return false
		}
	}
	return true
}

// Size returns the mean width (top and bottom edges) and mean height (left
// and right edges).
func (q Quad) Size() (width, height float64) {
	width = (distance(q[TopLeft], q[TopRight]) + distance(q[BottomLeft], q[BottomRight])) / 2
	height = (distance(q[TopLeft], q[BottomLeft]) + distance(q[TopRight], q[BottomRight])) / 2
	return width, height
}

// SquareDistance is |width/height - 1|; 0 is a perfect square. A quad with no
// height scores +Inf.
func (q Quad) SquareDistance() float64 {
	w, h := q.Size()
	if h == 0 {
		return math.Inf(1)
	}
	return math.Abs(w/h - 1)
}

// OrderCorners sorts four points into a Quad by their quadrant around the
// centroid. Points right of the centroid (x > cx) are right, the rest left;
// points above it (y < cy) are top, the rest bottom. Each quadrant must
// receive exactly one point.
func OrderCorners(points []Point) (Quad, error) {
	if len(points) != 4 {
		return Quad{}, fmt.Errorf("%w: have %d corners, want 4", ErrCornerOrder, len(points))
	}

	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	cx /= 4
	cy /= 4

	var q Quad
	var filled [4]int
	for _, p := range points {
		right := p.X > cx
		top := p.Y < cy

		var slot int
		switch {
		case top && !right:
			slot = TopLeft
		case top && right:
			slot = TopRight
		case !top && right:
			slot = BottomRight
		default:
			slot = BottomLeft
		}
		q[slot] = p
		filled[slot]++
	}

	for slot, n := range filled {
		if n != 1 {
			return Quad{}, fmt.Errorf("%w: quadrant %d has %d points", ErrCornerOrder, slot, n)
		}
	}
	return q, nil
}

// CornersFromPairs intersects each line of first with each line of second.
// Any parallel combination aborts with ErrDegenerateIntersection.
func CornersFromPairs(first, second Pair) ([]Point, error) {
	corners := make([]Point, 0, 4)
	for _, a := range [2]Line{first.A, first.B} {
		for _, b := range [2]Line{second.A, second.B} {
			p, ok := Intersect(a, b)
			if !ok {
				return nil, fmt.Errorf("%w: %s and %s", ErrDegenerateIntersection, a, b)
			}
			corners = append(corners, p)
		}
	}
	return corners, nil
}

// QuadFromPairs intersects two pairs and orders the resulting corners.
func QuadFromPairs(first, second Pair) (Quad, error) {
	corners, err := CornersFromPairs(first, second)
	if err != nil {
		return Quad{}, err
	}
	return OrderCorners(corners)
}

// Candidate is a pair-of-pairs together with the quad it produces.
type Candidate struct {
	First, Second Pair
	Quad          Quad
}

// SelectBestFit tries every combination of two distinct pairs that share no
// line and run along different axes (primary-line similarity at most
// maxSimilarity), and returns the one whose quad is closest to a square.
// Combinations with parallel intersections or unorderable corners are
// skipped. The first candidate wins ties.
func SelectBestFit(pairs []Pair, maxSimilarity float64) (Candidate, error) {
	var best Candidate
	bestDistance := math.Inf(1)
	found := false

	for i, first := range pairs {
		for j, second := range pairs {
			if i == j || first.Same(second) || first.Shares(second) {
				continue
			}
			if ParallelSimilarity(first.A, second.A) > maxSimilarity {
				continue
			}

			quad, err := QuadFromPairs(first, second)
			if err != nil {
				continue
			}

			d := quad.SquareDistance()
			if math.IsInf(d, 1) {
				continue
			}
			if !found || d < bestDistance {
				best = Candidate{First: first, Second: second, Quad: quad}
				bestDistance = d
				found = true
			}
		}
	}

	if !found {
		return Candidate{}, ErrInsufficientPairs
	}
	return best, nil
}
