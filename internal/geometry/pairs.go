package geometry

import "sort"

// Pair is two lines hypothesised to be opposite sides of the cover. A is the
// line the pair was found for, B its best parallel partner.
type Pair struct {
	A, B       Line
	Similarity float64
}

// Same reports whether p and q hold the same two lines in either order.
func (p Pair) Same(q Pair) bool {
	return (p.A == q.A && p.B == q.B) || (p.A == q.B && p.B == q.A)
}

// Shares reports whether p and q have any line in common.
func (p Pair) Shares(q Pair) bool {
	return p.A == q.A || p.A == q.B || p.B == q.A || p.B == q.B
}

// FindParallelPairs finds, for every line, its most parallel partner among
// the lines that are not within threshold of it. Lines that are close are
// taken to be the same physical edge rather than the opposite one.
//
// Symmetric duplicates are dropped, and the result is sorted by similarity,
// highest first. Ties keep discovery order.
func FindParallelPairs(lines []Line, threshold float64) []Pair {
	var pairs []Pair

	for i, line := range lines {
		best := -1
		bestSimilarity := 0.0
		for j, next := range lines {
			if i == j || next == line {
				continue
			}
			if Close(next, line, threshold) {
				continue
			}
			if s := ParallelSimilarity(line, next); s > bestSimilarity {
				best = j
				bestSimilarity = s
			}
		}
		if best < 0 {
			continue
		}

		candidate := Pair{A: line, B: lines[best], Similarity: bestSimilarity}
		seen := false
		for _, p := range pairs {
			if p.Same(candidate) {
				seen = true
				break
			}
		}
		if !seen {
			pairs = append(pairs, candidate)
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Similarity > pairs[j].Similarity
	})
	return pairs
}

// SelectSimple picks the top-scoring pair and the first following pair whose
// primary line runs along a different axis (similarity below maxSimilarity).
func SelectSimple(pairs []Pair, maxSimilarity float64) (Pair, Pair, error) {
	if len(pairs) < 2 {
		return Pair{}, Pair{}, ErrInsufficientPairs
	}
	first := pairs[0]
	for _, p := range pairs[1:] {
		if ParallelSimilarity(first.A, p.A) < maxSimilarity {
			return first, p, nil
		}
	}
	return Pair{}, Pair{}, ErrInsufficientPairs
}
