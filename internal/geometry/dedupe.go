package geometry

// DedupeLines collapses near-duplicate detections of the same physical edge.
//
// Lines are visited in detection order and compared with the unique set built
// so far. The first unique line that is both close (an endpoint pair within
// threshold) and nearly parallel (similarity above minSimilarity) is the
// pivot: the longer of the two survives in the pivot's slot, the other is
// discarded. Order-dependence is part of the contract; results are only
// reproducible when callers keep detection order.
//
// Degenerate lines are skipped.
func DedupeLines(lines []Line, threshold, minSimilarity float64) []Line {
	unique := make([]Line, 0, len(lines))

	for _, curr := range lines {
		if curr.Degenerate() {
			continue
		}

		pivot := -1
		for i, u := range unique {
			if Close(curr, u, threshold) && ParallelSimilarity(curr, u) > minSimilarity {
				pivot = i
				break
			}
		}

		if pivot < 0 {
			unique = append(unique, curr)
			continue
		}
		if curr.Length() > unique[pivot].Length() {
			unique[pivot] = curr
		}
	}

	return unique
}
