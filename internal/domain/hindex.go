package domain

import "sort"

// HIndex computes the h-index of a citation count list: the largest h such
// that at least h entries have h or more citations.
func HIndex(cites []int) int {
	sorted := make([]int, len(cites))
	copy(sorted, cites)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	h := 0
	for i, c := range sorted {
		if c < i+1 {
			break
		}
		h = i + 1
	}
	return h
}
