// Package singlelist picks a small set of packages that covers every
// deduplicated file.
package singlelist

import (
	"sort"
)

// List collects candidate sets. Each set holds the packages that contain one
// particular file.
type List struct {
	sets    [][]string
	weights map[string]int
}

// New returns an empty List.
func New() *List {
	return &List{weights: make(map[string]int)}
}

// Add records one candidate set. Every member's weight grows by one.
func (l *List) Add(items []string) {
	if len(items) == 0 {
		return
	}
	l.sets = append(l.sets, append([]string(nil), items...))
	for _, item := range items {
		l.weights[item]++
	}
}

// Weight returns the number of sets containing item.
func (l *List) Weight(item string) int {
	return l.weights[item]
}

// Len returns the number of recorded sets.
func (l *List) Len() int {
	return len(l.sets)
}

func (l *List) heaviest(items []string) string {
	best := items[0]
	w := l.weights[best]
	for _, item := range items[1:] {
		if l.weights[item] > w {
			best = item
			w = l.weights[item]
		}
	}
	return best
}

// Optimized returns the selection. Sets are visited smallest first; a set
// that already contains a selected item is skipped, otherwise its heaviest
// member is selected.
func (l *List) Optimized() []string {
	sets := make([][]string, len(l.sets))
	copy(sets, l.sets)
	sort.SliceStable(sets, func(i, j int) bool {
		return len(sets[i]) < len(sets[j])
	})

	selected := make(map[string]struct{})
	var res []string

outer:
	for _, items := range sets {
		for _, item := range items {
			if _, ok := selected[item]; ok {
				continue outer
			}
		}

		best := l.heaviest(items)
		selected[best] = struct{}{}
		res = append(res, best)
	}

	return res
}
