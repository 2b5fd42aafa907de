package iterutil

import (
	"iter"
)

// Difference returns a new iterator that yields the values of seq that are not present in any of the excluded iterators.
// Duplicates in seq are yielded once.
func Difference[V comparable](seq iter.Seq[V], excluded ...iter.Seq[V]) iter.Seq[V] {
	return iter.Seq[V](func(yield func(V) bool) {
		seen := map[V]struct{}{}
		for _, ex := range excluded {
			for v := range ex {
				seen[v] = struct{}{}
			}
		}
		for v := range seq {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			if !yield(v) {
				return
			}
		}
	})
}

// Uniq returns a new iterator that yields the unique values from the input iterator.
// The order of the output is the same as the input.
func Uniq[V comparable](seq iter.Seq[V]) iter.Seq[V] {
	return iter.Seq[V](func(yield func(V) bool) {
		seen := map[V]struct{}{}
		for v := range seq {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				if !yield(v) {
					return
				}
			}
		}
	})
}

// Filter returns a new iterator that yields the values for which keep returns true.
func Filter[V any](seq iter.Seq[V], keep func(V) bool) iter.Seq[V] {
	return iter.Seq[V](func(yield func(V) bool) {
		for v := range seq {
			if keep(v) && !yield(v) {
				return
			}
		}
	})
}

// Map returns a new iterator that applies the function to each value from the input iterator.
func Map[V, R any](seq iter.Seq[V], f func(V) R) iter.Seq[R] {
	return iter.Seq[R](func(yield func(R) bool) {
		for v := range seq {
			if !yield(f(v)) {
				return
			}
		}
	})
}

// GroupBy collects the values of seq by the keys returned from group.
// A value can belong to many groups. Group order is the order of first appearance.
func GroupBy[V any, G comparable](seq iter.Seq[V], group func(V) []G) ([]G, map[G][]V) {
	var order []G
	groups := map[G][]V{}
	for v := range seq {
		for _, g := range group(v) {
			if _, ok := groups[g]; !ok {
				order = append(order, g)
			}
			groups[g] = append(groups[g], v)
		}
	}
	return order, groups
}
