package slicehelp

import (
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/exp/constraints"
)

// SortedUnique returns a sorted copy of elements with duplicates removed.
func SortedUnique[T constraints.Ordered](elements []T) []T {
	if len(elements) == 0 {
		return nil
	}
	unique := make([]T, 0, len(elements))
	seen := make(map[T]struct{}, len(elements))
	for _, element := range elements {
		if _, ok := seen[element]; ok {
			continue
		}
		seen[element] = struct{}{}
		unique = append(unique, element)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	return unique
}

func OrderedMapKeys[K comparable, V any](m *orderedmap.OrderedMap[K, V]) []K {
	l := make([]K, m.Len())
	i := 0
	for p := m.Oldest(); p != nil; p = p.Next() {
		l[i] = p.Key
		i++
	}
	return l
}
