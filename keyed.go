package livesync

import "sort"

// ============================================================================
// Keyed Ordered Lists
// ============================================================================

// Keys configures the keyed-merge ordered list functions for one element type.
//
// ClientKey is optional and is consulted before Key, so a locally created
// placeholder is found again once the server echoes it back with its final
// key. Merge is optional; without it an incoming element replaces the held
// one outright.
type Keys[T any] struct {
	ClientKey func(T) string
	Key       func(T) string
	Less      func(a, b T) bool
	Merge     func(prev, incoming T) T
}

// IndexOf returns the position of the element matching item by client key
// first, then by key, or -1.
func IndexOf[T any](list []T, item T, k Keys[T]) int {
	if k.ClientKey != nil {
		if ck := k.ClientKey(item); ck != "" {
			for i := range list {
				if k.ClientKey(list[i]) == ck {
					return i
				}
			}
		}
	}
	if key := k.Key(item); key != "" {
		for i := range list {
			if k.Key(list[i]) == key {
				return i
			}
		}
	}
	return -1
}

// Upsert returns a new list with item merged in. A matched element is
// replaced in place and only re-slotted when the replacement breaks the
// ordering; an unmatched element is inserted after every element that does
// not sort after it. The input list is not modified.
func Upsert[T any](list []T, item T, k Keys[T]) []T {
	idx := IndexOf(list, item, k)
	if idx < 0 {
		return insertSorted(clone(list), item, k.Less)
	}

	merged := item
	if k.Merge != nil {
		merged = k.Merge(list[idx], item)
	}

	out := clone(list)
	out[idx] = merged

	// The client-key match may leave a second entry already carrying the
	// server key (echo raced ahead of a refresh page). Its fields fold into
	// the kept entry before it goes.
	if key := k.Key(merged); key != "" {
		for i := len(out) - 1; i >= 0; i-- {
			if i != idx && k.Key(out[i]) == key {
				if k.Merge != nil {
					merged = k.Merge(out[i], merged)
					out[idx] = merged
				}
				out = append(out[:i], out[i+1:]...)
				if i < idx {
					idx--
				}
			}
		}
	}

	if outOfOrder(out, idx, k.Less) {
		out = append(out[:idx], out[idx+1:]...)
		out = insertSorted(out, merged, k.Less)
	}
	return out
}

// UpsertAll merges items one at a time, in any order.
func UpsertAll[T any](list []T, items []T, k Keys[T]) []T {
	out := clone(list)
	for _, item := range items {
		out = Upsert(out, item, k)
	}
	return out
}

// Remove returns a new list without the elements for which drop is true.
func Remove[T any](list []T, drop func(T) bool) []T {
	out := make([]T, 0, len(list))
	for _, item := range list {
		if !drop(item) {
			out = append(out, item)
		}
	}
	return out
}

func insertSorted[T any](list []T, item T, less func(a, b T) bool) []T {
	i := sort.Search(len(list), func(i int) bool { return less(item, list[i]) })
	list = append(list, item)
	copy(list[i+1:], list[i:])
	list[i] = item
	return list
}

func outOfOrder[T any](list []T, i int, less func(a, b T) bool) bool {
	if i > 0 && less(list[i], list[i-1]) {
		return true
	}
	return i < len(list)-1 && less(list[i+1], list[i])
}

func clone[T any](list []T) []T {
	out := make([]T, len(list), len(list)+1)
	copy(out, list)
	return out
}
