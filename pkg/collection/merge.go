package collection

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MergeMode selects how an incoming page is combined with the cached items.
type MergeMode int

const (
	// MergeReplace discards the existing items. Used for a fresh first page.
	MergeReplace MergeMode = iota

	// MergeAppend keeps the existing items and adds the page after them.
	MergeAppend
)

// String returns the mode name used in logs and metric labels.
func (m MergeMode) String() string {
	if m == MergeAppend {
		return "append"
	}
	return "replace"
}

// Merge combines incoming with existing and returns a new slice with unique keys.
//
// Replace: the incoming items deduplicated by key, first occurrence wins, in
// incoming order.
//
// Append: existing order is preserved. An incoming item with a known key
// overwrites the cached value in place; new keys are appended in incoming order.
// A slow page overlapping rendered items therefore never reorders the list.
func Merge[T any](existing, incoming []T, key KeyFunc[T], mode MergeMode) []T {
	om := orderedmap.New[string, T]()

	if mode == MergeAppend {
		for _, item := range existing {
			om.Set(key(item), item)
		}
		for _, item := range incoming {
			om.Set(key(item), item)
		}
	} else {
		for _, item := range incoming {
			k := key(item)
			if _, present := om.Get(k); present {
				continue
			}
			om.Set(k, item)
		}
	}

	merged := make([]T, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		merged = append(merged, pair.Value)
	}
	return merged
}
