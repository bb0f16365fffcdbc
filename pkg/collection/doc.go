// Package collection holds the locally cached side of a remote offset-paginated
// source: the page request/response types, the keyed merge of incoming pages and
// the observable collection state.
//
// The package never inspects items beyond their key. Callers provide a KeyFunc
// that extracts the unique key (movie id, friend id, poll id, ...).
//
// # Merge Modes
//
//   - MergeReplace: a fresh first page (also used when a server-side filter changes)
//   - MergeAppend: a following page; known keys are updated in place, new keys appended
//
// # State
//
// State is the single owner of items, cursor, hasMore, totalCount, status and
// generation. It is mutated by the pagination coordinator and observed by the
// backfill controller and views through Subscribe.
package collection
