// Package pagination drives page fetches for one locally cached collection.
//
// A Coordinator owns the fetch side of a collection.State: it runs the
// single-flight guard, calls the Fetcher, merges the page and recomputes cursor,
// hasMore and status. At most one fetch per collection is outstanding; a second
// request while one is in flight is a no-op returning collection.ErrInFlight.
//
// Example usage:
//
//	state := collection.NewState(func(m Movie) string { return strconv.Itoa(m.ID) })
//	coord := pagination.NewCoordinator[Movie](fetcher, state, pagination.NopNotifier(), pagination.DefaultConfig(), logger)
//
//	flight, err := coord.RequestInitial(ctx)
//	if err == nil {
//		_ = flight.Wait()
//	}
//	flight, err = coord.RequestMore(ctx) // collection.ErrExhausted once the source is drained
//
// Failure handling:
//   - Transport and shape failures set status=error, keep items/cursor/hasMore
//     and call the Notifier exactly once
//   - Nothing is retried automatically; the next trigger is the retry
//   - Responses of a generation older than the current one (after Reset) are discarded
//
// hasMore is computed as len(page) >= limit && (total unknown || cursor < total).
// A known total is authoritative; without it the page length decides.
package pagination
