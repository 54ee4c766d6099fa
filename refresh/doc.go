// Package refresh coordinates credential refresh for concurrent requests.
//
// A Coordinator guarantees that at most one Invoker.Refresh call is in flight.
// Every request that discovers an expired credential while a refresh is
// running joins it as a waiter and receives the same result, in the order it
// joined. When a refresh fails the session is invalidated exactly once for the
// cycle, before any waiter is released.
package refresh
