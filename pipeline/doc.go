// Package pipeline sends authenticated requests, refreshing the credential on
// 401 and retrying transient failures per a policy.RetryPolicy.
//
// Each call moves through Sending, then Succeeded, AwaitingRefresh, Retrying or
// Failed. AwaitingRefresh and Retrying lead back to Sending. A request is
// replayed at most once after a refresh; a second 401 fails it.
package pipeline
