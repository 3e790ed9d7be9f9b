// Package inbound is the admission point for HTTP-triggered tasks.
//
// A request is authorized, rate limited, resolved against the active
// manifest and claimed by trace id before it is either queued (async routes)
// or executed in-line (sync routes). Rejections at any of those steps never
// reach the queue or the idempotency store.
package inbound
