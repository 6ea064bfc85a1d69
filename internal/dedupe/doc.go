// Package dedupe provides send deduplication using a time-based cache
// keyed by client message id, so a retried send returns the original
// result instead of appending a duplicate message.
package dedupe
