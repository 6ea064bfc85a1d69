// ABOUTME: Package documentation for the HTTP API layer
// ABOUTME: Describes authentication, streaming endpoints and error mapping

// Package api exposes the messaging service over HTTP.
//
// All /api routes require a Bearer identity token. The conversation list and
// the per-conversation message feed are served as Server-Sent Event streams:
// every event carries a complete ordered snapshot, so clients replace their
// view wholesale instead of patching it.
//
// Domain errors map to statuses as follows: validation failures return 400,
// non-participant access returns 403, unknown entities return 404, and a busy
// database returns 503. Error bodies are {"error": "..."} JSON.
package api
