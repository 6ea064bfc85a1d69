// Package store provides persistent storage for courier using SQLite.
//
// # Data Models
//
//   - User: minimal profile mirrored from the external identity service
//   - Conversation: a 1:1 channel keyed by a canonical participant pair
//   - Message: immutable text events in append order; only the Read flag mutates
//
// Unread counts live in their own table, one row per (conversation,
// participant), and are only ever changed with in-database arithmetic
// (count = count + 1, count = 0). Two clients messaging the same recipient
// at the same instant therefore cannot lose an increment.
//
// # Atomic Units
//
// The service-facing SendTx and MarkReadTx methods wrap the multi-record
// mutations of a send (append + preview update + unread increment) and a
// read (flip read flags + reset counter) in single SQLite transactions, so
// no reader can observe a partially applied send.
//
// # Ordering
//
// Messages carry both a server-assigned timestamp and an AUTOINCREMENT
// sequence number. Retrieval orders by (created_at, seq), which equals
// append order even when two messages share a timestamp. Conversation lists
// order by last_updated_at, which is clamped to never move backwards.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Busy/locked driver errors are surfaced as ErrUnavailable so callers can
// distinguish transient failures from validation failures.
package store
