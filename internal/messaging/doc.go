// Package messaging is the conversation core: it orchestrates persistence,
// send deduplication, and real-time fan-out for 1:1 direct messages.
//
// # Service
//
// The Service coordinates every use case:
//
//	svc := messaging.New(store, directory, notifier, sends, logger)
//
// Key operations:
//
//   - FindOrStartConversation(ctx, selfID, other): race-free find-or-create
//   - Send(ctx, convID, senderID, text, clientMsgID): transactional send
//   - MarkAsRead(ctx, convID, readerID): flip read flags, reset unread
//   - ListConversations / OpenConversation: live views
//   - SearchUsers(ctx, selfID, prefix): directory search, self excluded
//
// # Atomic Units
//
// A send has three side effects: the appended message, the conversation's
// last-message preview, and the recipient's unread increment. They commit
// as one store transaction; a reader can never observe a message whose
// counters were not updated. Mark-as-read pairs the read-flag flips with
// the counter reset the same way.
//
// # Live Views
//
// The Notifier implements publish/subscribe over query snapshots. A
// subscription is keyed by (entity kind, predicate) — one participant's
// conversation list, or one conversation's message feed. On every affecting
// mutation the notifier recomputes the full ordered result from the store
// and pushes it to each subscriber. Delivery is latest-wins per subscriber:
// a slow client may skip intermediate snapshots but never sees state move
// backwards. Cancellation handles are first-class and idempotent.
//
// # Retry Policy
//
// Mark-as-read is idempotent and retried once on a transient store failure.
// Send is not retried internally; clients retry with the same client
// message id, and the dedupe cache returns the original message instead of
// appending a duplicate.
package messaging
