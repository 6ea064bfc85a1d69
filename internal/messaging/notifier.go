// ABOUTME: Snapshot-based fan-out notifier for live conversation and message views
// ABOUTME: Publishes full ordered result snapshots to all subscribers of a query

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gearshare/courier/internal/store"
)

// EntityKind identifies which live view a query subscribes to.
type EntityKind string

const (
	// KindConversations is the conversation list of one participant.
	KindConversations EntityKind = "conversations"
	// KindMessages is the ordered message feed of one conversation.
	KindMessages EntityKind = "messages"
)

// Query keys a subscription: the entity kind plus its predicate value
// (participant id for conversation lists, conversation id for message feeds).
type Query struct {
	Kind EntityKind
	Key  string
}

// ConversationsOf is the live conversation list of a participant.
func ConversationsOf(userID string) Query {
	return Query{Kind: KindConversations, Key: userID}
}

// MessagesIn is the live message feed of a conversation.
func MessagesIn(conversationID string) Query {
	return Query{Kind: KindMessages, Key: conversationID}
}

// Snapshot is a full, ordered result set for a query at one point in time.
// Exactly one of Conversations or Messages is populated, matching the query
// kind. Version increases with every publish of the same query, so a
// subscriber can assert it never observes time moving backwards.
type Snapshot struct {
	Query         Query
	Version       uint64
	Conversations []*store.ConversationSummary
	Messages      []*store.Message
}

// SnapshotSource recomputes query results from the source of truth.
// *store.SQLiteStore satisfies it.
type SnapshotSource interface {
	ListConversationsForParticipant(ctx context.Context, userID string) ([]*store.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
}

// Subscription is the cancellation handle for a live query. Cancel is safe
// to call any number of times and from any goroutine; after the first call
// no further snapshots are delivered.
type Subscription struct {
	query Query
	id    string
	ch    chan Snapshot
	once  sync.Once
	stop  func()
}

// Updates returns the channel snapshots are delivered on. The channel is
// closed when the subscription is cancelled.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.ch
}

// Cancel tears the subscription down. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(s.stop)
}

// Notifier keeps every connected client's view of conversations and messages
// current without polling. Each mutation triggers a recompute of the affected
// query and a push of the complete ordered snapshot to all subscribers.
//
// Delivery per subscriber is latest-wins: a slow consumer may skip
// intermediate snapshots, but never receives one older than the last it saw.
type Notifier struct {
	mu       sync.RWMutex
	source   SnapshotSource
	logger   *slog.Logger
	subs     map[Query]map[string]*Subscription
	versions map[Query]uint64
	closed   bool

	// serializes recompute+deliver so versions stay ordered per query
	publishMu sync.Mutex
}

// NewNotifier creates a notifier over the given source. Pass nil logger for
// the default.
func NewNotifier(source SnapshotSource, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		source:   source,
		logger:   logger.With("component", "notifier"),
		subs:     make(map[Query]map[string]*Subscription),
		versions: make(map[Query]uint64),
	}
}

// Subscribe registers a subscriber for the query and returns the initial
// snapshot together with the cancellation handle. The subscription is also
// cleaned up when ctx is cancelled.
func (n *Notifier) Subscribe(ctx context.Context, query Query) (Snapshot, *Subscription, error) {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	snap, err := n.compute(ctx, query)
	if err != nil {
		return Snapshot{}, nil, err
	}

	subID := uuid.New().String()
	sub := &Subscription{
		query: query,
		id:    subID,
		ch:    make(chan Snapshot, 1),
	}
	sub.stop = func() { n.remove(query, subID) }

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(sub.ch)
		return snap, sub, nil
	}
	if _, ok := n.subs[query]; !ok {
		n.subs[query] = make(map[string]*Subscription)
	}
	n.subs[query][subID] = sub
	n.mu.Unlock()

	n.logger.Debug("subscriber added", "kind", query.Kind, "key", query.Key, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		sub.Cancel()
	}()

	return snap, sub, nil
}

// Publish recomputes the query's result set and pushes the snapshot to every
// subscriber. Subscribers that have not consumed the previous snapshot get
// it replaced with the newer one.
func (n *Notifier) Publish(ctx context.Context, query Query) {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	n.mu.RLock()
	subs, ok := n.subs[query]
	if !ok || len(subs) == 0 {
		n.mu.RUnlock()
		return
	}
	targets := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	n.mu.RUnlock()

	snap, err := n.compute(ctx, query)
	if err != nil {
		n.logger.Error("snapshot recompute failed", "kind", query.Kind, "key", query.Key, "error", err)
		return
	}

	for _, sub := range targets {
		deliverLatest(sub.ch, snap)
	}
}

// deliverLatest places the snapshot in the subscriber's one-slot buffer,
// displacing an unconsumed older snapshot if present.
func deliverLatest(ch chan Snapshot, snap Snapshot) {
	defer func() {
		// The channel may close concurrently with a cancel; a snapshot for
		// a dead subscription is dropped.
		recover()
	}()
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// compute builds the ordered snapshot for a query and bumps its version.
// Callers hold publishMu.
func (n *Notifier) compute(ctx context.Context, query Query) (Snapshot, error) {
	snap := Snapshot{Query: query}
	switch query.Kind {
	case KindConversations:
		conversations, err := n.source.ListConversationsForParticipant(ctx, query.Key)
		if err != nil {
			return Snapshot{}, fmt.Errorf("listing conversations: %w", err)
		}
		snap.Conversations = conversations
	case KindMessages:
		messages, err := n.source.ListMessages(ctx, query.Key)
		if err != nil {
			return Snapshot{}, fmt.Errorf("listing messages: %w", err)
		}
		snap.Messages = messages
	default:
		return Snapshot{}, fmt.Errorf("unknown query kind %q", query.Kind)
	}

	n.versions[query]++
	snap.Version = n.versions[query]
	return snap, nil
}

// remove drops a subscription and closes its channel.
func (n *Notifier) remove(query Query, subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.subs[query]
	if !ok {
		return
	}
	sub, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(sub.ch)

	if len(subs) == 0 {
		delete(n.subs, query)
	}

	n.logger.Debug("subscriber removed", "kind", query.Kind, "key", query.Key, "sub_id", subID)
}

// Close shuts down the notifier and cancels every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for query, subs := range n.subs {
		for subID, sub := range subs {
			close(sub.ch)
			delete(subs, subID)
		}
		delete(n.subs, query)
	}
	n.closed = true

	n.logger.Debug("notifier closed")
}
