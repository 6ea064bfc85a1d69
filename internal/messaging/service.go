// ABOUTME: Messaging service orchestrating stores, dedupe, and notifier fan-out
// ABOUTME: All sends, reads, and conversation starts flow through here

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gearshare/courier/internal/dedupe"
	"github.com/gearshare/courier/internal/store"
)

// ErrSelfConversation is returned when a user tries to start a conversation
// with themselves.
var ErrSelfConversation = errors.New("cannot start a conversation with yourself")

// Store defines what the service needs from persistence
type Store interface {
	CreateConversation(ctx context.Context, a, b string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	FindConversationByParticipants(ctx context.Context, a, b string) (*store.Conversation, error)
	ListConversationsForParticipant(ctx context.Context, userID string) ([]*store.ConversationSummary, error)

	SendTx(ctx context.Context, conversationID, sender, text string) (*store.Message, error)
	MarkReadTx(ctx context.Context, conversationID, readerID string) (int, error)
	GetUnread(ctx context.Context, conversationID, participantID string) (int, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	ListMessagesPage(ctx context.Context, conversationID string, limit int, cursor string) ([]*store.Message, string, error)

	EnsureUser(ctx context.Context, user *store.User) error
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Directory is the external identity collaborator's search surface.
type Directory interface {
	SearchByNamePrefix(ctx context.Context, prefix string, limit int) ([]*store.User, error)
}

const (
	// searchLimit caps directory search results
	searchLimit = 20
	// retryDelay is the pause before the single retry of an idempotent
	// operation that hit a transient store failure
	retryDelay = 100 * time.Millisecond
)

// Service is the messaging core: it composes the store, the dedupe cache,
// and the notifier to implement find-or-start, send, mark-as-read, and the
// live conversation and message views.
type Service struct {
	store     Store
	directory Directory
	notifier  *Notifier
	sends     *dedupe.Cache
	logger    *slog.Logger
}

// New creates the messaging service. notifier must be built over the same
// store so published snapshots reflect committed state.
func New(st Store, directory Directory, notifier *Notifier, sends *dedupe.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		directory: directory,
		notifier:  notifier,
		sends:     sends,
		logger:    logger.With("component", "messaging"),
	}
}

// FindOrStartConversation returns the conversation between selfID and the
// other user, creating it when absent. When the other user is unknown, the
// supplied profile seeds their directory row so display names resolve
// server-side; an existing profile is never modified here, since the fields
// are caller-supplied and only verified tokens may update a profile.
//
// Find-before-create alone would let two near-simultaneous starts from both
// sides create two conversations for the same pair; the create is backed by
// a unique index on the canonical participant pair, and a duplicate error
// resolves to a fresh lookup.
func (s *Service) FindOrStartConversation(ctx context.Context, selfID string, other *store.User) (*store.Conversation, error) {
	if other == nil || other.ID == "" {
		return nil, fmt.Errorf("other user is required")
	}
	if other.ID == selfID {
		return nil, ErrSelfConversation
	}

	if err := s.store.EnsureUser(ctx, other); err != nil {
		return nil, fmt.Errorf("seeding user profile: %w", err)
	}

	conv, err := s.store.FindConversationByParticipants(ctx, selfID, other.ID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}

	conv, err = s.store.CreateConversation(ctx, selfID, other.ID)
	if errors.Is(err, store.ErrDuplicateConversation) {
		// The other participant created it between our lookup and insert
		conv, err = s.store.FindConversationByParticipants(ctx, selfID, other.ID)
		if err != nil {
			return nil, fmt.Errorf("lookup after duplicate: %w", err)
		}
		s.logger.Debug("found existing conversation after race", "conversation_id", conv.ID)
		return conv, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("conversation started", "conversation_id", conv.ID, "self", selfID, "other", other.ID)
	s.notifier.Publish(ctx, ConversationsOf(selfID))
	s.notifier.Publish(ctx, ConversationsOf(other.ID))
	return conv, nil
}

// Send appends a message and applies its side effects (conversation preview
// bump, recipient unread increment) as one transaction, then fans the new
// state out to both participants' live views.
//
// clientMsgID, when non-empty, deduplicates retries: a second send carrying
// the same id from the same sender returns the originally appended message
// without appending again. Send itself is never retried internally — a
// transient failure surfaces to the caller.
func (s *Service) Send(ctx context.Context, conversationID, senderID, text, clientMsgID string) (*store.Message, error) {
	dedupeKey := ""
	if clientMsgID != "" {
		dedupeKey = senderID + ":" + conversationID + ":" + clientMsgID
		if cached, ok := s.sends.Lookup(dedupeKey); ok {
			if msg, ok := cached.(*store.Message); ok {
				s.logger.Debug("duplicate send suppressed", "conversation_id", conversationID, "client_msg_id", clientMsgID)
				return msg, nil
			}
		}
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.SendTx(ctx, conversationID, senderID, text)
	if err != nil {
		return nil, err
	}

	if dedupeKey != "" {
		s.sends.Remember(dedupeKey, msg)
	}

	s.notifier.Publish(ctx, MessagesIn(conversationID))
	for _, participant := range conv.Participants() {
		s.notifier.Publish(ctx, ConversationsOf(participant))
	}
	return msg, nil
}

// MarkAsRead transitions every message from the other participant to read
// and resets the reader's unread counter, as one transaction. Idempotent,
// so a transient store failure is retried once before surfacing.
func (s *Service) MarkAsRead(ctx context.Context, conversationID, readerID string) error {
	count, err := s.store.MarkReadTx(ctx, conversationID, readerID)
	if errors.Is(err, store.ErrUnavailable) {
		s.logger.Warn("mark-as-read hit transient failure, retrying", "conversation_id", conversationID, "error", err)
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		count, err = s.store.MarkReadTx(ctx, conversationID, readerID)
	}
	if err != nil {
		return err
	}

	if count > 0 {
		s.notifier.Publish(ctx, MessagesIn(conversationID))
	}
	s.notifier.Publish(ctx, ConversationsOf(readerID))
	return nil
}

// ListConversations returns the caller's conversation list with unread
// badges as a live view: the current snapshot plus a subscription that
// receives a fresh snapshot after every affecting mutation.
func (s *Service) ListConversations(ctx context.Context, userID string) (Snapshot, *Subscription, error) {
	return s.notifier.Subscribe(ctx, ConversationsOf(userID))
}

// OpenConversation returns a conversation's ordered message feed as a live
// view. The caller must be a participant.
func (s *Service) OpenConversation(ctx context.Context, conversationID, userID string) (Snapshot, *Subscription, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Snapshot{}, nil, err
	}
	if !conv.HasParticipant(userID) {
		return Snapshot{}, nil, store.ErrForbiddenSender
	}
	return s.notifier.Subscribe(ctx, MessagesIn(conversationID))
}

// History returns one page of a conversation's messages for non-live
// consumers. The caller must be a participant.
func (s *Service) History(ctx context.Context, conversationID, userID string, limit int, cursor string) ([]*store.Message, string, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}
	if !conv.HasParticipant(userID) {
		return nil, "", store.ErrForbiddenSender
	}
	return s.store.ListMessagesPage(ctx, conversationID, limit, cursor)
}

// SearchUsers finds users whose name starts with prefix, excluding the
// requesting user. Matching is case-sensitive; equal names order by id.
func (s *Service) SearchUsers(ctx context.Context, selfID, prefix string) ([]*store.User, error) {
	users, err := s.directory.SearchByNamePrefix(ctx, prefix, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("directory search: %w", err)
	}

	results := users[:0]
	for _, user := range users {
		if user.ID != selfID {
			results = append(results, user)
		}
	}
	return results, nil
}

// GetUser resolves a user profile by id.
func (s *Service) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.store.GetUser(ctx, id)
}

// UnreadCount returns userID's current unread count for a conversation.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	return s.store.GetUnread(ctx, conversationID, userID)
}
