// ABOUTME: Data types and sentinel errors for courier persistence
// ABOUTME: Defines User, Conversation, Message structs shared by all store operations

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists
// for the same participant pair
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrSameParticipant is returned when both participants of a conversation
// would be the same user
var ErrSameParticipant = errors.New("participants must be distinct")

// ErrEmptyMessage is returned when a message text is empty after trimming
var ErrEmptyMessage = errors.New("message text is empty")

// ErrForbiddenSender is returned when the sender is not a participant of
// the target conversation
var ErrForbiddenSender = errors.New("sender is not a conversation participant")

// ErrUnavailable is returned when the underlying database cannot serve the
// request right now (locked/busy). Callers may retry idempotent operations.
var ErrUnavailable = errors.New("store unavailable")

// ErrInvalidCursor is returned when a pagination cursor cannot be decoded
var ErrInvalidCursor = errors.New("invalid cursor")

// User is the minimal profile courier keeps for display-name resolution.
// Identity lifecycle (credentials, sign-in) is owned by the external auth
// service; courier only mirrors id, name and email.
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Conversation is a 1:1 channel between two users. The participant pair is
// stored in lexicographic order so the UNIQUE index on (participant_lo,
// participant_hi) makes find-or-create race-free.
type Conversation struct {
	ID              string
	ParticipantLo   string
	ParticipantHi   string
	LastMessageText string
	LastUpdatedAt   time.Time
	CreatedAt       time.Time
}

// Participants returns both participant ids, lo first.
func (c *Conversation) Participants() [2]string {
	return [2]string{c.ParticipantLo, c.ParticipantHi}
}

// HasParticipant reports whether id is one of the two participants.
func (c *Conversation) HasParticipant(id string) bool {
	return id == c.ParticipantLo || id == c.ParticipantHi
}

// OtherParticipant returns the participant that is not id. The second return
// is false when id is not a participant at all.
func (c *Conversation) OtherParticipant(id string) (string, bool) {
	switch id {
	case c.ParticipantLo:
		return c.ParticipantHi, true
	case c.ParticipantHi:
		return c.ParticipantLo, true
	}
	return "", false
}

// ConversationSummary is a conversation joined with the unread count of one
// participant, as shown in that participant's conversation list.
type ConversationSummary struct {
	Conversation Conversation
	Unread       int
}

// Message is a single message within a conversation. Messages are immutable
// except for the Read flag, which only ever transitions false -> true.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Text           string
	CreatedAt      time.Time
	Seq            int64
	Read           bool
}

// canonicalPair orders two participant ids lexicographically.
func canonicalPair(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}
