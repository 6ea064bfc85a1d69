// ABOUTME: Conversation CRUD and per-participant unread counter operations
// ABOUTME: Unread counters are mutated only with atomic SQL arithmetic

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const conversationColumns = `id, participant_lo, participant_hi, last_message_text, last_updated_at, created_at`

// CreateConversation creates a 1:1 conversation between a and b with both
// unread counters initialized to zero. The participant pair is stored in
// canonical order; a second create for the same pair (in either order)
// returns ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("participant ids are required")
	}
	if a == b {
		return nil, ErrSameParticipant
	}

	lo, hi := canonicalPair(a, b)
	now := time.Now().UTC()
	conv := &Conversation{
		ID:            uuid.New().String(),
		ParticipantLo: lo,
		ParticipantHi: hi,
		LastUpdatedAt: now,
		CreatedAt:     now,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, participant_lo, participant_hi, last_message_text, last_updated_at, created_at)
			VALUES (?, ?, ?, '', ?, ?)
		`, conv.ID, conv.ParticipantLo, conv.ParticipantHi, nanos(conv.LastUpdatedAt), nanos(conv.CreatedAt))
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicateConversation
			}
			return wrapDBError("inserting conversation", err)
		}

		for _, participant := range conv.Participants() {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO conversation_unread (conversation_id, participant_id, count)
				VALUES (?, ?, 0)
			`, conv.ID, participant)
			if err != nil {
				return wrapDBError("inserting unread counter", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("created conversation", "id", conv.ID, "lo", lo, "hi", hi)
	return conv, nil
}

// GetConversation returns the conversation with the given id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ?
	`, id)
	return scanConversation(row)
}

// FindConversationByParticipants looks up the conversation for a pair of
// participants, in either order. Returns ErrNotFound if none exists.
func (s *SQLiteStore) FindConversationByParticipants(ctx context.Context, a, b string) (*Conversation, error) {
	lo, hi := canonicalPair(a, b)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_lo = ? AND participant_hi = ?
	`, lo, hi)
	return scanConversation(row)
}

// ListConversationsForParticipant returns every conversation the user takes
// part in, most recently updated first, each joined with that user's unread
// count.
func (s *SQLiteStore) ListConversationsForParticipant(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.participant_lo, c.participant_hi, c.last_message_text, c.last_updated_at, c.created_at,
		       COALESCE(u.count, 0)
		FROM conversations c
		LEFT JOIN conversation_unread u
			ON u.conversation_id = c.id AND u.participant_id = ?
		WHERE c.participant_lo = ? OR c.participant_hi = ?
		ORDER BY c.last_updated_at DESC, c.id
	`, userID, userID, userID)
	if err != nil {
		return nil, wrapDBError("querying conversations", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var summary ConversationSummary
		var updatedAt, createdAt int64
		err := rows.Scan(
			&summary.Conversation.ID,
			&summary.Conversation.ParticipantLo,
			&summary.Conversation.ParticipantHi,
			&summary.Conversation.LastMessageText,
			&updatedAt,
			&createdAt,
			&summary.Unread,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		summary.Conversation.LastUpdatedAt = fromNanos(updatedAt)
		summary.Conversation.CreatedAt = fromNanos(createdAt)
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

// RecordMessage updates the conversation's last message preview and bump
// time. last_updated_at never moves backwards, so a delayed write cannot
// reorder the conversation list.
func (s *SQLiteStore) RecordMessage(ctx context.Context, conversationID, text string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_text = ?, last_updated_at = MAX(last_updated_at, ?)
		WHERE id = ?
	`, text, nanos(at), conversationID)
	if err != nil {
		return wrapDBError("recording message", err)
	}
	return requireRow(res, "conversation")
}

// IncrementUnread adds one to a participant's unread counter. The increment
// happens inside the database, so concurrent senders cannot lose updates.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, conversationID, participantID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversation_unread
		SET count = count + 1
		WHERE conversation_id = ? AND participant_id = ?
	`, conversationID, participantID)
	if err != nil {
		return wrapDBError("incrementing unread", err)
	}
	return requireRow(res, "unread counter")
}

// ResetUnread sets a participant's unread counter back to zero. Idempotent.
func (s *SQLiteStore) ResetUnread(ctx context.Context, conversationID, participantID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversation_unread
		SET count = 0
		WHERE conversation_id = ? AND participant_id = ?
	`, conversationID, participantID)
	if err != nil {
		return wrapDBError("resetting unread", err)
	}
	return requireRow(res, "unread counter")
}

// GetUnread returns a participant's current unread count.
func (s *SQLiteStore) GetUnread(ctx context.Context, conversationID, participantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM conversation_unread
		WHERE conversation_id = ? AND participant_id = ?
	`, conversationID, participantID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, wrapDBError("querying unread", err)
	}
	return count, nil
}

// requireRow converts a zero-rows-affected UPDATE into ErrNotFound.
func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var updatedAt, createdAt int64
	err := row.Scan(
		&conv.ID,
		&conv.ParticipantLo,
		&conv.ParticipantHi,
		&conv.LastMessageText,
		&updatedAt,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("querying conversation", err)
	}
	conv.LastUpdatedAt = fromNanos(updatedAt)
	conv.CreatedAt = fromNanos(createdAt)
	return &conv, nil
}
