// ABOUTME: Message append, ordered retrieval, read transitions, and the
// ABOUTME: single-transaction send and mark-read units used by the service

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendMessage validates and appends a message to a conversation. The
// timestamp and sequence number are assigned by the store; Read starts false.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, sender, text string) (*Message, error) {
	var msg *Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = appendMessageTx(ctx, tx, conversationID, sender, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// appendMessageTx is the shared insert path for AppendMessage and SendTx.
// It verifies the conversation exists and the sender is a participant.
func appendMessageTx(ctx context.Context, tx *sql.Tx, conversationID, sender, text string) (*Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := getConversationTx(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(sender) {
		return nil, ErrForbiddenSender
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           trimmed,
		CreatedAt:      time.Now().UTC(),
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, text, created_at, read)
		VALUES (?, ?, ?, ?, ?, 0)
	`, msg.ID, msg.ConversationID, msg.Sender, msg.Text, nanos(msg.CreatedAt))
	if err != nil {
		return nil, wrapDBError("inserting message", err)
	}
	msg.Seq, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message seq: %w", err)
	}
	return msg, nil
}

func getConversationTx(ctx context.Context, tx *sql.Tx, id string) (*Conversation, error) {
	var conv Conversation
	var updatedAt, createdAt int64
	err := tx.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ?
	`, id).Scan(
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

// ListMessages returns every message in a conversation in append order:
// ascending timestamp, ties broken by insertion sequence.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, conversation_id, sender, text, created_at, read
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, wrapDBError("querying messages", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListMessagesPage returns up to limit messages after the given opaque
// cursor (empty cursor starts at the beginning). The returned cursor is
// empty when no further pages exist.
func (s *SQLiteStore) ListMessagesPage(ctx context.Context, conversationID string, limit int, cursor string) ([]*Message, string, error) {
	if limit <= 0 {
		limit = 50
	}
	afterSeq, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, conversation_id, sender, text, created_at, read
		FROM messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY created_at ASC, seq ASC
		LIMIT ?
	`, conversationID, afterSeq, limit+1)
	if err != nil {
		return nil, "", wrapDBError("querying messages", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, "", err
	}
	if len(msgs) <= limit {
		return msgs, "", nil
	}
	msgs = msgs[:limit]
	return msgs, encodeCursor(msgs[len(msgs)-1].Seq), nil
}

// MarkMessagesRead flips every unread message not sent by readerID to read
// and returns how many transitioned. A second call returns zero.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		count, err = markReadTx(ctx, tx, conversationID, readerID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func markReadTx(ctx context.Context, tx *sql.Tx, conversationID, readerID string) (int, error) {
	if _, err := getConversationTx(ctx, tx, conversationID); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET read = 1
		WHERE conversation_id = ? AND sender != ? AND read = 0
	`, conversationID, readerID)
	if err != nil {
		return 0, wrapDBError("marking messages read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// SendTx appends a message, updates the conversation preview, and increments
// the recipient's unread counter as one transaction. Either every side
// effect applies or none do.
func (s *SQLiteStore) SendTx(ctx context.Context, conversationID, sender, text string) (*Message, error) {
	var msg *Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = appendMessageTx(ctx, tx, conversationID, sender, text)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations
			SET last_message_text = ?, last_updated_at = MAX(last_updated_at, ?)
			WHERE id = ?
		`, msg.Text, nanos(msg.CreatedAt), conversationID)
		if err != nil {
			return wrapDBError("recording message", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversation_unread
			SET count = count + 1
			WHERE conversation_id = ? AND participant_id != ?
		`, conversationID, sender)
		if err != nil {
			return wrapDBError("incrementing unread", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("message sent", "conversation_id", conversationID, "message_id", msg.ID, "sender", sender)
	return msg, nil
}

// MarkReadTx flips unread messages and resets the reader's counter as one
// transaction. Returns how many messages transitioned.
func (s *SQLiteStore) MarkReadTx(ctx context.Context, conversationID, readerID string) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		count, err = markReadTx(ctx, tx, conversationID, readerID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE conversation_unread
			SET count = 0
			WHERE conversation_id = ? AND participant_id = ?
		`, conversationID, readerID)
		if err != nil {
			return wrapDBError("resetting unread", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var msg Message
		var createdAt int64
		var read int
		err := rows.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.Sender, &msg.Text, &createdAt, &read)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt = fromNanos(createdAt)
		msg.Read = read != 0
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// encodeCursor wraps a message sequence number in an opaque pagination token.
func encodeCursor(seq int64) string {
	return base64.URLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return seq, nil
}
