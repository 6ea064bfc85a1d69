// ABOUTME: User directory persistence for server-side display-name resolution
// ABOUTME: Users are mirrored from the external identity service, never authored here

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser inserts or refreshes a user profile mirrored from the identity
// service. Empty incoming fields never overwrite a stored value, so a
// conversation start that carries only an id cannot wipe a known name.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name  = CASE WHEN excluded.name  = '' THEN users.name  ELSE excluded.name  END,
			email = CASE WHEN excluded.email = '' THEN users.email ELSE excluded.email END
	`, user.ID, user.Name, user.Email, nanos(createdAt))
	if err != nil {
		return wrapDBError("upserting user", err)
	}
	return nil
}

// EnsureUser inserts a user row only when none exists yet. An existing
// profile is never touched: updates flow exclusively from verified identity
// tokens, so caller-supplied profiles cannot rewrite another user's name.
func (s *SQLiteStore) EnsureUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, user.ID, user.Name, user.Email, nanos(createdAt))
	if err != nil {
		return wrapDBError("ensuring user", err)
	}
	return nil
}

// GetUser returns the user with the given id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Name, &user.Email, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("querying user", err)
	}
	user.CreatedAt = fromNanos(createdAt)
	return &user, nil
}

// SearchUsersByNamePrefix returns users whose name starts with prefix,
// case-sensitive, ordered by name then id. A range scan on the (name, id)
// index keeps the comparison byte-wise, unlike LIKE which folds ASCII case.
func (s *SQLiteStore) SearchUsersByNamePrefix(ctx context.Context, prefix string, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 20
	}
	upper := prefix + "￿"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, created_at
		FROM users
		WHERE name >= ? AND name < ?
		ORDER BY name, id
		LIMIT ?
	`, prefix, upper, limit)
	if err != nil {
		return nil, wrapDBError("searching users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		var createdAt int64
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		user.CreatedAt = fromNanos(createdAt)
		users = append(users, &user)
	}
	return users, rows.Err()
}
