// ABOUTME: Tests for the user directory
// ABOUTME: Covers upsert semantics and case-sensitive prefix search

package store

import (
	"context"
	"errors"
	"testing"
)

func TestUpsertAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &User{ID: "u1", Name: "Alice", Email: "alice@example.com"}
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Name != "Alice" || got.Email != "alice@example.com" {
		t.Errorf("unexpected user: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not assigned")
	}

	// Upsert refreshes the profile but keeps the creation time
	if err := s.UpsertUser(ctx, &User{ID: "u1", Name: "Alicia", Email: "alicia@example.com"}); err != nil {
		t.Fatalf("second UpsertUser failed: %v", err)
	}
	updated, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if updated.Name != "Alicia" {
		t.Errorf("name not refreshed: %q", updated.Name)
	}
	if !updated.CreatedAt.Equal(got.CreatedAt) {
		t.Errorf("CreatedAt changed on upsert: %v -> %v", got.CreatedAt, updated.CreatedAt)
	}
}

func TestUpsertUser_EmptyFieldsPreserved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, &User{ID: "u1", Name: "Alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	// An id-only mirror (as sent by a conversation start) keeps the profile
	if err := s.UpsertUser(ctx, &User{ID: "u1"}); err != nil {
		t.Fatalf("id-only UpsertUser failed: %v", err)
	}
	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Name != "Alice" || got.Email != "alice@example.com" {
		t.Errorf("blank upsert wiped profile: %+v", got)
	}
}

func TestEnsureUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Inserts when the user is unknown
	if err := s.EnsureUser(ctx, &User{ID: "u1", Name: "Alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Name != "Alice" {
		t.Errorf("unexpected user: %+v", got)
	}

	// Never touches an existing profile, even with non-empty fields
	if err := s.EnsureUser(ctx, &User{ID: "u1", Name: "Mallory", Email: "mallory@evil.example"}); err != nil {
		t.Fatalf("second EnsureUser failed: %v", err)
	}
	got, err = s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Name != "Alice" || got.Email != "alice@example.com" {
		t.Errorf("EnsureUser modified existing profile: %+v", got)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchUsersByNamePrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []*User{
		{ID: "u1", Name: "Alice", Email: "alice@example.com"},
		{ID: "u2", Name: "Albert", Email: "albert@example.com"},
		{ID: "u3", Name: "alfred", Email: "alfred@example.com"},
		{ID: "u4", Name: "Bob", Email: "bob@example.com"},
	}
	for _, u := range seed {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser(%s) failed: %v", u.ID, err)
		}
	}

	// Case-sensitive: "Al" matches Alice and Albert but not "alfred"
	results, err := s.SearchUsersByNamePrefix(ctx, "Al", 10)
	if err != nil {
		t.Fatalf("SearchUsersByNamePrefix failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Name != "Albert" || results[1].Name != "Alice" {
		t.Errorf("results not ordered by name: %q, %q", results[0].Name, results[1].Name)
	}

	results, err = s.SearchUsersByNamePrefix(ctx, "al", 10)
	if err != nil {
		t.Fatalf("SearchUsersByNamePrefix failed: %v", err)
	}
	if len(results) != 1 || results[0].Name != "alfred" {
		t.Errorf("lowercase prefix: got %+v", results)
	}

	results, err = s.SearchUsersByNamePrefix(ctx, "Z", 10)
	if err != nil {
		t.Fatalf("SearchUsersByNamePrefix failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no matches, got %d", len(results))
	}
}

func TestSearchUsersByNamePrefix_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, u := range []*User{
		{ID: "u1", Name: "Sam", Email: "s1@example.com"},
		{ID: "u2", Name: "Samantha", Email: "s2@example.com"},
		{ID: "u3", Name: "Samuel", Email: "s3@example.com"},
	} {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}
	}

	results, err := s.SearchUsersByNamePrefix(ctx, "Sam", 2)
	if err != nil {
		t.Fatalf("SearchUsersByNamePrefix failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("limit not applied: got %d results", len(results))
	}
}
