// ABOUTME: Tests for conversation CRUD and unread counter operations
// ABOUTME: Covers canonical pair uniqueness, list ordering, and atomic counters

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	// Pair is stored in canonical order regardless of argument order
	if conv.ParticipantLo != "u1" || conv.ParticipantHi != "u2" {
		t.Errorf("participants not canonical: lo=%q hi=%q", conv.ParticipantLo, conv.ParticipantHi)
	}
	if conv.LastMessageText != "" {
		t.Errorf("expected empty last message, got %q", conv.LastMessageText)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.ParticipantLo != "u1" || got.ParticipantHi != "u2" {
		t.Errorf("round-trip participants mismatch: lo=%q hi=%q", got.ParticipantLo, got.ParticipantHi)
	}

	// Both unread counters start at zero
	for _, p := range []string{"u1", "u2"} {
		count, err := s.GetUnread(ctx, conv.ID, p)
		if err != nil {
			t.Fatalf("GetUnread(%s) failed: %v", p, err)
		}
		if count != 0 {
			t.Errorf("unread[%s] = %d, want 0", p, count)
		}
	}
}

func TestCreateConversation_SameParticipant(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateConversation(context.Background(), "u1", "u1")
	if !errors.Is(err, ErrSameParticipant) {
		t.Errorf("expected ErrSameParticipant, got %v", err)
	}
}

func TestCreateConversation_EmptyParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, pair := range [][2]string{{"", "u2"}, {"u1", ""}, {"", ""}} {
		_, err := s.CreateConversation(ctx, pair[0], pair[1])
		if err == nil {
			t.Fatalf("CreateConversation(%q, %q): expected error", pair[0], pair[1])
		}
		// A missing id is a different failure than a self-conversation
		if errors.Is(err, ErrSameParticipant) {
			t.Errorf("CreateConversation(%q, %q): got ErrSameParticipant", pair[0], pair[1])
		}
	}
}

func TestCreateConversation_DuplicatePair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, "u1", "u2"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	// Duplicate in either argument order is rejected
	_, err := s.CreateConversation(ctx, "u1", "u2")
	if !errors.Is(err, ErrDuplicateConversation) {
		t.Errorf("same order: expected ErrDuplicateConversation, got %v", err)
	}
	_, err = s.CreateConversation(ctx, "u2", "u1")
	if !errors.Is(err, ErrDuplicateConversation) {
		t.Errorf("swapped order: expected ErrDuplicateConversation, got %v", err)
	}
}

func TestFindConversationByParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	found, err := s.FindConversationByParticipants(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("FindConversationByParticipants failed: %v", err)
	}
	if found.ID != conv.ID {
		t.Errorf("found ID %q, want %q", found.ID, conv.ID)
	}

	_, err = s.FindConversationByParticipants(ctx, "u1", "u3")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversationsForParticipant_Ordering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	second, err := s.CreateConversation(ctx, "u1", "u3")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	// Bump the older conversation, it should rise to the top
	if err := s.RecordMessage(ctx, first.ID, "ping", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}

	summaries, err := s.ListConversationsForParticipant(ctx, "u1")
	if err != nil {
		t.Fatalf("ListConversationsForParticipant failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d conversations, want 2", len(summaries))
	}
	if summaries[0].Conversation.ID != first.ID {
		t.Errorf("most recently updated conversation not first: got %q", summaries[0].Conversation.ID)
	}
	if summaries[1].Conversation.ID != second.ID {
		t.Errorf("stale conversation not second: got %q", summaries[1].Conversation.ID)
	}

	// u3 sees only its own conversation
	summaries, err = s.ListConversationsForParticipant(ctx, "u3")
	if err != nil {
		t.Fatalf("ListConversationsForParticipant(u3) failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Conversation.ID != second.ID {
		t.Errorf("u3 list wrong: %+v", summaries)
	}
}

func TestRecordMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	at := time.Now().Add(time.Minute)
	if err := s.RecordMessage(ctx, conv.ID, "hello", at); err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.LastMessageText != "hello" {
		t.Errorf("LastMessageText = %q, want %q", got.LastMessageText, "hello")
	}
	if !got.LastUpdatedAt.Equal(at.UTC().Truncate(time.Nanosecond)) && got.LastUpdatedAt.Before(conv.LastUpdatedAt) {
		t.Errorf("LastUpdatedAt went backwards: %v", got.LastUpdatedAt)
	}

	// An earlier timestamp must not move last_updated_at backwards
	if err := s.RecordMessage(ctx, conv.ID, "older", at.Add(-time.Hour)); err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}
	after, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if after.LastUpdatedAt.Before(got.LastUpdatedAt) {
		t.Errorf("LastUpdatedAt regressed: %v -> %v", got.LastUpdatedAt, after.LastUpdatedAt)
	}
	if after.LastMessageText != "older" {
		t.Errorf("LastMessageText = %q, want %q", after.LastMessageText, "older")
	}
}

func TestRecordMessage_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.RecordMessage(context.Background(), "missing", "hello", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUnreadCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementUnread(ctx, conv.ID, "u2"); err != nil {
			t.Fatalf("IncrementUnread failed: %v", err)
		}
	}

	count, err := s.GetUnread(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("GetUnread failed: %v", err)
	}
	if count != 3 {
		t.Errorf("unread = %d, want 3", count)
	}

	// The other participant's counter is untouched
	count, err = s.GetUnread(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("GetUnread failed: %v", err)
	}
	if count != 0 {
		t.Errorf("unread[u1] = %d, want 0", count)
	}

	if err := s.ResetUnread(ctx, conv.ID, "u2"); err != nil {
		t.Fatalf("ResetUnread failed: %v", err)
	}
	count, err = s.GetUnread(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("GetUnread failed: %v", err)
	}
	if count != 0 {
		t.Errorf("unread after reset = %d, want 0", count)
	}

	// Reset is idempotent
	if err := s.ResetUnread(ctx, conv.ID, "u2"); err != nil {
		t.Errorf("second ResetUnread failed: %v", err)
	}
}

func TestUnreadCounters_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.IncrementUnread(ctx, "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementUnread: expected ErrNotFound, got %v", err)
	}
	if err := s.ResetUnread(ctx, "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResetUnread: expected ErrNotFound, got %v", err)
	}

	// Existing conversation, non-participant
	conv, err := s.CreateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := s.IncrementUnread(ctx, conv.ID, "stranger"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for non-participant, got %v", err)
	}
}

func TestIncrementUnread_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.IncrementUnread(ctx, conv.ID, "u2")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent IncrementUnread failed: %v", err)
		}
	}

	count, err := s.GetUnread(ctx, conv.ID, "u2")
	if err != nil {
		t.Fatalf("GetUnread failed: %v", err)
	}
	if count != n {
		t.Errorf("unread = %d after %d concurrent increments, want %d", count, n, n)
	}
}

// Participant pair stays distinct and intact through every mutation.
func TestConversationInvariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	check := func(stage string) {
		t.Helper()
		got, err := s.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatalf("%s: GetConversation failed: %v", stage, err)
		}
		if got.ParticipantLo == got.ParticipantHi {
			t.Errorf("%s: participants collapsed to %q", stage, got.ParticipantLo)
		}
		if got.ParticipantLo != "u1" || got.ParticipantHi != "u2" {
			t.Errorf("%s: participants changed: lo=%q hi=%q", stage, got.ParticipantLo, got.ParticipantHi)
		}
	}

	check("after create")

	if err := s.RecordMessage(ctx, conv.ID, "hi", time.Now()); err != nil {
		t.Fatalf("RecordMessage failed: %v", err)
	}
	check("after record")

	if err := s.IncrementUnread(ctx, conv.ID, "u2"); err != nil {
		t.Fatalf("IncrementUnread failed: %v", err)
	}
	check("after increment")

	if err := s.ResetUnread(ctx, conv.ID, "u2"); err != nil {
		t.Fatalf("ResetUnread failed: %v", err)
	}
	check("after reset")
}
