// ABOUTME: HTTP JSON + SSE surface exposing the messaging core to browser clients
// ABOUTME: Bearer identity tokens resolve the caller; live views stream as SSE snapshots

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gearshare/courier/internal/identity"
	"github.com/gearshare/courier/internal/messaging"
	"github.com/gearshare/courier/internal/store"
)

// Server hosts the messaging HTTP API.
type Server struct {
	svc             *messaging.Service
	verifier        identity.TokenVerifier
	directory       *identity.Directory
	logger          *slog.Logger
	historyPageSize int
}

// New creates an API server. Pass nil logger for the default.
func New(svc *messaging.Service, verifier identity.TokenVerifier, directory *identity.Directory, historyPageSize int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if historyPageSize <= 0 {
		historyPageSize = 50
	}
	return &Server{
		svc:             svc,
		verifier:        verifier,
		directory:       directory,
		logger:          logger.With("component", "api"),
		historyPageSize: historyPageSize,
	}
}

// Routes registers all API endpoints on the given mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /api/users/search", s.requireUser(s.handleSearchUsers))
	mux.HandleFunc("GET /api/conversations", s.requireUser(s.handleConversationsStream))
	mux.HandleFunc("POST /api/conversations", s.requireUser(s.handleStartConversation))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.requireUser(s.handleMessagesStream))
	mux.HandleFunc("GET /api/conversations/{id}/history", s.requireUser(s.handleHistory))
	mux.HandleFunc("POST /api/conversations/{id}/send", s.requireUser(s.handleSend))
	mux.HandleFunc("POST /api/conversations/{id}/read", s.requireUser(s.handleRead))
}

// authedHandler receives the verified caller alongside the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, caller *identity.Identity)

// requireUser verifies the Bearer token and mirrors the caller's profile
// into the directory before invoking the handler.
func (s *Server) requireUser(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			s.sendJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		caller, err := s.verifier.Verify(tokenString)
		if err != nil {
			s.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if err := s.directory.RecordIdentity(r.Context(), caller); err != nil {
			// Name resolution degrades, the request itself can proceed
			s.logger.Warn("failed to mirror caller identity", "user_id", caller.UserID, "error", err)
		}

		next(w, r, caller)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request, caller *identity.Identity) {
	prefix := r.URL.Query().Get("q")
	if strings.TrimSpace(prefix) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	users, err := s.svc.SearchUsers(r.Context(), caller.UserID, prefix)
	if err != nil {
		s.sendError(w, err)
		return
	}

	results := make([]userJSON, 0, len(users))
	for _, user := range users {
		results = append(results, toUserJSON(user))
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"users": results})
}

// startConversationRequest is the POST /api/conversations body. The other
// user's profile fields let a first contact work before that user has ever
// authenticated against courier.
type startConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
	OtherName   string `json:"other_name"`
	OtherEmail  string `json:"other_email"`
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request, caller *identity.Identity) {
	req, err := parseStartRequest(r.Body)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	other := &store.User{ID: req.OtherUserID, Name: req.OtherName, Email: req.OtherEmail}
	conv, err := s.svc.FindOrStartConversation(r.Context(), caller.UserID, other)
	if err != nil {
		s.sendError(w, err)
		return
	}

	// The conversation may predate this call, so the caller can already
	// have unread messages in it
	unread, err := s.svc.UnreadCount(r.Context(), conv.ID, caller.UserID)
	if err != nil {
		s.sendError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, s.toConversationJSON(r, conv, caller.UserID, unread))
}

// sendMessageRequest is the POST /api/conversations/{id}/send body.
// ClientMsgID, when set, makes retries of the same send idempotent.
type sendMessageRequest struct {
	Text        string `json:"text"`
	ClientMsgID string `json:"client_msg_id"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, caller *identity.Identity) {
	conversationID := r.PathValue("id")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := s.svc.Send(r.Context(), conversationID, caller.UserID, req.Text, req.ClientMsgID)
	if err != nil {
		s.sendError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, toMessageJSON(msg))
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request, caller *identity.Identity) {
	conversationID := r.PathValue("id")

	if err := s.svc.MarkAsRead(r.Context(), conversationID, caller.UserID); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, caller *identity.Identity) {
	conversationID := r.PathValue("id")
	cursor := r.URL.Query().Get("cursor")

	limit := s.historyPageSize
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	msgs, nextCursor, err := s.svc.History(r.Context(), conversationID, caller.UserID, limit, cursor)
	if err != nil {
		s.sendError(w, err)
		return
	}

	results := make([]messageJSON, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, toMessageJSON(msg))
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"messages":    results,
		"next_cursor": nextCursor,
	})
}

// handleConversationsStream streams the caller's conversation list over SSE.
// Each event is a full ordered snapshot with unread badges and the resolved
// profile of the other participant.
func (s *Server) handleConversationsStream(w http.ResponseWriter, r *http.Request, caller *identity.Identity) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	snap, sub, err := s.svc.ListConversations(r.Context(), caller.UserID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	defer sub.Cancel()

	s.startSSE(w, flusher)
	s.writeSSEEvent(w, "snapshot", s.conversationsPayload(r, snap, caller.UserID))
	flusher.Flush()

	for {
		select {
		case next, ok := <-sub.Updates():
			if !ok {
				return
			}
			s.writeSSEEvent(w, "snapshot", s.conversationsPayload(r, next, caller.UserID))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleMessagesStream streams a conversation's ordered message feed over SSE.
func (s *Server) handleMessagesStream(w http.ResponseWriter, r *http.Request, caller *identity.Identity) {
	conversationID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	snap, sub, err := s.svc.OpenConversation(r.Context(), conversationID, caller.UserID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	defer sub.Cancel()

	s.startSSE(w, flusher)
	s.writeSSEEvent(w, "snapshot", messagesPayload(snap))
	flusher.Flush()

	for {
		select {
		case next, ok := <-sub.Updates():
			if !ok {
				return
			}
			s.writeSSEEvent(w, "snapshot", messagesPayload(next))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) startSSE(w http.ResponseWriter, flusher http.Flusher) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendError maps domain errors to HTTP statuses with short human-readable
// messages. Validation failures never retry; unavailability maps to 503 so
// clients know a retry may help (with the same client_msg_id for sends).
func (s *Server) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrEmptyMessage),
		errors.Is(err, store.ErrSameParticipant),
		errors.Is(err, store.ErrInvalidCursor),
		errors.Is(err, messaging.ErrSelfConversation):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrForbiddenSender):
		s.sendJSONError(w, http.StatusForbidden, "not a participant of this conversation")
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrUnavailable):
		s.sendJSONError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
	default:
		s.logger.Error("internal error", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseStartRequest parses and validates a startConversationRequest.
func parseStartRequest(r io.Reader) (*startConversationRequest, error) {
	var req startConversationRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.OtherUserID == "" {
		return nil, errors.New("other_user_id is required")
	}
	return &req, nil
}

// JSON shapes

type userJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func toUserJSON(user *store.User) userJSON {
	return userJSON{ID: user.ID, Name: user.Name, Email: user.Email}
}

type conversationJSON struct {
	ID              string    `json:"id"`
	OtherUser       userJSON  `json:"other_user"`
	LastMessageText string    `json:"last_message_text"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
	Unread          int       `json:"unread"`
}

type messageJSON struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	TextHTML       string    `json:"text_html"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

func toMessageJSON(msg *store.Message) messageJSON {
	return messageJSON{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Text:           msg.Text,
		TextHTML:       renderMessageHTML(msg.Text),
		CreatedAt:      msg.CreatedAt,
		Read:           msg.Read,
	}
}

// toConversationJSON resolves the other participant's profile server-side,
// so clients never maintain their own id-to-name lookup tables.
func (s *Server) toConversationJSON(r *http.Request, conv *store.Conversation, selfID string, unread int) conversationJSON {
	out := conversationJSON{
		ID:              conv.ID,
		LastMessageText: conv.LastMessageText,
		LastUpdatedAt:   conv.LastUpdatedAt,
		Unread:          unread,
	}

	otherID, ok := conv.OtherParticipant(selfID)
	if !ok {
		return out
	}
	out.OtherUser = userJSON{ID: otherID}
	if other, err := s.directory.Resolve(r.Context(), otherID); err == nil {
		out.OtherUser = toUserJSON(other)
	}
	return out
}

func (s *Server) conversationsPayload(r *http.Request, snap messaging.Snapshot, selfID string) map[string]any {
	conversations := make([]conversationJSON, 0, len(snap.Conversations))
	for _, summary := range snap.Conversations {
		conversations = append(conversations, s.toConversationJSON(r, &summary.Conversation, selfID, summary.Unread))
	}
	return map[string]any{
		"version":       snap.Version,
		"conversations": conversations,
	}
}

func messagesPayload(snap messaging.Snapshot) map[string]any {
	messages := make([]messageJSON, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		messages = append(messages, toMessageJSON(msg))
	}
	return map[string]any{
		"version":  snap.Version,
		"messages": messages,
	}
}
