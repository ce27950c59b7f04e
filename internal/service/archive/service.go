// Package archive stores sessions, messages and feedback for the
// development backend.
package archive

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/llmbot-chat/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

type record struct {
	message  chat.HistoryMessage
	feedback chat.Verdict
}

// Service encapsulates conversation state management.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]record
	now      func() time.Time
}

// NewService bootstraps the in-memory archive.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]record),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSession registers sessionID on first use. Session ids are minted by
// clients, so the first turn of a conversation creates it.
func (s *Service) EnsureSession(_ context.Context, sessionID, userID, chatbotID string) (chat.Session, error) {
	if sessionID == "" {
		return chat.Session{}, ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		return session, nil
	}
	session := chat.Session{
		ID:        sessionID,
		UserID:    userID,
		ChatbotID: chatbotID,
		CreatedAt: s.now(),
	}
	s.sessions[sessionID] = session
	s.messages[sessionID] = make([]record, 0, 16)
	return session, nil
}

// SaveMessage appends a message to the session history and returns it with
// its assigned identifier.
func (s *Service) SaveMessage(_ context.Context, sessionID string, role chat.Role, content string, figures []chat.Figure) (chat.HistoryMessage, error) {
	if sessionID == "" {
		return chat.HistoryMessage{}, ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return chat.HistoryMessage{}, ErrSessionNotFound
	}

	msg := chat.HistoryMessage{
		MessageID:       uuid.NewString(),
		Role:            role,
		Content:         content,
		CreateTimestamp: s.now().Format(time.RFC3339Nano),
	}
	if len(figures) > 0 {
		msg.AdditionalKwargs = &chat.AdditionalKwargs{Figure: append([]chat.Figure(nil), figures...)}
	}
	s.messages[sessionID] = append(s.messages[sessionID], record{message: msg})
	return msg, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns the sessions of userID, newest first.
func (s *Service) ListSessions(_ context.Context, userID string) []chat.Session {
	s.mu.RLock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		if userID == "" || session.UserID == userID {
			out = append(out, session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// LoadTranscript returns stored messages for the provided session, capped
// at limit when limit is positive.
func (s *Service) LoadTranscript(_ context.Context, sessionID string, limit int) ([]chat.HistoryMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	copied := make([]chat.HistoryMessage, len(records))
	for i, r := range records {
		copied[i] = r.message
	}
	return copied, nil
}

// SetFeedback records the verdict on a stored message. VerdictNone clears it.
func (s *Service) SetFeedback(_ context.Context, sessionID, messageID string, verdict chat.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.messages[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	for i := range records {
		if records[i].message.MessageID == messageID {
			records[i].feedback = verdict
			return nil
		}
	}
	return ErrMessageNotFound
}

// Feedback returns the verdict recorded on a stored message.
func (s *Service) Feedback(_ context.Context, sessionID, messageID string) (chat.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.messages[sessionID]
	if !ok {
		return chat.VerdictNone, ErrSessionNotFound
	}
	for _, r := range records {
		if r.message.MessageID == messageID {
			return r.feedback, nil
		}
	}
	return chat.VerdictNone, ErrMessageNotFound
}
