// Package session keeps per-user conversation records in process memory.
package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("session not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Message is one user turn and the reply it received.
type Message struct {
	UserMessage string    `json:"user_message"`
	Response    string    `json:"ai_response"`
	Timestamp   time.Time `json:"timestamp"`
}

// Session is a snapshot of one conversation.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// Summary describes a session without its messages.
type Summary struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// HistoryPage is one page of a session's messages.
type HistoryPage struct {
	Total      int       `json:"total_messages"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
	Messages   []Message `json:"messages"`
}

// Identity is who a chat request belongs to and where its turns are stored.
type Identity struct {
	UserID    string
	SessionID string
	Anonymous bool
}

// MainSessionID is the stable session id for a known user.
func MainSessionID(userID string) string {
	return "user_" + userID + "_main"
}

// Store owns the session map. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	tokens   map[string]string
	now      func() time.Time
}

// NewStore creates an empty store. tokens maps bearer tokens to user ids.
func NewStore(tokens map[string]string) *Store {
	return NewStoreWithClock(tokens, time.Now)
}

// NewStoreWithClock is NewStore with an injectable time source.
func NewStoreWithClock(tokens map[string]string, now func() time.Time) *Store {
	t := make(map[string]string, len(tokens))
	for k, v := range tokens {
		t[k] = v
	}
	return &Store{sessions: make(map[string]*Session), tokens: t, now: now}
}

// ResolveIdentity maps a caller to a user and session. An explicit userID
// wins, then a known bearer token; anything else is a fresh anonymous user
// with a fresh session.
func (s *Store) ResolveIdentity(userID, authHeader string) Identity {
	if id := strings.TrimSpace(userID); id != "" {
		return Identity{UserID: id, SessionID: MainSessionID(id)}
	}
	if token, ok := bearerToken(authHeader); ok {
		if id, known := s.tokens[token]; known {
			return Identity{UserID: id, SessionID: MainSessionID(id)}
		}
	}
	return Identity{
		UserID:    "anonymous_" + uuid.NewString()[:8],
		SessionID: uuid.NewString(),
		Anonymous: true,
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Append records a turn, creating the session on its first message.
func (s *Store) Append(sessionID, userID, userMessage, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID, UserID: userID, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	sess.Messages = append(sess.Messages, Message{UserMessage: userMessage, Response: response, Timestamp: now})
}

// Ensure creates an empty session for sessionID unless one exists.
func (s *Store) Ensure(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = &Session{ID: sessionID, UserID: userID, CreatedAt: s.now()}
	}
}

// AppendExisting records a turn only if the session still exists.
func (s *Store) AppendExisting(sessionID, userMessage, response string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	sess.Messages = append(sess.Messages, Message{UserMessage: userMessage, Response: response, Timestamp: s.now()})
	return true
}

// Get returns a copy of the session, or ErrNotFound.
func (s *Store) Get(sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	out := *sess
	out.Messages = append([]Message(nil), sess.Messages...)
	return out, nil
}

// History returns one page of a session's messages. An unknown session
// yields an empty page.
func (s *Store) History(sessionID string, page, pageSize int) HistoryPage {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize == 0:
		pageSize = DefaultPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := HistoryPage{Page: page, PageSize: pageSize, Messages: []Message{}}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return out
	}

	out.Total = len(sess.Messages)
	out.TotalPages = (out.Total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start >= out.Total {
		return out
	}
	end := min(start+pageSize, out.Total)
	out.Messages = append(out.Messages, sess.Messages[start:end]...)
	return out
}

// DeleteHistory removes every session owned by userID and returns how many were removed.
func (s *Store) DeleteHistory(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// ListSessions returns summaries of the user's sessions, oldest first.
func (s *Store) ListSessions(userID string) []Summary {
	s.mu.RLock()
	out := []Summary{}
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, Summary{SessionID: sess.ID, CreatedAt: sess.CreatedAt, MessageCount: len(sess.Messages)})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// ActiveSessions returns the number of sessions in memory.
func (s *Store) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
