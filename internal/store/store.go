// Package store holds the in-memory session state: the single source of
// truth for what the client renders. All mutations go through its methods;
// persistence and streaming layers never touch session objects directly.
package store

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"lumichat/internal/domain"
)

// EventKind classifies a store change notification.
type EventKind string

const (
	EventSessionCreated  EventKind = "session.created"
	EventSessionSelected EventKind = "session.selected"
	EventSessionDeleted  EventKind = "session.deleted"
	EventSessionsLoaded  EventKind = "sessions.loaded"
	EventMessageUpdated  EventKind = "message.updated"
)

// Event is delivered to subscribers after every mutation. ActiveChanged
// reports whether the displayed message list changed in the same step.
type Event struct {
	Kind          EventKind
	SessionID     string
	ActiveChanged bool
}

// Listener receives store change events. Listeners are called outside the
// store lock and must not block for long.
type Listener func(Event)

const titleRuneLimit = 30

// Store owns the session list, the active session id, and the displayed
// message list. The displayed list always equals the active session's
// messages whenever an active session exists; both are updated in the same
// critical section so no intermediate inconsistency is observable.
type Store struct {
	mu        sync.Mutex
	sessions  []domain.ChatSession
	activeID  string
	displayed []domain.Message

	lastID int64 // id generator state, unix milliseconds

	subMu     sync.Mutex
	listeners map[int]Listener
	nextSub   int

	logger *slog.Logger
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	return &Store{
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Subscribe registers a listener and returns an unsubscribe func.
func (s *Store) Subscribe(l Listener) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = l
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.listeners, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(evt Event) {
	s.subMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.subMu.Unlock()
	for _, l := range ls {
		l(evt)
	}
}

// NewID returns a time-based message/session id with a monotonic-uniqueness
// guard: two calls never return the same value even within one millisecond.
func (s *Store) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newIDLocked()
}

func (s *Store) newIDLocked() string {
	now := time.Now().UnixMilli()
	if now <= s.lastID {
		now = s.lastID + 1
	}
	s.lastID = now
	return strconv.FormatInt(now, 10)
}

// deriveTitle builds a session title from the first user message: the first
// 30 runes, with an ellipsis marker when the text is longer.
func deriveTitle(text string) string {
	r := []rune(text)
	if len(r) <= titleRuneLimit {
		return text
	}
	return string(r[:titleRuneLimit]) + "..."
}

// CreateSession allocates a session seeded with firstMessage, derives its
// title, and makes it active. The title is never recomputed afterwards.
func (s *Store) CreateSession(firstMessage domain.Message) domain.ChatSession {
	s.mu.Lock()
	session := domain.ChatSession{
		ID:        s.newIDLocked(),
		Title:     deriveTitle(firstMessage.Text),
		Messages:  []domain.Message{firstMessage},
		Timestamp: time.Now().UnixMilli(),
	}
	s.sessions = append(s.sessions, session)
	s.activeID = session.ID
	s.displayed = append([]domain.Message(nil), session.Messages...)
	snapshot := session.Clone()
	s.mu.Unlock()

	s.logger.Info("session created", "id", session.ID, "title", session.Title)
	s.notify(Event{Kind: EventSessionCreated, SessionID: session.ID, ActiveChanged: true})
	return snapshot
}

// SelectSession makes id active and replaces the displayed list. Unknown ids
// are a silent no-op.
func (s *Store) SelectSession(id string) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.activeID = id
	s.displayed = append([]domain.Message(nil), s.sessions[idx].Messages...)
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessionSelected, SessionID: id, ActiveChanged: true})
}

// DeleteSession removes a session. Deleting the active session clears the
// active state and the displayed list.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	wasActive := s.activeID == id
	if wasActive {
		s.activeID = ""
		s.displayed = nil
	}
	s.mu.Unlock()

	s.logger.Info("session deleted", "id", id)
	s.notify(Event{Kind: EventSessionDeleted, SessionID: id, ActiveChanged: wasActive})
}

// ClearActive drops the active selection without touching any session
// ("new chat" affordance).
func (s *Store) ClearActive() {
	s.mu.Lock()
	s.activeID = ""
	s.displayed = nil
	s.mu.Unlock()
	s.notify(Event{Kind: EventSessionSelected, ActiveChanged: true})
}

// ReplaceAll swaps the whole session list, used after a backend load. When
// the previously active id is no longer present the active state clears.
func (s *Store) ReplaceAll(sessions []domain.ChatSession) {
	s.mu.Lock()
	s.sessions = make([]domain.ChatSession, len(sessions))
	copy(s.sessions, sessions)
	if idx := s.indexOf(s.activeID); idx >= 0 {
		s.displayed = append([]domain.Message(nil), s.sessions[idx].Messages...)
	} else {
		s.activeID = ""
		s.displayed = nil
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventSessionsLoaded, ActiveChanged: true})
}

// UpdateMessageInSession upserts a message by id into the session's list.
// When the session is active the displayed list is updated in the same
// critical section; a stream writing into a background session never touches
// the displayed view.
func (s *Store) UpdateMessageInSession(sessionID string, msg domain.Message) {
	s.mu.Lock()
	idx := s.indexOf(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	msgs := s.sessions[idx].Messages
	found := false
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			found = true
			break
		}
	}
	if !found {
		s.sessions[idx].Messages = append(msgs, msg)
	}
	active := s.activeID == sessionID
	if active {
		s.displayed = append([]domain.Message(nil), s.sessions[idx].Messages...)
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventMessageUpdated, SessionID: sessionID, ActiveChanged: active})
}

// ReplaceMessages swaps a session's full message list (edit truncation).
func (s *Store) ReplaceMessages(sessionID string, msgs []domain.Message) {
	s.mu.Lock()
	idx := s.indexOf(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.sessions[idx].Messages = append([]domain.Message(nil), msgs...)
	active := s.activeID == sessionID
	if active {
		s.displayed = append([]domain.Message(nil), msgs...)
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventMessageUpdated, SessionID: sessionID, ActiveChanged: active})
}

// Session returns a deep copy of one session.
func (s *Store) Session(id string) (domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.ChatSession{}, false
	}
	return s.sessions[idx].Clone(), true
}

// Sessions returns deep copies of all sessions in store order.
func (s *Store) Sessions() []domain.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatSession, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

// ActiveID returns the active session id, or "" when no session is active.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Displayed returns a copy of the currently displayed message list.
func (s *Store) Displayed() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.displayed...)
}

func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}
