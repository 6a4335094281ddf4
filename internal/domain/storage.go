package domain

import "context"

// Local persistence keys. Absence of any key reads as "no prior state".
const (
	KeyChatHistory     = "chat_history"
	KeyActiveSessionID = "active_session_id"
	KeyOnboarded       = "has_onboarded"
)

// LocalStore is the anonymous-identity backend: the full session list under
// a single key, plus small independent flags. Calls are synchronous.
type LocalStore interface {
	SaveSessions(sessions []ChatSession) error
	LoadSessions() ([]ChatSession, error)
	SetKey(key, value string) error
	GetKey(key string) (string, error) // "" when the key is absent
	DeleteKey(key string) error
	Close() error
}

// RemoteStore is the authenticated backend: per-user, per-session documents.
type RemoteStore interface {
	PutSession(ctx context.Context, userID string, session ChatSession) error
	ListSessions(ctx context.Context, userID string) ([]ChatSession, error) // timestamp ascending
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// BlobStore uploads binary payloads and returns their public URLs.
type BlobStore interface {
	PutBlob(ctx context.Context, userID, inlineData, filename string) (string, error)
}
