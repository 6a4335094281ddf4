// Package persist translates chat sessions into durable storage: a local
// SQLite backend for the anonymous identity and a per-user remote document
// store for authenticated users. The adapter holds no state between calls;
// every call is idempotent with respect to the given session id.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lumichat/internal/domain"
)

// Adapter bridges the session store to the two persistence backends.
type Adapter struct {
	local  domain.LocalStore
	remote domain.RemoteStore
	blobs  domain.BlobStore
	logger *slog.Logger
}

func NewAdapter(local domain.LocalStore, remote domain.RemoteStore, blobs domain.BlobStore, logger *slog.Logger) *Adapter {
	return &Adapter{local: local, remote: remote, blobs: blobs, logger: logger}
}

// SaveLocal writes the full session list, inline attachments included, to
// the single local key. Failures are logged, never surfaced: local state in
// memory stays UI-authoritative.
func (a *Adapter) SaveLocal(sessions []domain.ChatSession) {
	if err := a.local.SaveSessions(sessions); err != nil {
		a.logger.Warn("local save failed", "err", err)
	}
}

// LoadLocal reads the stored session list, seeding the store at startup.
func (a *Adapter) LoadLocal() []domain.ChatSession {
	sessions, err := a.local.LoadSessions()
	if err != nil {
		a.logger.Warn("local load failed, starting with empty history", "err", err)
		return nil
	}
	return sessions
}

// SaveRemote writes one session document for the user. It deep-copies the
// session, uploads every inline attachment payload to the blob store and
// substitutes the resulting URL; attachments already carrying a URL pass
// through untouched. A failed upload keeps the inline payload in the
// document rather than abandoning the save.
func (a *Adapter) SaveRemote(ctx context.Context, userID string, session domain.ChatSession) error {
	doc := session.Clone()

	for mi := range doc.Messages {
		atts := doc.Messages[mi].Attachments
		for ai := range atts {
			if !atts[ai].IsInline() {
				continue
			}
			filename := atts[ai].Name
			if filename == "" {
				filename = fmt.Sprintf("file_%d", time.Now().UnixMilli())
			}
			url, err := a.blobs.PutBlob(ctx, userID, atts[ai].Content, filename)
			if err != nil {
				a.logger.Warn("blob upload failed, keeping inline payload",
					"session", session.ID, "file", filename, "err", err)
				continue
			}
			atts[ai].Content = url
		}
	}

	if err := a.remote.PutSession(ctx, userID, doc); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// LoadRemote fetches the user's sessions ordered by creation time. A read
// failure is "no remote history": app start never blocks on it.
func (a *Adapter) LoadRemote(ctx context.Context, userID string) []domain.ChatSession {
	sessions, err := a.remote.ListSessions(ctx, userID)
	if err != nil {
		a.logger.Warn("remote load failed, starting with empty history", "user", userID, "err", err)
		return nil
	}
	return sessions
}

// DeleteRemote removes one session document.
func (a *Adapter) DeleteRemote(ctx context.Context, userID, sessionID string) {
	if err := a.remote.DeleteSession(ctx, userID, sessionID); err != nil {
		a.logger.Warn("remote delete failed", "session", sessionID, "err", err)
	}
}

// Local exposes the key/value side of the local backend for the small
// independent flags (active session id, onboarding marker).
func (a *Adapter) Local() domain.LocalStore {
	return a.local
}
