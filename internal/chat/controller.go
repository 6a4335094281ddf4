// Package chat orchestrates a conversation turn: intent classification,
// the streaming model call, reasoning-tag parsing, and the activity label
// shown while a response is in flight. It owns no transport; providers and
// persistence are injected.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lumichat/internal/domain"
	"lumichat/internal/metrics"
	"lumichat/internal/persist"
	"lumichat/internal/store"
)

const (
	historyWindow      = 10
	historyRuneLimit   = 2000
	truncationSuffix   = "... (truncated for efficiency)"
	errorBubblePrefix  = "⚠️ "
	defaultErrorBubble = "Sorry, something went wrong. Please try again."
)

// Controller drives the send/edit protocol against the session store. One
// stream may be in flight per session; a second send into a busy session is
// rejected with domain.ErrBusy instead of interleaving writes.
type Controller struct {
	store    *store.Store
	persist  *persist.Adapter
	provider domain.TextProvider
	profile  func() domain.UserProfile
	logger   *slog.Logger
	activity *activityState

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	closed   bool
}

func NewController(st *store.Store, p *persist.Adapter, provider domain.TextProvider, profile func() domain.UserProfile, logger *slog.Logger) *Controller {
	return &Controller{
		store:    st,
		persist:  p,
		provider: provider,
		profile:  profile,
		logger:   logger,
		activity: newActivityState(),
		inFlight: make(map[string]context.CancelFunc),
	}
}

// Activity returns the current streaming status label.
func (c *Controller) Activity() Activity { return c.activity.get() }

// OnActivity registers a listener for label changes.
func (c *Controller) OnActivity(l func(Activity)) { c.activity.onChange(l) }

// Send runs one full conversation turn: the user message is appended to the
// active session (or a fresh session when none is active), the model response
// streams into an assistant message updated chunk by chunk, and the finished
// session is persisted. Send blocks until the stream completes; callers that
// want fire-and-forget run it in a goroutine. Returns the session id the
// turn ran in.
func (c *Controller) Send(ctx context.Context, text, modelID string, attachments []domain.Attachment) (string, error) {
	userMsg := domain.Message{
		ID:          c.store.NewID(),
		Role:        domain.RoleUser,
		Text:        text,
		Timestamp:   time.Now().UnixMilli(),
		Attachments: attachments,
	}

	sessionID := c.store.ActiveID()
	var prior []domain.Message
	if sessionID == "" {
		session := c.store.CreateSession(userMsg)
		sessionID = session.ID
		if err := c.acquire(sessionID); err != nil {
			return sessionID, err
		}
		c.setActiveIDKey(sessionID)
	} else {
		if err := c.acquire(sessionID); err != nil {
			return sessionID, err
		}
		prior = c.store.Displayed()
		c.store.UpdateMessageInSession(sessionID, userMsg)
	}

	// Signed-in histories are saved as soon as the user turn lands, so an
	// interrupted stream does not lose it. Anonymous sessions are mirrored
	// to local storage by the store subscription.
	if c.profile().IsLoggedIn {
		c.persistSession(sessionID)
	}

	return sessionID, c.respond(ctx, sessionID, modelID, userMsg, prior)
}

// EditMessage rewrites a previously sent user message: every message from the
// edited one onward is discarded, the edited text replaces it under the same
// id with a fresh timestamp, and the model turn reruns against the truncated
// history. Editing while the session is streaming returns domain.ErrBusy.
func (c *Controller) EditMessage(ctx context.Context, sessionID, messageID, newText, modelID string) error {
	session, ok := c.store.Session(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	idx := -1
	for i := range session.Messages {
		if session.Messages[i].ID == messageID && session.Messages[i].Role == domain.RoleUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.ErrMessageNotFound
	}

	if err := c.acquire(sessionID); err != nil {
		return err
	}

	prior := append([]domain.Message(nil), session.Messages[:idx]...)
	edited := session.Messages[idx]
	edited.Text = newText
	edited.Timestamp = time.Now().UnixMilli()

	c.store.ReplaceMessages(sessionID, append(append([]domain.Message(nil), prior...), edited))
	if c.profile().IsLoggedIn {
		c.persistSession(sessionID)
	}
	return c.respond(ctx, sessionID, modelID, edited, prior)
}

// respond streams the model answer into an assistant placeholder message.
// The caller must already hold the session's in-flight slot; respond releases
// it on every exit path.
func (c *Controller) respond(parent context.Context, sessionID, modelID string, userMsg domain.Message, prior []domain.Message) error {
	ctx, cancel := context.WithCancel(parent)
	c.setCancel(sessionID, cancel)

	metrics.MessagesTotal.Inc()
	metrics.StreamsTotal.Inc()
	metrics.StreamsInFlight.Inc()
	started := time.Now()

	intent := ClassifyIntent(userMsg.Text, len(userMsg.Attachments) > 0)
	stopLabel := c.activity.startLabelTicker(intent)

	assistant := domain.Message{
		ID:        c.store.NewID(),
		Role:      domain.RoleModel,
		Text:      "",
		Timestamp: time.Now().UnixMilli(),
	}
	c.store.UpdateMessageInSession(sessionID, assistant)

	defer func() {
		stopLabel()
		cancel()
		c.release(sessionID)
		metrics.StreamsInFlight.Dec()
		metrics.StreamLatency.Observe(time.Since(started).Seconds())
	}()

	req := domain.ChatRequest{
		UserText:    userMsg.Text,
		ModelID:     modelID,
		History:     pruneHistory(prior),
		Attachments: userMsg.Attachments,
	}

	streamCh := make(chan domain.StreamChunk, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.provider.StreamMessage(ctx, req, streamCh)
	}()

	var full string
	var grounding *domain.GroundingMetadata
	for chunk := range streamCh {
		if chunk.Text != "" {
			full += chunk.Text
		}
		if chunk.Grounding != nil && !chunk.Grounding.Empty() {
			grounding = chunk.Grounding
		}
		assistant.Text = full
		assistant.Grounding = grounding
		c.store.UpdateMessageInSession(sessionID, assistant)
	}
	streamErr := <-errCh

	if streamErr != nil {
		metrics.StreamErrors.Inc()
		reason := streamErr.Error()
		if reason == "" || errors.Is(streamErr, context.Canceled) {
			reason = defaultErrorBubble
		}
		assistant.Text = errorBubblePrefix + reason
		assistant.Grounding = nil
		c.store.UpdateMessageInSession(sessionID, assistant)
		c.logger.Error("stream failed", "session", sessionID, "provider", c.provider.Name(), "err", streamErr)
		c.persistSession(sessionID)
		return streamErr
	}

	c.persistSession(sessionID)
	c.logger.Info("turn complete", "session", sessionID, "chars", len(full), "intent", string(intent))
	return nil
}

// SelectSession switches the active session and records the choice so the
// next start restores it.
func (c *Controller) SelectSession(id string) {
	c.store.SelectSession(id)
	if c.store.ActiveID() == id {
		c.setActiveIDKey(id)
	}
}

// DeleteSession cancels any stream running in the session, removes it from
// the store, and deletes the remote document for signed-in users.
func (c *Controller) DeleteSession(ctx context.Context, id string) {
	c.mu.Lock()
	if cancel, ok := c.inFlight[id]; ok && cancel != nil {
		cancel()
	}
	c.mu.Unlock()

	wasActive := c.store.ActiveID() == id
	c.store.DeleteSession(id)
	if wasActive {
		c.clearActiveIDKey()
	}
	if p := c.profile(); p.IsLoggedIn {
		c.persist.DeleteRemote(ctx, p.UID, id)
	}
}

// NewChat clears the active selection; the next Send creates a fresh session.
func (c *Controller) NewChat() {
	c.store.ClearActive()
	c.clearActiveIDKey()
}

// Close cancels every in-flight stream and rejects further sends.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	for _, cancel := range c.inFlight {
		if cancel != nil {
			cancel()
		}
	}
	c.mu.Unlock()
}

func (c *Controller) acquire(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrBusy
	}
	if _, busy := c.inFlight[sessionID]; busy {
		metrics.BusyRejections.Inc()
		return domain.ErrBusy
	}
	c.inFlight[sessionID] = nil
	return nil
}

func (c *Controller) setCancel(sessionID string, cancel context.CancelFunc) {
	c.mu.Lock()
	if _, ok := c.inFlight[sessionID]; ok {
		c.inFlight[sessionID] = cancel
	}
	c.mu.Unlock()
}

func (c *Controller) release(sessionID string) {
	c.mu.Lock()
	delete(c.inFlight, sessionID)
	c.mu.Unlock()
}

// persistSession writes the finished session to whichever backend matches
// the current identity. Failures are logged; the in-memory state already
// reflects the turn.
func (c *Controller) persistSession(sessionID string) {
	session, ok := c.store.Session(sessionID)
	if !ok {
		return
	}
	p := c.profile()
	if p.IsLoggedIn {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.persist.SaveRemote(ctx, p.UID, session); err != nil {
			metrics.RemoteSaveErrors.Inc()
			c.logger.Warn("remote save failed", "session", sessionID, "err", err)
		}
		return
	}
	c.persist.SaveLocal(c.store.Sessions())
}

func (c *Controller) setActiveIDKey(id string) {
	if err := c.persist.Local().SetKey(domain.KeyActiveSessionID, id); err != nil {
		c.logger.Warn("active session key save failed", "err", err)
	}
}

func (c *Controller) clearActiveIDKey() {
	if err := c.persist.Local().DeleteKey(domain.KeyActiveSessionID); err != nil {
		c.logger.Warn("active session key delete failed", "err", err)
	}
}

// pruneHistory bounds the context sent to the provider: only the most recent
// prior messages, each capped in length so one pasted wall of text does not
// dominate the window.
func pruneHistory(prior []domain.Message) []domain.Message {
	if len(prior) > historyWindow {
		prior = prior[len(prior)-historyWindow:]
	}
	out := make([]domain.Message, len(prior))
	for i, m := range prior {
		r := []rune(m.Text)
		if len(r) > historyRuneLimit {
			m.Text = string(r[:historyRuneLimit]) + truncationSuffix
		}
		out[i] = m
	}
	return out
}
