package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"lumichat/internal/domain"
	"lumichat/internal/persist"
	"lumichat/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptProvider streams a fixed chunk sequence, or fails, or blocks until
// released. It mirrors how a real provider behaves: it closes the output
// channel before returning.
type scriptProvider struct {
	mu      sync.Mutex
	chunks  []domain.StreamChunk
	err     error
	block   chan struct{} // when non-nil, wait here before streaming
	calls   int
	lastReq domain.ChatRequest
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) StreamMessage(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamChunk) error {
	defer close(out)
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	block := p.block
	chunks := p.chunks
	err := p.err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, c := range chunks {
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

type memLocal struct {
	mu       sync.Mutex
	sessions []domain.ChatSession
	keys     map[string]string
	saves    int
}

func newMemLocal() *memLocal { return &memLocal{keys: make(map[string]string)} }

func (m *memLocal) SaveSessions(sessions []domain.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append([]domain.ChatSession(nil), sessions...)
	m.saves++
	return nil
}

func (m *memLocal) LoadSessions() ([]domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatSession(nil), m.sessions...), nil
}

func (m *memLocal) SetKey(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = value
	return nil
}

func (m *memLocal) GetKey(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memLocal) DeleteKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memLocal) Close() error { return nil }

type memRemote struct {
	mu      sync.Mutex
	docs    map[string]domain.ChatSession
	deleted []string
	puts    int
}

func newMemRemote() *memRemote { return &memRemote{docs: make(map[string]domain.ChatSession)} }

func (m *memRemote) PutSession(ctx context.Context, userID string, session domain.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[session.ID] = session
	m.puts++
	return nil
}

func (m *memRemote) ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChatSession, 0, len(m.docs))
	for _, s := range m.docs {
		out = append(out, s)
	}
	return out, nil
}

func (m *memRemote) DeleteSession(ctx context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, sessionID)
	m.deleted = append(m.deleted, sessionID)
	return nil
}

type nopBlobs struct{}

func (nopBlobs) PutBlob(ctx context.Context, userID, inlineData, filename string) (string, error) {
	return "https://blobs.example/" + filename, nil
}

type harness struct {
	store    *store.Store
	local    *memLocal
	remote   *memRemote
	provider *scriptProvider
	ctrl     *Controller
	loggedIn bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    store.New(testLogger()),
		local:    newMemLocal(),
		remote:   newMemRemote(),
		provider: &scriptProvider{},
	}
	adapter := persist.NewAdapter(h.local, h.remote, nopBlobs{}, testLogger())
	h.ctrl = NewController(h.store, adapter, h.provider, func() domain.UserProfile {
		return domain.UserProfile{IsLoggedIn: h.loggedIn, UID: "u1"}
	}, testLogger())
	return h
}

func chunks(texts ...string) []domain.StreamChunk {
	out := make([]domain.StreamChunk, len(texts))
	for i, s := range texts {
		out[i] = domain.StreamChunk{Text: s}
	}
	return out
}

func TestSendFirstMessageCreatesSession(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("Hello", ", world!")

	id, err := h.ctrl.Send(context.Background(), "hi", "model-a", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	session, ok := h.store.Session(id)
	if !ok {
		t.Fatal("session missing")
	}
	if session.Title != "hi" {
		t.Errorf("title = %q", session.Title)
	}
	if len(session.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(session.Messages))
	}
	if session.Messages[0].Role != domain.RoleUser || session.Messages[1].Role != domain.RoleModel {
		t.Errorf("roles = %v, %v", session.Messages[0].Role, session.Messages[1].Role)
	}
	if session.Messages[1].Text != "Hello, world!" {
		t.Errorf("assistant text = %q", session.Messages[1].Text)
	}
	if got, _ := h.local.GetKey(domain.KeyActiveSessionID); got != id {
		t.Errorf("active id key = %q, want %q", got, id)
	}
}

func TestSendSecondMessageReusesActiveSession(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("first")
	id1, err := h.ctrl.Send(context.Background(), "one", "m", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	h.provider.chunks = chunks("second")
	id2, err := h.ctrl.Send(context.Background(), "two", "m", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("second send created a new session: %s vs %s", id1, id2)
	}
	session, _ := h.store.Session(id1)
	if len(session.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(session.Messages))
	}
	if session.Title != "one" {
		t.Errorf("title recomputed to %q", session.Title)
	}
}

func TestSendStreamErrorWritesErrorBubble(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("partial ")
	h.provider.err = errors.New("rate limit exceeded")

	id, err := h.ctrl.Send(context.Background(), "hi", "m", nil)
	if err == nil {
		t.Fatal("expected stream error")
	}
	session, _ := h.store.Session(id)
	last := session.Messages[len(session.Messages)-1]
	if !strings.HasPrefix(last.Text, errorBubblePrefix) {
		t.Errorf("error bubble = %q", last.Text)
	}
	if !strings.Contains(last.Text, "rate limit exceeded") {
		t.Errorf("error bubble lost the reason: %q", last.Text)
	}
}

func TestSendBusySessionRejected(t *testing.T) {
	h := newHarness(t)
	h.provider.block = make(chan struct{})
	h.provider.chunks = chunks("slow answer")

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Send(context.Background(), "first", "m", nil)
		done <- err
	}()

	// Wait for the stream to be in flight: the assistant placeholder is
	// upserted after the busy slot is taken.
	deadline := time.After(2 * time.Second)
	for len(h.store.Displayed()) < 2 {
		select {
		case <-deadline:
			t.Fatal("first send never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := h.ctrl.Send(context.Background(), "second", "m", nil)
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("concurrent send err = %v, want ErrBusy", err)
	}

	close(h.provider.block)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}

	// The slot frees after completion.
	h.provider.block = nil
	h.provider.chunks = chunks("ok")
	if _, err := h.ctrl.Send(context.Background(), "third", "m", nil); err != nil {
		t.Fatalf("send after completion: %v", err)
	}
}

func TestSendIntoBackgroundSessionKeepsDisplayedView(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("answer one")
	id1, _ := h.ctrl.Send(context.Background(), "chat one", "m", nil)

	h.provider.block = make(chan struct{})
	h.provider.chunks = chunks("slow answer")
	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Send(context.Background(), "slow question", "m", nil)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		if s, ok := h.store.Session(id1); ok && len(s.Messages) >= 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stream never registered its placeholder")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// User starts a fresh chat while the old session still streams.
	h.ctrl.NewChat()
	close(h.provider.block)
	if err := <-done; err != nil {
		t.Fatalf("background send: %v", err)
	}

	// The finished stream landed in its own session, not the displayed view.
	session, _ := h.store.Session(id1)
	last := session.Messages[len(session.Messages)-1]
	if last.Text != "slow answer" {
		t.Errorf("background session text = %q", last.Text)
	}
	if got := h.store.Displayed(); len(got) != 0 {
		t.Errorf("displayed view has %d messages, want 0", len(got))
	}
}

func TestSendPrunesHistory(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("ok")

	// Build up 12 prior messages across 6 turns.
	for i := 0; i < 6; i++ {
		if _, err := h.ctrl.Send(context.Background(), fmt.Sprintf("question %d", i), "m", nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := h.ctrl.Send(context.Background(), "final question", "m", nil); err != nil {
		t.Fatalf("final send: %v", err)
	}

	h.provider.mu.Lock()
	hist := h.provider.lastReq.History
	h.provider.mu.Unlock()
	if len(hist) != historyWindow {
		t.Fatalf("history = %d messages, want %d", len(hist), historyWindow)
	}
	// The oldest turn fell out of the window.
	for _, m := range hist {
		if m.Text == "question 0" {
			t.Error("oldest message survived pruning")
		}
	}
}

func TestHistoryAttachmentsReachProvider(t *testing.T) {
	h := newHarness(t)
	att := domain.Attachment{
		Type:     domain.AttachmentImage,
		Content:  "https://blobs.example/u1/diagram.png",
		MimeType: "image/png",
		Name:     "diagram.png",
	}
	h.provider.chunks = chunks("noted")
	if _, err := h.ctrl.Send(context.Background(), "look at this", "m", []domain.Attachment{att}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	h.provider.chunks = chunks("still have it")
	if _, err := h.ctrl.Send(context.Background(), "what was in the image?", "m", nil); err != nil {
		t.Fatalf("second send: %v", err)
	}

	h.provider.mu.Lock()
	hist := h.provider.lastReq.History
	h.provider.mu.Unlock()
	if len(hist) == 0 {
		t.Fatal("history is empty")
	}
	var found bool
	for _, m := range hist {
		for _, a := range m.Attachments {
			if a.Content == att.Content {
				found = true
			}
		}
	}
	if !found {
		t.Error("prior turn's attachment missing from the provider history")
	}
}

func TestPruneHistoryKeepsAttachments(t *testing.T) {
	out := pruneHistory([]domain.Message{{
		Text: "see attached",
		Attachments: []domain.Attachment{{
			Type:     domain.AttachmentImage,
			Content:  "https://blobs.example/a.png",
			MimeType: "image/png",
		}},
	}})
	if len(out) != 1 || len(out[0].Attachments) != 1 {
		t.Fatalf("attachments after pruning = %+v", out)
	}
}

func TestPruneHistoryTruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", historyRuneLimit+500)
	out := pruneHistory([]domain.Message{{Text: long}})
	if len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
	if !strings.HasSuffix(out[0].Text, truncationSuffix) {
		t.Errorf("missing truncation suffix: %q", out[0].Text[len(out[0].Text)-40:])
	}
	if got := len([]rune(out[0].Text)); got != historyRuneLimit+len([]rune(truncationSuffix)) {
		t.Errorf("truncated length = %d", got)
	}
}

func TestEditMessageTruncatesAndReruns(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("answer one")
	id, _ := h.ctrl.Send(context.Background(), "one", "m", nil)
	h.provider.chunks = chunks("answer two")
	h.ctrl.Send(context.Background(), "two", "m", nil)

	session, _ := h.store.Session(id)
	firstUser := session.Messages[0]

	h.provider.chunks = chunks("answer edited")
	if err := h.ctrl.EditMessage(context.Background(), id, firstUser.ID, "one edited", "m"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	session, _ = h.store.Session(id)
	if len(session.Messages) != 2 {
		t.Fatalf("messages after edit = %d, want 2", len(session.Messages))
	}
	if session.Messages[0].ID != firstUser.ID {
		t.Error("edited message lost its id")
	}
	if session.Messages[0].Text != "one edited" {
		t.Errorf("edited text = %q", session.Messages[0].Text)
	}
	if session.Messages[0].Timestamp < firstUser.Timestamp {
		t.Error("edited timestamp not refreshed")
	}
	if session.Messages[1].Text != "answer edited" {
		t.Errorf("rerun answer = %q", session.Messages[1].Text)
	}
}

func TestEditMessageUnknownIDs(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("a")
	id, _ := h.ctrl.Send(context.Background(), "one", "m", nil)

	if err := h.ctrl.EditMessage(context.Background(), "nope", "x", "t", "m"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if err := h.ctrl.EditMessage(context.Background(), id, "nope", "t", "m"); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Errorf("err = %v, want ErrMessageNotFound", err)
	}

	// Model messages are not editable.
	session, _ := h.store.Session(id)
	modelMsg := session.Messages[1]
	if err := h.ctrl.EditMessage(context.Background(), id, modelMsg.ID, "t", "m"); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Errorf("editing a model message: err = %v, want ErrMessageNotFound", err)
	}
}

func TestAnonymousSendSavesLocally(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("answer")
	if _, err := h.ctrl.Send(context.Background(), "hi", "m", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if h.remote.puts != 0 {
		t.Errorf("anonymous send wrote %d remote docs", h.remote.puts)
	}
	sessions, _ := h.local.LoadSessions()
	if len(sessions) != 1 {
		t.Fatalf("local sessions = %d, want 1", len(sessions))
	}
	if len(sessions[0].Messages) != 2 {
		t.Errorf("saved messages = %d, want 2", len(sessions[0].Messages))
	}
}

func TestSignedInSendSavesRemote(t *testing.T) {
	h := newHarness(t)
	h.loggedIn = true
	h.provider.chunks = chunks("chunk one ", "chunk two ", "chunk three")

	id, err := h.ctrl.Send(context.Background(), "hi", "m", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// One save for the user turn, one when the stream settles, none per chunk.
	if h.remote.puts != 2 {
		t.Errorf("remote puts = %d, want 2", h.remote.puts)
	}
	doc, ok := h.remote.docs[id]
	if !ok {
		t.Fatal("remote doc missing")
	}
	if doc.Messages[len(doc.Messages)-1].Text != "chunk one chunk two chunk three" {
		t.Errorf("remote doc text = %q", doc.Messages[len(doc.Messages)-1].Text)
	}
}

func TestSignedInUserTurnSavedBeforeStreamSettles(t *testing.T) {
	h := newHarness(t)
	h.loggedIn = true
	release := make(chan struct{})
	h.provider.block = release
	h.provider.chunks = chunks("late answer")

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Send(context.Background(), "hold this", "m", nil)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		h.remote.mu.Lock()
		puts := h.remote.puts
		h.remote.mu.Unlock()
		if puts >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("user turn never reached the remote store while streaming")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.remote.mu.Lock()
	var doc domain.ChatSession
	for _, d := range h.remote.docs {
		doc = d
	}
	h.remote.mu.Unlock()
	if len(doc.Messages) == 0 || doc.Messages[0].Text != "hold this" {
		t.Fatalf("saved doc missing the user turn: %+v", doc.Messages)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}
	if h.remote.puts != 2 {
		t.Errorf("remote puts = %d, want 2", h.remote.puts)
	}
}

func TestSignedInEditSavesTruncatedSession(t *testing.T) {
	h := newHarness(t)
	h.loggedIn = true
	h.provider.chunks = chunks("answer one")
	id, _ := h.ctrl.Send(context.Background(), "one", "m", nil)

	session, _ := h.store.Session(id)
	firstUser := session.Messages[0]
	before := h.remote.puts

	h.provider.chunks = chunks("answer edited")
	if err := h.ctrl.EditMessage(context.Background(), id, firstUser.ID, "one edited", "m"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := h.remote.puts - before; got != 2 {
		t.Errorf("remote puts during edit = %d, want 2", got)
	}
	doc := h.remote.docs[id]
	if doc.Messages[0].Text != "one edited" {
		t.Errorf("remote doc user text = %q", doc.Messages[0].Text)
	}
}

func TestGroundingLatestNonEmptyWins(t *testing.T) {
	h := newHarness(t)
	g1 := &domain.GroundingMetadata{GroundingChunks: []domain.GroundingChunk{{Web: &domain.WebSource{URI: "https://a", Title: "A"}}}}
	g2 := &domain.GroundingMetadata{GroundingChunks: []domain.GroundingChunk{{Web: &domain.WebSource{URI: "https://b", Title: "B"}}}}
	h.provider.chunks = []domain.StreamChunk{
		{Text: "one ", Grounding: g1},
		{Text: "two ", Grounding: &domain.GroundingMetadata{}},
		{Text: "three", Grounding: g2},
	}

	id, err := h.ctrl.Send(context.Background(), "hi", "m", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	session, _ := h.store.Session(id)
	last := session.Messages[len(session.Messages)-1]
	if last.Grounding == nil || len(last.Grounding.GroundingChunks) != 1 {
		t.Fatal("grounding missing")
	}
	if last.Grounding.GroundingChunks[0].Web.URI != "https://b" {
		t.Errorf("grounding uri = %q, want the latest non-empty", last.Grounding.GroundingChunks[0].Web.URI)
	}
}

func TestDeleteSessionCancelsStream(t *testing.T) {
	h := newHarness(t)
	h.loggedIn = true
	h.provider.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Send(context.Background(), "hi", "m", nil)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for len(h.store.Displayed()) < 2 {
		select {
		case <-deadline:
			t.Fatal("send never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	id := h.store.ActiveID()

	h.ctrl.DeleteSession(context.Background(), id)

	select {
	case err := <-done:
		if err == nil {
			t.Error("cancelled stream reported success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after delete")
	}
	if _, ok := h.store.Session(id); ok {
		t.Error("session still in store")
	}
	if len(h.remote.deleted) != 1 || h.remote.deleted[0] != id {
		t.Errorf("remote deletes = %v", h.remote.deleted)
	}
	if got, _ := h.local.GetKey(domain.KeyActiveSessionID); got != "" {
		t.Errorf("active id key survived delete: %q", got)
	}
}

func TestNewChatClearsActiveState(t *testing.T) {
	h := newHarness(t)
	h.provider.chunks = chunks("a")
	h.ctrl.Send(context.Background(), "hi", "m", nil)

	h.ctrl.NewChat()
	if h.store.ActiveID() != "" {
		t.Error("active id not cleared")
	}
	if got, _ := h.local.GetKey(domain.KeyActiveSessionID); got != "" {
		t.Errorf("active id key = %q", got)
	}
	if len(h.store.Sessions()) != 1 {
		t.Error("new chat dropped the existing session")
	}
}

func TestCloseRejectsFurtherSends(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Close()
	if _, err := h.ctrl.Send(context.Background(), "hi", "m", nil); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestActivityLabelLifecycle(t *testing.T) {
	a := newActivityState()
	if a.get() != ActivityIdle {
		t.Fatalf("initial = %v", a.get())
	}
	stop := a.startLabelTicker(IntentVideoSearch)
	if a.get() != ActivityVideoSearch {
		t.Errorf("after start = %v", a.get())
	}
	stop()
	if a.get() != ActivityIdle {
		t.Errorf("after stop = %v", a.get())
	}
	// stop is idempotent
	stop()

	stop = a.startLabelTicker(IntentPlain)
	if a.get() != ActivityThinking {
		t.Errorf("plain intent = %v", a.get())
	}
	stop()
}
