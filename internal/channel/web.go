// Package channel exposes the chat engine over transports: a JSON HTTP API
// with websocket and SSE event feeds for browser clients, and an
// interactive terminal REPL.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lumichat/internal/audio"
	"lumichat/internal/auth"
	"lumichat/internal/chat"
	"lumichat/internal/domain"
	"lumichat/internal/locale"
	"lumichat/internal/metrics"
	"lumichat/internal/store"
)

const (
	maxBodySize    = 32 << 20 // inline attachments ride in the send body
	requestTimeout = 180 * time.Second
)

// Web serves the chat API and the websocket event feed.
type Web struct {
	host    string
	port    int
	ctrl    *chat.Controller
	store   *store.Store
	bridge  *auth.Bridge
	speech  domain.SpeechProvider
	player  *audio.Player
	strings *locale.Strings
	logger  *slog.Logger
	server  *http.Server

	metricsEndpoint string

	mu      sync.Mutex
	clients map[string]*wsClient
	sse     map[string]chan event

	unsubscribe func()
}

type WebConfig struct {
	Host            string
	Port            int
	Controller      *chat.Controller
	Store           *store.Store
	Bridge          *auth.Bridge
	Speech          domain.SpeechProvider // nil disables /api/speak
	Strings         *locale.Strings
	MetricsEndpoint string // "" disables the metrics route
	Logger          *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	w := &Web{
		host:            cfg.Host,
		port:            cfg.Port,
		ctrl:            cfg.Controller,
		store:           cfg.Store,
		bridge:          cfg.Bridge,
		speech:          cfg.Speech,
		player:          audio.NewPlayer(),
		strings:         cfg.Strings,
		logger:          cfg.Logger,
		metricsEndpoint: cfg.MetricsEndpoint,
		clients:         make(map[string]*wsClient),
		sse:             make(map[string]chan event),
	}
	w.unsubscribe = w.store.Subscribe(func(evt store.Event) {
		metrics.SessionsGauge.Set(int64(len(w.store.Sessions())))
		w.broadcast(event{
			Type:          "store",
			Kind:          string(evt.Kind),
			SessionID:     evt.SessionID,
			ActiveChanged: evt.ActiveChanged,
		})
	})
	w.ctrl.OnActivity(func(a chat.Activity) {
		w.broadcast(event{
			Type:    "activity",
			State:   string(a),
			Phrases: w.strings.ActivityPhrases(string(a)),
		})
	})
	return w
}

func (w *Web) Name() string { return "web" }

// wsClient tracks one websocket subscriber.
type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// event is the JSON frame pushed to websocket subscribers.
type event struct {
	Type          string   `json:"type"` // "store" | "activity"
	Kind          string   `json:"kind,omitempty"`
	SessionID     string   `json:"sessionId,omitempty"`
	ActiveChanged bool     `json:"activeChanged,omitempty"`
	State         string   `json:"state,omitempty"`
	Phrases       []string `json:"phrases,omitempty"`
}

// Start runs the server until ctx is cancelled.
func (w *Web) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           http.MaxBytesHandler(w.routes(), maxBodySize),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web API started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// Handler returns the route table. Exposed for tests.
func (w *Web) Handler() http.Handler { return w.routes() }

func (w *Web) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", w.handleStatus)
	mux.HandleFunc("GET /ws", w.handleWS)
	mux.HandleFunc("GET /events", w.handleEvents)

	mux.HandleFunc("GET /api/sessions", w.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", w.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/select", w.handleSelectSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", w.handleDeleteSession)

	mux.HandleFunc("POST /api/chat/send", w.handleSend)
	mux.HandleFunc("POST /api/chat/new", w.handleNewChat)
	mux.HandleFunc("POST /api/chat/edit", w.handleEdit)

	mux.HandleFunc("GET /api/profile", w.handleProfile)
	mux.HandleFunc("POST /api/auth/signin", w.handleSignIn)
	mux.HandleFunc("POST /api/auth/signout", w.handleSignOut)
	mux.HandleFunc("GET /api/onboarding", w.handleGetOnboarding)
	mux.HandleFunc("POST /api/onboarding", w.handleSetOnboarding)

	if w.speech != nil {
		mux.HandleFunc("POST /api/speak", w.handleSpeak)
		mux.HandleFunc("POST /api/speak/stop", w.handleSpeakStop)
	}
	if w.metricsEndpoint != "" {
		mux.HandleFunc("GET "+w.metricsEndpoint, metrics.Collector.Handler())
	}
	return mux
}

func (w *Web) broadcast(evt event) {
	w.mu.Lock()
	clients := make([]*wsClient, 0, len(w.clients))
	for _, c := range w.clients {
		clients = append(clients, c)
	}
	sse := make([]chan event, 0, len(w.sse))
	for _, ch := range w.sse {
		sse = append(sse, ch)
	}
	w.mu.Unlock()
	for _, c := range clients {
		if err := c.send(evt); err != nil {
			w.dropClient(c)
		}
	}
	for _, ch := range sse {
		select {
		case ch <- evt:
		default: // slow reader loses the event rather than stalling the store
		}
	}
}

// handleEvents streams store and activity events as server-sent events for
// clients that cannot hold a websocket.
func (w *Web) handleEvents(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		writeError(rw, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id := uuid.NewString()
	ch := make(chan event, 16)
	w.mu.Lock()
	w.sse[id] = ch
	w.mu.Unlock()
	metrics.EventSubscribers.Inc()
	defer func() {
		w.mu.Lock()
		delete(w.sse, id)
		w.mu.Unlock()
		metrics.EventSubscribers.Dec()
	}()

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(rw, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (w *Web) dropClient(c *wsClient) {
	w.mu.Lock()
	if _, ok := w.clients[c.id]; ok {
		delete(w.clients, c.id)
		metrics.EventSubscribers.Dec()
	}
	w.mu.Unlock()
	c.conn.Close()
}

func (w *Web) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &wsClient{id: uuid.NewString(), conn: conn}
	w.mu.Lock()
	w.clients[c.id] = c
	w.mu.Unlock()
	metrics.EventSubscribers.Inc()
	w.logger.Info("event subscriber connected", "client", c.id, "remote", r.RemoteAddr)

	// Reads only detect the close; clients never send frames.
	go func() {
		defer w.dropClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(w.store.Sessions()),
		"activity": string(w.ctrl.Activity()),
		"uptime":   int64(metrics.Collector.Uptime().Seconds()),
	})
}

// sessionSummary is the list-view projection of a session.
type sessionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"`
	Messages  int    `json:"messages"`
	Active    bool   `json:"active"`
}

func (w *Web) handleListSessions(rw http.ResponseWriter, r *http.Request) {
	sessions := w.store.Sessions()
	active := w.store.ActiveID()
	out := make([]sessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = sessionSummary{
			ID:        s.ID,
			Title:     s.Title,
			Timestamp: s.Timestamp,
			Messages:  len(s.Messages),
			Active:    s.ID == active,
		}
	}
	writeJSON(rw, http.StatusOK, out)
}

func (w *Web) handleGetSession(rw http.ResponseWriter, r *http.Request) {
	session, ok := w.store.Session(r.PathValue("id"))
	if !ok {
		writeError(rw, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(rw, http.StatusOK, session)
}

func (w *Web) handleSelectSession(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	w.ctrl.SelectSession(id)
	if w.store.ActiveID() != id {
		writeError(rw, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"active": id})
}

func (w *Web) handleDeleteSession(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	w.ctrl.DeleteSession(ctx, r.PathValue("id"))
	rw.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Text        string              `json:"text"`
	ModelID     string              `json:"modelId"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

func (w *Web) handleSend(rw http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		writeError(rw, http.StatusBadRequest, "empty message")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	sessionID, err := w.ctrl.Send(ctx, req.Text, req.ModelID, req.Attachments)
	if errors.Is(err, domain.ErrBusy) {
		writeError(rw, http.StatusConflict, "a response is already streaming in this session")
		return
	}
	// Stream errors land in the session as an error bubble; the request
	// itself still succeeded.
	session, ok := w.store.Session(sessionID)
	if !ok {
		writeError(rw, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(rw, http.StatusOK, session)
}

type editRequest struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	ModelID   string `json:"modelId"`
}

func (w *Web) handleEdit(rw http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Text == "" {
		writeError(rw, http.StatusBadRequest, "empty message")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	err := w.ctrl.EditMessage(ctx, req.SessionID, req.MessageID, req.Text, req.ModelID)
	switch {
	case errors.Is(err, domain.ErrBusy):
		writeError(rw, http.StatusConflict, "a response is already streaming in this session")
		return
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrMessageNotFound):
		writeError(rw, http.StatusNotFound, err.Error())
		return
	}
	session, ok := w.store.Session(req.SessionID)
	if !ok {
		writeError(rw, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(rw, http.StatusOK, session)
}

func (w *Web) handleNewChat(rw http.ResponseWriter, r *http.Request) {
	w.ctrl.NewChat()
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Web) handleProfile(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, w.bridge.Profile())
}

func (w *Web) handleSignIn(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(rw, http.StatusBadRequest, "token required")
		return
	}
	profile, err := w.bridge.SignIn(r.Context(), req.Token)
	if err != nil {
		var ae *auth.Error
		status := http.StatusUnauthorized
		if errors.As(err, &ae) && ae.ConfigProblem() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(rw, status, map[string]string{"error": auth.Guidance(err)})
		return
	}
	writeJSON(rw, http.StatusOK, profile)
}

func (w *Web) handleSignOut(rw http.ResponseWriter, r *http.Request) {
	w.bridge.SignOut(r.Context())
	writeJSON(rw, http.StatusOK, w.bridge.Profile())
}

func (w *Web) handleGetOnboarding(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]bool{"onboarded": w.bridge.Onboarded()})
}

func (w *Web) handleSetOnboarding(rw http.ResponseWriter, r *http.Request) {
	w.bridge.SetOnboarded()
	rw.WriteHeader(http.StatusNoContent)
}

type speakRequest struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// handleSpeak synthesizes a message and returns it as WAV. A second request
// for the message already playing stops it instead.
func (w *Web) handleSpeak(rw http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(rw, http.StatusBadRequest, "text required")
		return
	}

	if _, started := w.player.Toggle(req.MessageID); !started {
		rw.WriteHeader(http.StatusNoContent)
		return
	}

	metrics.SpeechTotal.Inc()
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	pcm, err := w.speech.Synthesize(ctx, req.Text)
	if err != nil {
		w.player.Stop()
		w.logger.Error("speech synthesis failed", "message", req.MessageID, "err", err)
		writeError(rw, http.StatusBadGateway, "speech synthesis failed")
		return
	}

	rw.Header().Set("Content-Type", "audio/wav")
	rw.Write(audio.WAVFromPCM(pcm))
}

func (w *Web) handleSpeakStop(rw http.ResponseWriter, r *http.Request) {
	w.player.Stop()
	rw.WriteHeader(http.StatusNoContent)
}
