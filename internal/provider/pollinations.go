package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"

	"lumichat/internal/domain"
	"lumichat/internal/httpx"
)

const pollinationsAPIURL = "https://text.pollinations.ai/"

// Pollinations implements domain.TextProvider against the keyless
// Pollinations text API. The API returns the whole completion in one
// response, so the stream carries a single chunk.
type Pollinations struct {
	apiURL            string
	systemInstruction string
	client            *http.Client
	logger            *slog.Logger
}

type PollinationsConfig struct {
	APIURL            string
	SystemInstruction string
	Logger            *slog.Logger
}

func NewPollinations(cfg PollinationsConfig) *Pollinations {
	if cfg.APIURL == "" {
		cfg.APIURL = pollinationsAPIURL
	}
	return &Pollinations{
		apiURL:            cfg.APIURL,
		systemInstruction: cfg.SystemInstruction,
		client:            httpx.SharedClient(defaultHTTPTimeout),
		logger:            cfg.Logger,
	}
}

func (p *Pollinations) Name() string { return "pollinations" }

type pollinationsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type pollinationsRequest struct {
	Messages []pollinationsMessage `json:"messages"`
	Model    string                `json:"model"`
	Seed     int                   `json:"seed"`
	JSONMode bool                  `json:"jsonMode"`
}

// backendModel maps routing ids onto the upstream model pool.
func backendModel(modelID string) string {
	switch {
	case strings.Contains(modelID, "claude"):
		return "claude"
	case strings.Contains(modelID, "fast"), strings.Contains(modelID, "2.5"):
		return "mistral"
	default:
		return "openai"
	}
}

func (p *Pollinations) StreamMessage(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamChunk) error {
	defer close(out)

	msgs := make([]pollinationsMessage, 0, len(req.History)+2)
	if p.systemInstruction != "" {
		msgs = append(msgs, pollinationsMessage{Role: "system", Content: p.systemInstruction})
	}
	for _, m := range req.History {
		role := "user"
		if m.Role == domain.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, pollinationsMessage{Role: role, Content: m.Text})
	}
	msgs = append(msgs, pollinationsMessage{Role: "user", Content: req.UserText})

	body := pollinationsRequest{
		Messages: msgs,
		Model:    backendModel(req.ModelID),
		Seed:     rand.Intn(1000000),
		JSONMode: false,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("pollinations request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pollinations %d: %s", resp.StatusCode, resp.Status)
	}

	// The endpoint replies with plain text, not JSON.
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pollinations read: %w", err)
	}
	select {
	case out <- domain.StreamChunk{Text: string(text)}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
