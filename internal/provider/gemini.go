// Package provider implements the model backends: Gemini as the primary
// streaming text provider with search grounding, Pollinations as the
// keyless fallback, and Gemini speech synthesis for reading answers aloud.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lumichat/internal/domain"
	"lumichat/internal/httpx"
)

const (
	geminiAPIBase         = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel    = "gemini-2.5-flash"
	geminiMaxOutputTokens = 4096
	defaultHTTPTimeout    = 120 * time.Second
)

// Gemini implements domain.TextProvider against the Gemini REST API with
// server-sent-event streaming and the Google Search tool enabled.
type Gemini struct {
	apiKey            string
	apiBase           string
	model             string
	systemInstruction string
	client            *http.Client
	logger            *slog.Logger
}

type GeminiConfig struct {
	APIKey            string
	APIBase           string
	Model             string
	SystemInstruction string
	Logger            *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = geminiAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	return &Gemini{
		apiKey:            cfg.APIKey,
		apiBase:           cfg.APIBase,
		model:             cfg.Model,
		systemInstruction: cfg.SystemInstruction,
		client:            httpx.SharedClient(defaultHTTPTimeout),
		logger:            cfg.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiStreamResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		GroundingMetadata *domain.GroundingMetadata `json:"groundingMetadata"`
	} `json:"candidates"`
	Error *geminiAPIError `json:"error"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// StreamMessage sends the conversation and streams response deltas into out.
// The channel is closed before returning on every path.
func (g *Gemini) StreamMessage(ctx context.Context, req domain.ChatRequest, out chan<- domain.StreamChunk) error {
	defer close(out)

	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range req.History {
		parts := g.buildParts(ctx, m.Text, m.Attachments)
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if m.Role == domain.RoleModel {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: parts})
	}
	current := g.buildParts(ctx, req.UserText, req.Attachments)
	if len(current) == 0 {
		return fmt.Errorf("gemini: empty message")
	}
	contents = append(contents, geminiContent{Role: "user", Parts: current})

	body := geminiRequest{
		Contents:         contents,
		Tools:            []geminiTool{{GoogleSearch: &struct{}{}}},
		GenerationConfig: &geminiGenConfig{MaxOutputTokens: geminiMaxOutputTokens},
	}
	if g.systemInstruction != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: g.systemInstruction}}}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.apiBase, g.modelName(req.ModelID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error *geminiAPIError `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != nil {
			return fmt.Errorf("gemini %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("gemini %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var chunk geminiStreamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			g.logger.Warn("skipping malformed stream event", "err", err)
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("gemini stream: %s", chunk.Error.Message)
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
		select {
		case out <- domain.StreamChunk{Text: text.String(), Grounding: cand.GroundingMetadata}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gemini stream read: %w", err)
	}
	return nil
}

// modelName collapses every routing id onto the single served model; old
// sessions may still reference retired ids.
func (g *Gemini) modelName(string) string { return g.model }

// buildParts converts one message into request parts. URL attachments are
// fetched and re-encoded inline since the API only accepts inline data;
// a fetch failure drops the attachment rather than failing the turn.
func (g *Gemini) buildParts(ctx context.Context, text string, atts []domain.Attachment) []geminiPart {
	var parts []geminiPart
	for _, att := range atts {
		var data string
		switch {
		case att.IsURL():
			data = g.fetchAsBase64(ctx, att.Content)
		case att.IsInline():
			data = att.InlinePayload()
		}
		if data == "" {
			continue
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: att.MimeType,
			Data:     data,
		}})
	}
	if text != "" {
		parts = append(parts, geminiPart{Text: text})
	}
	return parts
}

func (g *Gemini) fetchAsBase64(ctx context.Context, url string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("attachment fetch failed", "url", url, "err", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("attachment fetch failed", "url", url, "status", resp.StatusCode)
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		g.logger.Warn("attachment read failed", "url", url, "err", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
