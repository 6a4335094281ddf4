package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lumichat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collect drains a provider stream the way the controller does.
func collect(t *testing.T, p domain.TextProvider, req domain.ChatRequest) (string, *domain.GroundingMetadata, error) {
	t.Helper()
	out := make(chan domain.StreamChunk, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.StreamMessage(context.Background(), req, out)
	}()
	var full strings.Builder
	var grounding *domain.GroundingMetadata
	for chunk := range out {
		full.WriteString(chunk.Text)
		if chunk.Grounding != nil && !chunk.Grounding.Empty() {
			grounding = chunk.Grounding
		}
	}
	return full.String(), grounding, <-errCh
}

func TestGeminiStreaming(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}`+"\n\n")
		io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":", world"}]},"groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://example.com","title":"Example"}}]}}]}`+"\n\n")
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{
		APIKey:            "test-key",
		APIBase:           srv.URL,
		SystemInstruction: "be helpful",
		Logger:            testLogger(),
	})

	text, grounding, err := collect(t, g, domain.ChatRequest{
		UserText: "hi",
		History: []domain.Message{
			{Role: domain.RoleUser, Text: "earlier question"},
			{Role: domain.RoleModel, Text: "earlier answer"},
		},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text != "Hello, world" {
		t.Errorf("text = %q", text)
	}
	if grounding == nil || len(grounding.GroundingChunks) != 1 {
		t.Fatal("grounding missing")
	}
	if grounding.GroundingChunks[0].Web.URI != "https://example.com" {
		t.Errorf("grounding uri = %q", grounding.GroundingChunks[0].Web.URI)
	}

	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "be helpful" {
		t.Error("system instruction not sent")
	}
	if len(gotBody.Tools) != 1 || gotBody.Tools[0].GoogleSearch == nil {
		t.Error("search tool not enabled")
	}
	if gotBody.GenerationConfig == nil || gotBody.GenerationConfig.MaxOutputTokens != geminiMaxOutputTokens {
		t.Error("output token cap not set")
	}
	// history roles: user, model, then the current user turn
	if len(gotBody.Contents) != 3 {
		t.Fatalf("contents = %d", len(gotBody.Contents))
	}
	if gotBody.Contents[1].Role != "model" {
		t.Errorf("history role = %q", gotBody.Contents[1].Role)
	}
	if gotBody.Contents[2].Parts[len(gotBody.Contents[2].Parts)-1].Text != "hi" {
		t.Error("current turn text missing")
	}
}

func TestGeminiHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "bad", APIBase: srv.URL, Logger: testLogger()})
	_, _, err := collect(t, g, domain.ChatRequest{UserText: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "API key not valid") {
		t.Errorf("err = %v", err)
	}
}

func TestGeminiURLAttachmentReencodedInline(t *testing.T) {
	blob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer blob.Close()

	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`+"\n\n")
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	_, _, err := collect(t, g, domain.ChatRequest{
		UserText: "what is this",
		Attachments: []domain.Attachment{{
			Type:     domain.AttachmentImage,
			Content:  blob.URL + "/img.png",
			MimeType: "image/png",
		}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	parts := gotBody.Contents[len(gotBody.Contents)-1].Parts
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want inline data plus text", len(parts))
	}
	if parts[0].InlineData == nil {
		t.Fatal("inline data missing")
	}
	want := base64.StdEncoding.EncodeToString([]byte("image-bytes"))
	if parts[0].InlineData.Data != want {
		t.Errorf("inline data = %q, want %q", parts[0].InlineData.Data, want)
	}
	if parts[0].InlineData.MimeType != "image/png" {
		t.Errorf("mime = %q", parts[0].InlineData.MimeType)
	}
}

func TestGeminiInlineAttachmentPassesPayload(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `data: {"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`+"\n\n")
	}))
	defer srv.Close()

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	_, _, err := collect(t, g, domain.ChatRequest{
		UserText: "describe",
		Attachments: []domain.Attachment{{
			Type:     domain.AttachmentImage,
			Content:  "data:image/png;base64,AAAA",
			MimeType: "image/png",
		}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	parts := gotBody.Contents[0].Parts
	if parts[0].InlineData == nil || parts[0].InlineData.Data != "AAAA" {
		t.Errorf("inline payload not forwarded: %+v", parts[0])
	}
}
