package provider

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"lumichat/internal/domain"
)

func TestPollinationsSingleChunk(t *testing.T) {
	var gotBody pollinationsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, "the full answer")
	}))
	defer srv.Close()

	p := NewPollinations(PollinationsConfig{
		APIURL:            srv.URL,
		SystemInstruction: "be brief",
		Logger:            testLogger(),
	})
	text, _, err := collect(t, p, domain.ChatRequest{
		UserText: "question",
		ModelID:  "lumi-v5",
		History: []domain.Message{
			{Role: domain.RoleUser, Text: "q1"},
			{Role: domain.RoleModel, Text: "a1"},
		},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text != "the full answer" {
		t.Errorf("text = %q", text)
	}

	if len(gotBody.Messages) != 4 {
		t.Fatalf("messages = %d", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "be brief" {
		t.Error("system message not prepended")
	}
	if gotBody.Messages[2].Role != "assistant" {
		t.Errorf("model history role = %q, want assistant", gotBody.Messages[2].Role)
	}
	if gotBody.Messages[3].Content != "question" {
		t.Error("current message missing")
	}
}

func TestPollinationsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPollinations(PollinationsConfig{APIURL: srv.URL, Logger: testLogger()})
	_, _, err := collect(t, p, domain.ChatRequest{UserText: "q"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestBackendModelMapping(t *testing.T) {
	cases := map[string]string{
		"lumi-claude-bridge": "claude",
		"lumi-fast":          "mistral",
		"gen2-v2.5":             "mistral",
		"lumi-v5":            "openai",
		"":                      "openai",
	}
	for in, want := range cases {
		if got := backendModel(in); got != want {
			t.Errorf("backendModel(%q) = %q, want %q", in, got, want)
		}
	}
}
