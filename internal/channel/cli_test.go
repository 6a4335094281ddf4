package channel

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"lumichat/internal/auth"
	"lumichat/internal/chat"
	"lumichat/internal/domain"
	"lumichat/internal/locale"
	"lumichat/internal/persist"
	"lumichat/internal/share"
	"lumichat/internal/store"
)

type memCopier struct {
	mu   sync.Mutex
	text string
}

func (m *memCopier) WriteAll(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	return nil
}

func newTestCLI(t *testing.T, provider *scriptProvider, input string, out *bytes.Buffer) (*CLI, *memCopier) {
	t.Helper()
	logger := testLogger()
	st := store.New(logger)
	adapter := persist.NewAdapter(newMemLocal(), newMemRemote(), nopBlobs{}, logger)
	bridge := auth.NewBridge(st, adapter, &fakeVerifier{}, logger)
	ctrl := chat.NewController(st, adapter, provider, bridge.Profile, logger)
	strs, err := locale.Load(locale.Indonesian)
	if err != nil {
		t.Fatal(err)
	}
	copier := &memCopier{}
	return NewCLI(CLIConfig{
		Controller: ctrl,
		Store:      st,
		Bridge:     bridge,
		Sharer:     share.NewWithCopier(copier, logger),
		Strings:    strs,
		Logger:     logger,
		In:         strings.NewReader(input),
		Out:        out,
	}), copier
}

func TestCLISendPrintsAnswer(t *testing.T) {
	provider := &scriptProvider{chunks: []domain.StreamChunk{{Text: "Jakarta is the capital."}}}
	out := &bytes.Buffer{}
	cli, _ := newTestCLI(t, provider, "what is the capital of Indonesia\n", out)

	if err := cli.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out.String(), "Jakarta is the capital.") {
		t.Errorf("output missing answer: %s", out.String())
	}
}

func TestCLIStripsReasoningFromAnswer(t *testing.T) {
	provider := &scriptProvider{chunks: []domain.StreamChunk{
		{Text: "<thinking>step by step</thinking><answer>42</answer>"},
	}}
	out := &bytes.Buffer{}
	cli, _ := newTestCLI(t, provider, "meaning of life\n/copy\n", out)

	if err := cli.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if strings.Contains(out.String(), "step by step") {
		t.Error("reasoning leaked into printed answer")
	}
	if !strings.Contains(out.String(), "42") {
		t.Errorf("answer missing: %s", out.String())
	}
}

func TestCLICopyUsesClipboard(t *testing.T) {
	provider := &scriptProvider{chunks: []domain.StreamChunk{{Text: "copy me"}}}
	out := &bytes.Buffer{}
	cli, copier := newTestCLI(t, provider, "hello\n/copy\n/quit\n", out)

	if err := cli.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if copier.text != "copy me" {
		t.Errorf("clipboard = %q", copier.text)
	}
}

func TestCLIListAndDelete(t *testing.T) {
	provider := &scriptProvider{chunks: []domain.StreamChunk{{Text: "ok"}}}
	out := &bytes.Buffer{}
	cli, _ := newTestCLI(t, provider, "first chat\n/list\n/delete 1\n/list\n/quit\n", out)

	if err := cli.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out.String(), "1. first chat") {
		t.Errorf("list missing session: %s", out.String())
	}
	if !strings.Contains(out.String(), "Deleted \"first chat\".") {
		t.Errorf("delete confirmation missing: %s", out.String())
	}
	if !strings.Contains(out.String(), "No chats yet.") {
		t.Errorf("second list should be empty: %s", out.String())
	}
}

func TestCLIUnknownCommand(t *testing.T) {
	out := &bytes.Buffer{}
	cli, _ := newTestCLI(t, &scriptProvider{}, "/bogus\n/quit\n", out)

	if err := cli.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out.String(), "Unknown command /bogus") {
		t.Errorf("output = %s", out.String())
	}
}
