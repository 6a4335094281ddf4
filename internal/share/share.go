// Package share copies answers and transcripts out of the app. The system
// clipboard is the delivery mechanism; an injected copier makes it testable.
package share

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/atotto/clipboard"

	"lumichat/internal/domain"
)

// Copier writes text to the system clipboard.
type Copier interface {
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Sharer formats messages and sessions for sharing.
type Sharer struct {
	copier Copier
	logger *slog.Logger
}

func New(logger *slog.Logger) *Sharer {
	return &Sharer{copier: systemClipboard{}, logger: logger}
}

func NewWithCopier(copier Copier, logger *slog.Logger) *Sharer {
	return &Sharer{copier: copier, logger: logger}
}

// CopyMessage puts one answer's text on the clipboard.
func (s *Sharer) CopyMessage(text string) error {
	if err := s.copier.WriteAll(text); err != nil {
		return fmt.Errorf("copy message: %w", err)
	}
	s.logger.Info("message copied", "chars", len(text))
	return nil
}

// CopyTranscript formats a whole session as readable text and copies it.
func (s *Sharer) CopyTranscript(session domain.ChatSession) error {
	text := Transcript(session)
	if err := s.copier.WriteAll(text); err != nil {
		return fmt.Errorf("copy transcript: %w", err)
	}
	s.logger.Info("transcript copied", "session", session.ID, "messages", len(session.Messages))
	return nil
}

// Open hands a URL to the OS default handler. Best effort: unsupported
// platforms and headless hosts report an error instead of guessing.
func (s *Sharer) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("no opener for %s", runtime.GOOS)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open url: %w", err)
	}
	s.logger.Info("opened externally", "url", url)
	return nil
}

// Transcript renders a session as plain text with speaker labels.
func Transcript(session domain.ChatSession) string {
	var b strings.Builder
	b.WriteString(session.Title)
	b.WriteString("\n\n")
	for _, m := range session.Messages {
		label := "You"
		if m.Role == domain.RoleModel {
			label = "AI"
		}
		fmt.Fprintf(&b, "%s: %s\n\n", label, m.Text)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
