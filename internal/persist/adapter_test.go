package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"lumichat/internal/domain"
)

type fakeRemote struct {
	docs    map[string]domain.ChatSession
	putErr  error
	listErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: make(map[string]domain.ChatSession)}
}

func (f *fakeRemote) PutSession(_ context.Context, _ string, s domain.ChatSession) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.docs[s.ID] = s
	return nil
}

func (f *fakeRemote) ListSessions(_ context.Context, _ string) ([]domain.ChatSession, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.ChatSession, 0, len(f.docs))
	for _, s := range f.docs {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRemote) DeleteSession(_ context.Context, _, id string) error {
	delete(f.docs, id)
	return nil
}

type fakeBlobs struct {
	uploads int
	err     error
}

func (f *fakeBlobs) PutBlob(_ context.Context, userID, _, filename string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads++
	return fmt.Sprintf("https://blobs.example/%s/%s", userID, filename), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionWithInlineAttachment() domain.ChatSession {
	return domain.ChatSession{
		ID:        "s1",
		Title:     "test",
		Timestamp: 10,
		Messages: []domain.Message{
			{
				ID:   "m1",
				Role: domain.RoleUser,
				Text: "look at this",
				Attachments: []domain.Attachment{
					{Type: domain.AttachmentImage, Content: "data:image/png;base64,QUJD", MimeType: "image/png", Name: "pic.png"},
				},
			},
		},
	}
}

func TestSaveRemote_UploadsInlineAttachments(t *testing.T) {
	remote := newFakeRemote()
	blobs := &fakeBlobs{}
	a := NewAdapter(nil, remote, blobs, testLogger())

	session := sessionWithInlineAttachment()
	if err := a.SaveRemote(context.Background(), "u1", session); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	doc := remote.docs["s1"]
	att := doc.Messages[0].Attachments[0]
	if att.IsInline() {
		t.Fatalf("persisted document must not contain inline payloads, got %q", att.Content)
	}
	if !strings.HasPrefix(att.Content, "https://blobs.example/u1/") {
		t.Fatalf("attachment content should be the blob URL, got %q", att.Content)
	}
	// The in-memory session is untouched.
	if !session.Messages[0].Attachments[0].IsInline() {
		t.Fatalf("save must work on a deep copy, original was mutated")
	}
}

func TestSaveRemote_ResaveDoesNotReupload(t *testing.T) {
	remote := newFakeRemote()
	blobs := &fakeBlobs{}
	a := NewAdapter(nil, remote, blobs, testLogger())

	if err := a.SaveRemote(context.Background(), "u1", sessionWithInlineAttachment()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	first := blobs.uploads

	// Re-save the loaded document unchanged: content is already a URL.
	loaded := remote.docs["s1"]
	if err := a.SaveRemote(context.Background(), "u1", loaded); err != nil {
		t.Fatalf("resave failed: %v", err)
	}
	if blobs.uploads != first {
		t.Fatalf("resaving a URL attachment must not re-upload: %d -> %d", first, blobs.uploads)
	}
}

func TestSaveRemote_BlobFailureFallsBackToInline(t *testing.T) {
	remote := newFakeRemote()
	blobs := &fakeBlobs{err: errors.New("storage quota")}
	a := NewAdapter(nil, remote, blobs, testLogger())

	if err := a.SaveRemote(context.Background(), "u1", sessionWithInlineAttachment()); err != nil {
		t.Fatalf("save must complete despite blob failure: %v", err)
	}
	doc, ok := remote.docs["s1"]
	if !ok {
		t.Fatalf("session document should still be written")
	}
	if got := doc.Messages[0].Attachments[0].Content; got != "data:image/png;base64,QUJD" {
		t.Fatalf("attachment should keep its inline content on upload failure, got %q", got)
	}
}

func TestLoadRemote_FailureMeansEmptyHistory(t *testing.T) {
	remote := newFakeRemote()
	remote.listErr = errors.New("unreachable")
	a := NewAdapter(nil, remote, &fakeBlobs{}, testLogger())

	sessions := a.LoadRemote(context.Background(), "u1")
	if len(sessions) != 0 {
		t.Fatalf("load failure should yield empty history, got %d", len(sessions))
	}
}

func TestSaveRemote_PutFailureSurfacesToCaller(t *testing.T) {
	remote := newFakeRemote()
	remote.putErr = errors.New("permission denied")
	a := NewAdapter(nil, remote, &fakeBlobs{}, testLogger())

	err := a.SaveRemote(context.Background(), "u1", sessionWithInlineAttachment())
	if err == nil {
		t.Fatalf("document write failure should be reported")
	}
}
