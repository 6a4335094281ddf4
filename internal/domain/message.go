package domain

import "strings"

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// AttachmentType classifies an attachment payload.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
)

// Attachment is a binary payload attached to a message. Content is either an
// inline data URI ("data:<mime>;base64,<payload>") or a remote URL. Once a
// session has been saved remotely, attachments in the stored document carry
// URLs; inline payloads only live in local storage and in-memory state.
type Attachment struct {
	Type     AttachmentType `json:"type"`
	Content  string         `json:"content"`
	MimeType string         `json:"mimeType"`
	Name     string         `json:"name,omitempty"`
}

// IsInline reports whether the content is an inline data URI.
func (a Attachment) IsInline() bool {
	return strings.HasPrefix(a.Content, "data:")
}

// IsURL reports whether the content is a remote URL.
func (a Attachment) IsURL() bool {
	return strings.HasPrefix(a.Content, "http")
}

// InlinePayload returns the base64 payload of an inline data URI, without the
// "data:<mime>;base64," prefix. Empty string when the content is not inline.
func (a Attachment) InlinePayload() string {
	if !a.IsInline() {
		return ""
	}
	if idx := strings.IndexByte(a.Content, ','); idx >= 0 {
		return a.Content[idx+1:]
	}
	return ""
}

// GroundingChunk is a single citation source attached to a model response.
type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

// WebSource is a web citation.
type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GroundingMetadata carries citation information for rendering reference links.
type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks"`
}

// Empty reports whether the metadata carries no citations.
func (g *GroundingMetadata) Empty() bool {
	return g == nil || len(g.GroundingChunks) == 0
}

// Message is one entry in a chat session. Text of a model message grows in
// place while its stream is live and is immutable afterwards.
type Message struct {
	ID          string             `json:"id"`
	Role        Role               `json:"role"`
	Text        string             `json:"text"`
	Timestamp   int64              `json:"timestamp"` // unix milliseconds
	Attachments []Attachment       `json:"attachments,omitempty"`
	Grounding   *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// ChatSession is one conversation thread: an ordered message list with a
// title derived once from the first user message.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds, creation time
}

// Clone returns a deep copy of the session. Persistence backends work on
// clones so they never mutate the store's session objects.
func (s ChatSession) Clone() ChatSession {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m
		if len(m.Attachments) > 0 {
			out.Messages[i].Attachments = append([]Attachment(nil), m.Attachments...)
		}
		if m.Grounding != nil {
			g := *m.Grounding
			g.GroundingChunks = append([]GroundingChunk(nil), m.Grounding.GroundingChunks...)
			out.Messages[i].Grounding = &g
		}
	}
	return out
}

// UserProfile describes the current identity. UID is set if and only if
// IsLoggedIn is true; it keys all remote persistence.
type UserProfile struct {
	Name       string `json:"name"`
	Bio        string `json:"bio"`
	IsLoggedIn bool   `json:"isLoggedIn"`
	PhotoURL   string `json:"photoURL,omitempty"`
	UID        string `json:"uid,omitempty"`
}
