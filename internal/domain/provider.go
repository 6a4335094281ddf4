package domain

import "context"

// StreamChunk is one increment of a model response: a text delta plus
// optional citation metadata. Later chunks' metadata supersedes earlier.
type StreamChunk struct {
	Text      string
	Grounding *GroundingMetadata
}

// ChatRequest is a single model round-trip. History is the pruned prior
// message list; the provider treats ModelID as opaque routing data.
type ChatRequest struct {
	UserText    string
	ModelID     string
	History     []Message
	Attachments []Attachment
}

// TextProvider streams a model response chunk by chunk. Implementations
// close out before returning; the returned error reports stream failure.
type TextProvider interface {
	StreamMessage(ctx context.Context, req ChatRequest, out chan<- StreamChunk) error
	Name() string
}

// SpeechProvider synthesizes plain text into a single audio payload
// (16-bit PCM, mono, fixed sample rate).
type SpeechProvider interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
