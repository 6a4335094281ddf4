// Package audio handles synthesized speech payloads. The speech provider
// returns raw 16-bit little-endian PCM, mono, 24 kHz; this package wraps it
// for delivery and tracks which message is currently being read aloud.
package audio

import (
	"encoding/binary"
	"sync"
	"time"
)

const (
	SampleRate    = 24000
	NumChannels   = 1
	BitsPerSample = 16
)

// WAVFromPCM wraps raw PCM samples in a RIFF/WAVE container so any client
// can play them without knowing the stream parameters.
func WAVFromPCM(pcm []byte) []byte {
	blockAlign := NumChannels * BitsPerSample / 8
	byteRate := SampleRate * blockAlign

	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], NumChannels)
	binary.LittleEndian.PutUint32(out[24:28], SampleRate)
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], BitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// Duration returns the playback length of a raw PCM payload.
func Duration(pcm []byte) time.Duration {
	frames := len(pcm) / (NumChannels * BitsPerSample / 8)
	return time.Duration(frames) * time.Second / SampleRate
}

// Player tracks the single utterance being read aloud. Starting a new one
// stops the previous immediately.
type Player struct {
	mu      sync.Mutex
	current string
	stop    chan struct{}
}

func NewPlayer() *Player { return &Player{} }

// Start marks messageID as the active utterance and returns a channel that
// closes when a later Start or Stop preempts it.
func (p *Player) Start(messageID string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
	}
	p.current = messageID
	p.stop = make(chan struct{})
	return p.stop
}

// Stop halts the active utterance. Safe to call when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.current = ""
}

// Active returns the id of the message being read, or "" when silent.
func (p *Player) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Toggle starts reading messageID, or stops if it is already the active
// utterance. Returns true when playback started.
func (p *Player) Toggle(messageID string) (<-chan struct{}, bool) {
	p.mu.Lock()
	if p.current == messageID {
		if p.stop != nil {
			close(p.stop)
			p.stop = nil
		}
		p.current = ""
		p.mu.Unlock()
		return nil, false
	}
	p.mu.Unlock()
	return p.Start(messageID), true
}
