package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"lumichat/internal/httpx"
)

const (
	ttsDefaultVoice = "Kore"
	ttsInputLimit   = 800
)

// GeminiTTS implements domain.SpeechProvider. The API returns raw 16-bit
// little-endian PCM, mono, 24 kHz, base64-encoded in an inline data part.
type GeminiTTS struct {
	apiKey  string
	apiBase string
	model   string
	voice   string
	client  *http.Client
	logger  *slog.Logger
}

type GeminiTTSConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Voice   string
	Logger  *slog.Logger
}

func NewGeminiTTS(cfg GeminiTTSConfig) *GeminiTTS {
	if cfg.APIBase == "" {
		cfg.APIBase = geminiAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = ttsDefaultVoice
	}
	return &GeminiTTS{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		voice:   cfg.Voice,
		client:  httpx.SharedClient(defaultHTTPTimeout),
		logger:  cfg.Logger,
	}
}

type ttsRequest struct {
	Contents []geminiContent `json:"contents"`
	Config   ttsGenConfig    `json:"generationConfig"`
}

type ttsGenConfig struct {
	ResponseModalities []string        `json:"responseModalities"`
	SpeechConfig       ttsSpeechConfig `json:"speechConfig"`
}

type ttsSpeechConfig struct {
	VoiceConfig ttsVoiceConfig `json:"voiceConfig"`
}

type ttsVoiceConfig struct {
	PrebuiltVoiceConfig ttsPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type ttsPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type ttsResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *geminiInlineData `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Synthesize reads an answer aloud. The text is stripped of markdown and
// capped before synthesis; spoken output of raw markup is useless.
func (t *GeminiTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	clean := SanitizeForSpeech(text)
	if clean == "" {
		return nil, fmt.Errorf("tts: nothing to speak")
	}

	prompt := fmt.Sprintf("Read this text clearly and naturally in Indonesian language: %q", clean)
	body := ttsRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		Config: ttsGenConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: ttsSpeechConfig{
				VoiceConfig: ttsVoiceConfig{
					PrebuiltVoiceConfig: ttsPrebuiltVoice{VoiceName: t.voice},
				},
			},
		},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", t.apiBase, t.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tts %d: %s", resp.StatusCode, string(respBody))
	}

	var out ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "audio") {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode audio: %w", err)
			}
			return raw, nil
		}
	}
	return nil, fmt.Errorf("tts: response carried no audio")
}

var (
	speechThinkingRe   = regexp.MustCompile(`(?is)<thinking>.*?</thinking>`)
	speechAnswerTagRe  = regexp.MustCompile(`(?i)</?answer>`)
	speechLegacyRe     = regexp.MustCompile(`(?is)PART 1: THE THINKING SPACE.*?PART 2: THE FINAL EXECUTION`)
	speechCodeBlockRe  = regexp.MustCompile("(?s)```.*?```")
	speechURLRe        = regexp.MustCompile(`https?://\S+`)
	speechBoldRe       = regexp.MustCompile(`(\*\*|__)(.*?)(\*\*|__)`)
	speechItalicRe     = regexp.MustCompile(`([*_])(.*?)([*_])`)
	speechHeaderRe     = regexp.MustCompile(`(?m)^#+\s+`)
	speechInlineCodeRe = regexp.MustCompile("`([^`]+)`")
	speechLinkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	speechImageRe      = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	speechRuleRe       = regexp.MustCompile(`-{3,}`)
	speechSpaceRe      = regexp.MustCompile(`\s+`)
)

// SanitizeForSpeech strips reasoning blocks and markdown markup so the
// synthesized audio reads only the prose, then caps the length.
func SanitizeForSpeech(text string) string {
	clean := speechThinkingRe.ReplaceAllString(text, "")
	clean = speechAnswerTagRe.ReplaceAllString(clean, "")
	clean = speechLegacyRe.ReplaceAllString(clean, "")
	clean = speechCodeBlockRe.ReplaceAllString(clean, "Code block ignored. ")
	clean = speechImageRe.ReplaceAllString(clean, "")
	clean = speechLinkRe.ReplaceAllString(clean, "$1")
	clean = speechURLRe.ReplaceAllString(clean, "link. ")
	clean = speechBoldRe.ReplaceAllString(clean, "$2")
	clean = speechItalicRe.ReplaceAllString(clean, "$2")
	clean = speechHeaderRe.ReplaceAllString(clean, "")
	clean = speechInlineCodeRe.ReplaceAllString(clean, "$1")
	clean = strings.ReplaceAll(clean, "|", " ")
	clean = speechRuleRe.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(speechSpaceRe.ReplaceAllString(clean, " "))

	r := []rune(clean)
	if len(r) > ttsInputLimit {
		clean = string(r[:ttsInputLimit]) + "..."
	}
	return clean
}
