package chat

import (
	"regexp"
	"strings"
)

// Thought is the result of splitting a model response into its internal
// reasoning segment and the user-facing answer.
type Thought struct {
	HasReasoning bool
	Reasoning    string
	Answer       string
}

const (
	thinkingOpen  = "<thinking>"
	thinkingClose = "</thinking>"

	legacyReasoningMarker = "PART 1: THE THINKING SPACE"
	legacyAnswerMarker    = "PART 2: THE FINAL EXECUTION"
)

var legacyFenceRe = regexp.MustCompile("(?is)^```(?:markdown|md|text)?\\s*(.*?)\\s*```$")

// ParseThought splits raw model output into reasoning and answer. It is a
// pure re-parse of the whole string and safe to call on every chunk of a
// growing response:
//
//   - both tags present: reasoning is the content between them, answer is
//     the rest with any <answer> tags stripped;
//   - text starts with the opening tag but the closing tag has not arrived
//     yet: everything after the tag is reasoning, answer is empty;
//   - no tag anywhere: the full text is the answer.
//
// A legacy plain-text marker format is recognized when the tags are absent.
func ParseThought(text string) Thought {
	lower := strings.ToLower(text)

	if open := strings.Index(lower, thinkingOpen); open >= 0 {
		rest := lower[open+len(thinkingOpen):]
		if closeRel := strings.Index(rest, thinkingClose); closeRel >= 0 {
			closeAbs := open + len(thinkingOpen) + closeRel
			reasoning := strings.TrimSpace(text[open+len(thinkingOpen) : closeAbs])
			remaining := text[:open] + text[closeAbs+len(thinkingClose):]
			remaining = stripFirstFold(remaining, "<answer>")
			remaining = stripFirstFold(remaining, "</answer>")
			return Thought{HasReasoning: true, Reasoning: reasoning, Answer: strings.TrimSpace(remaining)}
		}
		// Streaming partial: only when the response begins with the tag.
		if strings.HasPrefix(strings.TrimSpace(lower), thinkingOpen) {
			partial := stripFirstFold(text, thinkingOpen)
			return Thought{HasReasoning: true, Reasoning: strings.TrimSpace(partial), Answer: ""}
		}
	}

	return parseLegacyThought(text)
}

func parseLegacyThought(text string) Thought {
	upper := strings.ToUpper(text)
	p1 := strings.Index(upper, legacyReasoningMarker)
	p2 := strings.Index(upper, legacyAnswerMarker)

	if p1 >= 0 && p2 > p1 {
		reasoning := strings.TrimSpace(text[p1+len(legacyReasoningMarker) : p2])
		reasoning = strings.TrimLeft(reasoning, "*#-\t\n ")
		answer := strings.TrimSpace(text[p2+len(legacyAnswerMarker):])
		if m := legacyFenceRe.FindStringSubmatch(answer); m != nil {
			answer = strings.TrimSpace(m[1])
		}
		return Thought{HasReasoning: true, Reasoning: reasoning, Answer: answer}
	}
	if p1 >= 0 && p2 < 0 {
		// Legacy streaming partial: reasoning marker seen, answer marker
		// not yet arrived.
		reasoning := strings.TrimSpace(text[p1+len(legacyReasoningMarker):])
		reasoning = strings.TrimLeft(reasoning, "*#-\t\n ")
		return Thought{HasReasoning: true, Reasoning: reasoning, Answer: ""}
	}

	return Thought{HasReasoning: false, Reasoning: "", Answer: text}
}

// stripFirstFold removes the first case-insensitive occurrence of marker.
func stripFirstFold(s, marker string) string {
	idx := strings.Index(strings.ToLower(s), marker)
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(marker):]
}
