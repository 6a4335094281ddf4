// Package locale holds the user-facing string tables. Locales form a closed
// set; tables are embedded and validated at load so a missing translation is
// a startup failure, not a blank label at runtime.
package locale

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var tables embed.FS

// Locale identifies a string table.
type Locale string

const (
	Indonesian Locale = "id"
	English    Locale = "en"
)

// Default is Indonesian; the app's primary audience.
const Default = Indonesian

// Supported lists the closed locale set.
func Supported() []Locale { return []Locale{Indonesian, English} }

// Parse validates a locale tag.
func Parse(tag string) (Locale, error) {
	switch Locale(tag) {
	case Indonesian, English:
		return Locale(tag), nil
	}
	return "", fmt.Errorf("unsupported locale %q (supported: id, en)", tag)
}

// Strings is one locale's full table.
type Strings struct {
	MessageList MessageListStrings `yaml:"messageList"`
	Sidebar     SidebarStrings     `yaml:"sidebar"`
	Errors      ErrorStrings       `yaml:"errors"`
}

// MessageListStrings covers the conversation view, including the rotating
// phrase lists shown while a response generates.
type MessageListStrings struct {
	Thinking        []string `yaml:"thinking"`
	Searching       []string `yaml:"searching"`
	YouTube         []string `yaml:"youtube"`
	ThinkingProcess string   `yaml:"thinkingProcess"`
	Source          string   `yaml:"source"`
	Listen          string   `yaml:"listen"`
	Stop            string   `yaml:"stop"`
	Copy            string   `yaml:"copy"`
	Copied          string   `yaml:"copied"`
}

type SidebarStrings struct {
	NewChat string `yaml:"newChat"`
	History string `yaml:"history"`
	Guest   string `yaml:"guest"`
}

type ErrorStrings struct {
	Generic string `yaml:"generic"`
	Network string `yaml:"network"`
}

// Load reads and validates one locale's table.
func Load(loc Locale) (*Strings, error) {
	if _, err := Parse(string(loc)); err != nil {
		return nil, err
	}
	raw, err := tables.ReadFile(fmt.Sprintf("data/%s.yaml", loc))
	if err != nil {
		return nil, fmt.Errorf("locale %s: %w", loc, err)
	}
	var s Strings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("locale %s: %w", loc, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("locale %s: %w", loc, err)
	}
	return &s, nil
}

func (s *Strings) validate() error {
	lists := map[string][]string{
		"messageList.thinking":  s.MessageList.Thinking,
		"messageList.searching": s.MessageList.Searching,
		"messageList.youtube":   s.MessageList.YouTube,
	}
	for key, list := range lists {
		if len(list) == 0 {
			return fmt.Errorf("missing phrase list %s", key)
		}
		for i, p := range list {
			if p == "" {
				return fmt.Errorf("empty phrase %s[%d]", key, i)
			}
		}
	}
	fields := map[string]string{
		"messageList.thinkingProcess": s.MessageList.ThinkingProcess,
		"messageList.source":          s.MessageList.Source,
		"messageList.listen":          s.MessageList.Listen,
		"messageList.stop":            s.MessageList.Stop,
		"messageList.copy":            s.MessageList.Copy,
		"messageList.copied":          s.MessageList.Copied,
		"sidebar.newChat":             s.Sidebar.NewChat,
		"sidebar.history":             s.Sidebar.History,
		"sidebar.guest":               s.Sidebar.Guest,
		"errors.generic":              s.Errors.Generic,
		"errors.network":              s.Errors.Network,
	}
	for key, v := range fields {
		if v == "" {
			return fmt.Errorf("missing string %s", key)
		}
	}
	return nil
}

// ActivityPhrases returns the rotating phrase list for a streaming state.
// Unknown states fall back to the thinking list.
func (s *Strings) ActivityPhrases(state string) []string {
	switch state {
	case "searching":
		return s.MessageList.Searching
	case "youtube_search":
		return s.MessageList.YouTube
	default:
		return s.MessageList.Thinking
	}
}
