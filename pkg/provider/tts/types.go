package tts

import (
	"strings"
	"unicode"
)

// Voice selects how text is spoken.
type Voice struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	ID string `yaml:"voice_id" json:"id"`

	// Name is a human-readable label.
	Name string `yaml:"-" json:"name,omitempty"`

	// Language is the BCP-47 tag of the text, e.g. "ar-EG".
	Language string `yaml:"language" json:"language,omitempty"`

	// SpeedFactor scales speaking rate; 1.0 is normal, 0 means default.
	// Learners hear reference lines slightly slowed at 0.9.
	SpeedFactor float64 `yaml:"speed_factor" json:"speed_factor,omitempty"`
}

// sentenceEnders are the terminators recognised by [SplitSentences],
// including the Arabic question mark and full stop.
const sentenceEnders = ".!?؟۔"

// SplitSentences breaks text into sentences, keeping each terminator with its
// sentence. A terminator only ends a sentence when followed by whitespace or
// the end of text. Empty sentences are dropped.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		if !strings.ContainsRune(sentenceEnders, r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
