package stt

import "strings"

// Transcript is a recognition result. Partial and final results share the
// type; IsFinal tells them apart.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal is true for committed results.
	IsFinal bool

	// Confidence is in [0, 1]; zero when the provider does not report one.
	Confidence float64

	// Language is the language the provider detected or was asked for.
	Language string
}

// PrimaryLanguage returns the primary subtag of a BCP-47 tag, lowercased:
// "ar-EG" becomes "ar".
func PrimaryLanguage(tag string) string {
	primary, _, _ := strings.Cut(tag, "-")
	primary, _, _ = strings.Cut(primary, "_")
	return strings.ToLower(primary)
}
