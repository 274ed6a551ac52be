package stt_test

import (
	"testing"

	"github.com/MrWong99/kalam/pkg/provider/stt"
)

func TestPrimaryLanguage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"ar-EG": "ar",
		"ar_EG": "ar",
		"AR":    "ar",
		"en-US": "en",
		"":      "",
	}
	for in, want := range tests {
		if got := stt.PrimaryLanguage(in); got != want {
			t.Errorf("PrimaryLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
