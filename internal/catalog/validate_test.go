package catalog_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/kalam/internal/catalog"
	"github.com/MrWong99/kalam/internal/dialogue"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	line := dialogue.Line{ID: 1, Speaker: dialogue.SpeakerUser, Reference: "أهلاً"}

	tests := []struct {
		name    string
		data    catalog.Data
		wantErr []string
	}{
		{
			name: "valid",
			data: catalog.Data{
				Scenarios:  []dialogue.Scenario{{ID: 1, Slug: "a", Lines: []dialogue.Line{line}}},
				Flashcards: []catalog.FlashcardCategory{{ID: 1, Slug: "f", Cards: []catalog.Flashcard{{ID: 1, Arabic: "بيت", Difficulty: catalog.Beginner}}}},
				Phrases:    []catalog.PhraseCategory{{ID: 1, Slug: "p"}},
				Tips:       []catalog.Tip{{ID: 1}, {ID: 2}},
			},
		},
		{
			name: "scenario problems",
			data: catalog.Data{Scenarios: []dialogue.Scenario{
				{ID: 1, Slug: "a"},
				{ID: 1, Slug: "a", Lines: []dialogue.Line{{Speaker: "narrator"}}},
			}},
			wantErr: []string{"at least one line", "duplicate id 1", `duplicate slug "a"`, `speaker "narrator"`, "reference must not be empty"},
		},
		{
			name: "flashcard problems",
			data: catalog.Data{Flashcards: []catalog.FlashcardCategory{
				{ID: 1, Cards: []catalog.Flashcard{{ID: 1, Difficulty: 4}}},
			}},
			wantErr: []string{"slug must not be empty", "arabic must not be empty", "difficulty 4 out of range"},
		},
		{
			name:    "duplicate tips",
			data:    catalog.Data{Tips: []catalog.Tip{{ID: 3}, {ID: 3}}},
			wantErr: []string{"duplicate id 3"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := catalog.Validate(tc.data)
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not contain %q", err, want)
				}
			}
		})
	}
}
