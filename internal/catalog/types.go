package catalog

import (
	"fmt"

	"github.com/MrWong99/kalam/internal/dialogue"
)

// Difficulty grades a flashcard from 1 (beginner) to 3 (advanced).
type Difficulty int

const (
	Beginner     Difficulty = 1
	Intermediate Difficulty = 2
	Advanced     Difficulty = 3
)

// IsValid reports whether d is one of the known levels.
func (d Difficulty) IsValid() bool {
	return d >= Beginner && d <= Advanced
}

func (d Difficulty) String() string {
	switch d {
	case Beginner:
		return "Beginner"
	case Intermediate:
		return "Intermediate"
	case Advanced:
		return "Advanced"
	default:
		return fmt.Sprintf("Difficulty(%d)", int(d))
	}
}

// Flashcard is a single vocabulary item with an example sentence.
type Flashcard struct {
	ID                 int        `yaml:"id"                  json:"id"`
	English            string     `yaml:"english"             json:"english"`
	Arabic             string     `yaml:"arabic"              json:"arabic"`
	Transliteration    string     `yaml:"transliteration"     json:"transliteration"`
	ExampleSentence    string     `yaml:"example_sentence"    json:"example_sentence,omitempty"`
	ExampleTranslation string     `yaml:"example_translation" json:"example_translation,omitempty"`
	Difficulty         Difficulty `yaml:"difficulty"          json:"difficulty"`
}

// FlashcardCategory groups flashcards by topic.
type FlashcardCategory struct {
	ID          int         `yaml:"id"          json:"id"`
	Slug        string      `yaml:"slug"        json:"slug"`
	Title       string      `yaml:"title"       json:"title"`
	Description string      `yaml:"description" json:"description"`
	Icon        string      `yaml:"icon"        json:"icon"`
	Cards       []Flashcard `yaml:"cards"       json:"cards"`
}

// Phrase is a ready-made expression with a note on when to use it.
type Phrase struct {
	ID              int    `yaml:"id"              json:"id"`
	English         string `yaml:"english"         json:"english"`
	Arabic          string `yaml:"arabic"          json:"arabic"`
	Transliteration string `yaml:"transliteration" json:"transliteration"`
	Context         string `yaml:"context"         json:"context,omitempty"`
}

// PhraseCategory groups phrases by situation.
type PhraseCategory struct {
	ID          int      `yaml:"id"          json:"id"`
	Slug        string   `yaml:"slug"        json:"slug"`
	Title       string   `yaml:"title"       json:"title"`
	Description string   `yaml:"description" json:"description"`
	Icon        string   `yaml:"icon"        json:"icon"`
	Phrases     []Phrase `yaml:"phrases"     json:"phrases"`
}

// Tip is a pronunciation hint for a sound specific to Egyptian Arabic.
type Tip struct {
	ID          int    `yaml:"id"          json:"id"`
	Title       string `yaml:"title"       json:"title"`
	Description string `yaml:"description" json:"description"`
}

// Summary is the list view of a category or scenario. Count is derived from
// the number of items it holds.
type Summary struct {
	ID          int    `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon"`
	Count       int    `json:"count"`
}

// Data is the raw content a [Catalog] is built from.
type Data struct {
	Scenarios  []dialogue.Scenario
	Flashcards []FlashcardCategory
	Phrases    []PhraseCategory
	Tips       []Tip
}
