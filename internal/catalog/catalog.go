// Package catalog provides the read-only learning content of Kalam: practice
// scenarios, flashcard decks, phrase collections and pronunciation tips.
//
// A [Catalog] is built once from [Data] obtained from a [Source] (embedded
// YAML, a directory on disk or PostgreSQL), validated, indexed and never
// modified afterwards. All methods are safe for concurrent use.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/kalam/internal/dialogue"
)

// ErrNotFound is returned when no item matches the requested id or slug.
var ErrNotFound = errors.New("catalog: not found")

// Source loads raw catalog content.
type Source interface {
	Load(ctx context.Context) (Data, error)
}

// Catalog is an indexed, immutable view of [Data].
type Catalog struct {
	data Data

	scenarioByID   map[int]int
	scenarioBySlug map[string]int
	flashByID      map[int]int
	flashBySlug    map[string]int
	phraseByID     map[int]int
	phraseBySlug   map[string]int
}

// Open loads data from src and builds a [Catalog] from it.
func Open(ctx context.Context, src Source) (*Catalog, error) {
	data, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: load: %w", err)
	}
	return New(data)
}

// New validates data and indexes it. The returned catalog shares the slices
// held by data; callers must not modify them afterwards.
func New(data Data) (*Catalog, error) {
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("catalog: invalid content: %w", err)
	}

	c := &Catalog{
		data:           data,
		scenarioByID:   make(map[int]int, len(data.Scenarios)),
		scenarioBySlug: make(map[string]int, len(data.Scenarios)),
		flashByID:      make(map[int]int, len(data.Flashcards)),
		flashBySlug:    make(map[string]int, len(data.Flashcards)),
		phraseByID:     make(map[int]int, len(data.Phrases)),
		phraseBySlug:   make(map[string]int, len(data.Phrases)),
	}
	for i, sc := range data.Scenarios {
		c.scenarioByID[sc.ID] = i
		c.scenarioBySlug[sc.Slug] = i
	}
	for i, fc := range data.Flashcards {
		c.flashByID[fc.ID] = i
		c.flashBySlug[fc.Slug] = i
	}
	for i, pc := range data.Phrases {
		c.phraseByID[pc.ID] = i
		c.phraseBySlug[pc.Slug] = i
	}
	return c, nil
}

// Scenarios returns every practice scenario in catalog order.
func (c *Catalog) Scenarios() []dialogue.Scenario {
	return slices.Clone(c.data.Scenarios)
}

// ScenarioSummaries returns the list view of all scenarios; Count is the
// number of lines.
func (c *Catalog) ScenarioSummaries() []Summary {
	out := make([]Summary, 0, len(c.data.Scenarios))
	for _, sc := range c.data.Scenarios {
		out = append(out, Summary{ID: sc.ID, Slug: sc.Slug, Title: sc.Title, Icon: sc.Icon, Count: len(sc.Lines)})
	}
	return out
}

// Scenario returns the scenario with the given id.
func (c *Catalog) Scenario(id int) (dialogue.Scenario, error) {
	i, ok := c.scenarioByID[id]
	if !ok {
		return dialogue.Scenario{}, fmt.Errorf("scenario %d: %w", id, ErrNotFound)
	}
	return c.data.Scenarios[i], nil
}

// ScenarioBySlug returns the scenario with the given slug.
func (c *Catalog) ScenarioBySlug(slug string) (dialogue.Scenario, error) {
	i, ok := c.scenarioBySlug[slug]
	if !ok {
		return dialogue.Scenario{}, fmt.Errorf("scenario %q: %w", slug, ErrNotFound)
	}
	return c.data.Scenarios[i], nil
}

// FlashcardCategories returns every flashcard category in catalog order.
func (c *Catalog) FlashcardCategories() []FlashcardCategory {
	return slices.Clone(c.data.Flashcards)
}

// FlashcardSummaries returns the list view of all flashcard categories.
func (c *Catalog) FlashcardSummaries() []Summary {
	out := make([]Summary, 0, len(c.data.Flashcards))
	for _, fc := range c.data.Flashcards {
		out = append(out, Summary{
			ID: fc.ID, Slug: fc.Slug, Title: fc.Title, Description: fc.Description,
			Icon: fc.Icon, Count: len(fc.Cards),
		})
	}
	return out
}

// FlashcardCategory returns the flashcard category with the given id.
func (c *Catalog) FlashcardCategory(id int) (FlashcardCategory, error) {
	i, ok := c.flashByID[id]
	if !ok {
		return FlashcardCategory{}, fmt.Errorf("flashcard category %d: %w", id, ErrNotFound)
	}
	return c.data.Flashcards[i], nil
}

// FlashcardCategoryBySlug returns the flashcard category with the given slug.
func (c *Catalog) FlashcardCategoryBySlug(slug string) (FlashcardCategory, error) {
	i, ok := c.flashBySlug[slug]
	if !ok {
		return FlashcardCategory{}, fmt.Errorf("flashcard category %q: %w", slug, ErrNotFound)
	}
	return c.data.Flashcards[i], nil
}

// PhraseCategories returns every phrase category in catalog order.
func (c *Catalog) PhraseCategories() []PhraseCategory {
	return slices.Clone(c.data.Phrases)
}

// PhraseSummaries returns the list view of all phrase categories.
func (c *Catalog) PhraseSummaries() []Summary {
	out := make([]Summary, 0, len(c.data.Phrases))
	for _, pc := range c.data.Phrases {
		out = append(out, Summary{
			ID: pc.ID, Slug: pc.Slug, Title: pc.Title, Description: pc.Description,
			Icon: pc.Icon, Count: len(pc.Phrases),
		})
	}
	return out
}

// PhraseCategory returns the phrase category with the given id.
func (c *Catalog) PhraseCategory(id int) (PhraseCategory, error) {
	i, ok := c.phraseByID[id]
	if !ok {
		return PhraseCategory{}, fmt.Errorf("phrase category %d: %w", id, ErrNotFound)
	}
	return c.data.Phrases[i], nil
}

// PhraseCategoryBySlug returns the phrase category with the given slug.
func (c *Catalog) PhraseCategoryBySlug(slug string) (PhraseCategory, error) {
	i, ok := c.phraseBySlug[slug]
	if !ok {
		return PhraseCategory{}, fmt.Errorf("phrase category %q: %w", slug, ErrNotFound)
	}
	return c.data.Phrases[i], nil
}

// Tips returns the pronunciation tips.
func (c *Catalog) Tips() []Tip {
	return slices.Clone(c.data.Tips)
}

// Stats reports how much content the catalog holds.
type Stats struct {
	Scenarios  int
	Flashcards int
	Phrases    int
	Tips       int
}

// Stats counts scenarios, individual flashcards, individual phrases and tips.
func (c *Catalog) Stats() Stats {
	st := Stats{Scenarios: len(c.data.Scenarios), Tips: len(c.data.Tips)}
	for _, fc := range c.data.Flashcards {
		st.Flashcards += len(fc.Cards)
	}
	for _, pc := range c.data.Phrases {
		st.Phrases += len(pc.Phrases)
	}
	return st
}
