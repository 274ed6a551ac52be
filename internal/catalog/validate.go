package catalog

import (
	"errors"
	"fmt"
)

// Validate checks catalog content for structural problems and returns every
// problem found joined into one error.
//
// Rules:
//   - Scenario, category and tip ids are unique within their collection.
//   - Slugs are non-empty and unique within their collection.
//   - Every scenario has at least one line and every line names a known
//     speaker and carries reference text.
//   - Flashcards and phrases carry Arabic text; flashcard difficulty is 1..3.
func Validate(d Data) error {
	var errs []error

	ids, slugs := map[int]bool{}, map[string]bool{}
	for i, sc := range d.Scenarios {
		errs = append(errs, checkKey("scenario", i, sc.ID, sc.Slug, ids, slugs)...)
		if len(sc.Lines) == 0 {
			errs = append(errs, fmt.Errorf("scenario %q: must have at least one line", sc.Slug))
		}
		for j, l := range sc.Lines {
			if !l.Speaker.IsValid() {
				errs = append(errs, fmt.Errorf("scenario %q line[%d]: speaker %q is not recognised", sc.Slug, j, l.Speaker))
			}
			if l.Reference == "" {
				errs = append(errs, fmt.Errorf("scenario %q line[%d]: reference must not be empty", sc.Slug, j))
			}
		}
	}

	ids, slugs = map[int]bool{}, map[string]bool{}
	for i, fc := range d.Flashcards {
		errs = append(errs, checkKey("flashcard category", i, fc.ID, fc.Slug, ids, slugs)...)
		for j, card := range fc.Cards {
			if card.Arabic == "" {
				errs = append(errs, fmt.Errorf("flashcard category %q card[%d]: arabic must not be empty", fc.Slug, j))
			}
			if !card.Difficulty.IsValid() {
				errs = append(errs, fmt.Errorf("flashcard category %q card[%d]: difficulty %d out of range", fc.Slug, j, card.Difficulty))
			}
		}
	}

	ids, slugs = map[int]bool{}, map[string]bool{}
	for i, pc := range d.Phrases {
		errs = append(errs, checkKey("phrase category", i, pc.ID, pc.Slug, ids, slugs)...)
		for j, p := range pc.Phrases {
			if p.Arabic == "" {
				errs = append(errs, fmt.Errorf("phrase category %q phrase[%d]: arabic must not be empty", pc.Slug, j))
			}
		}
	}

	ids = map[int]bool{}
	for i, tip := range d.Tips {
		if ids[tip.ID] {
			errs = append(errs, fmt.Errorf("tip[%d]: duplicate id %d", i, tip.ID))
		}
		ids[tip.ID] = true
	}

	return errors.Join(errs...)
}

func checkKey(kind string, i, id int, slug string, ids map[int]bool, slugs map[string]bool) []error {
	var errs []error
	if ids[id] {
		errs = append(errs, fmt.Errorf("%s[%d]: duplicate id %d", kind, i, id))
	}
	ids[id] = true
	switch {
	case slug == "":
		errs = append(errs, fmt.Errorf("%s[%d]: slug must not be empty", kind, i))
	case slugs[slug]:
		errs = append(errs, fmt.Errorf("%s[%d]: duplicate slug %q", kind, i, slug))
	}
	slugs[slug] = true
	return errs
}
