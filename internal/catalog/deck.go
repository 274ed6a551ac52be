package catalog

// Deck is a cursor over the cards of a [FlashcardCategory]. Navigation is
// clamped to the ends of the deck. A Deck is not safe for concurrent use.
type Deck struct {
	cards []Flashcard
	pos   int
}

// NewDeck returns a deck positioned on the first card of fc.
func NewDeck(fc FlashcardCategory) *Deck {
	return &Deck{cards: fc.Cards}
}

// Len returns the number of cards.
func (d *Deck) Len() int { return len(d.cards) }

// Position returns the zero-based index of the current card.
func (d *Deck) Position() int { return d.pos }

// Current returns the card under the cursor. It reports false for an empty
// deck.
func (d *Deck) Current() (Flashcard, bool) {
	if len(d.cards) == 0 {
		return Flashcard{}, false
	}
	return d.cards[d.pos], true
}

// HasNext reports whether [Deck.Next] would move.
func (d *Deck) HasNext() bool { return d.pos < len(d.cards)-1 }

// HasPrevious reports whether [Deck.Previous] would move.
func (d *Deck) HasPrevious() bool { return d.pos > 0 }

// Next moves to the following card. It returns false at the last card.
func (d *Deck) Next() bool {
	if !d.HasNext() {
		return false
	}
	d.pos++
	return true
}

// Previous moves to the preceding card. It returns false at the first card.
func (d *Deck) Previous() bool {
	if !d.HasPrevious() {
		return false
	}
	d.pos--
	return true
}

// Seek moves the cursor to index i. It returns false, leaving the cursor in
// place, when i is out of range.
func (d *Deck) Seek(i int) bool {
	if i < 0 || i >= len(d.cards) {
		return false
	}
	d.pos = i
	return true
}
