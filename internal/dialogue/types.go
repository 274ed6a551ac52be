package dialogue

// Speaker identifies who delivers a line of a scenario.
type Speaker string

const (
	// SpeakerAI lines are spoken by the coach through speech synthesis.
	SpeakerAI Speaker = "ai"
	// SpeakerUser lines are spoken by the learner and scored.
	SpeakerUser Speaker = "user"
)

// IsValid reports whether s is one of the known speakers.
func (s Speaker) IsValid() bool {
	return s == SpeakerAI || s == SpeakerUser
}

// Line is one turn of a scripted conversation.
type Line struct {
	ID              int     `yaml:"id"              json:"id"`
	Speaker         Speaker `yaml:"speaker"         json:"speaker"`
	Reference       string  `yaml:"reference"       json:"reference"`
	English         string  `yaml:"english"         json:"english"`
	Transliteration string  `yaml:"transliteration" json:"transliteration"`
}

// Scenario is a scripted practice conversation. Lines are addressed by their
// zero-based index; a scenario is never mutated once loaded.
type Scenario struct {
	ID    int    `yaml:"id"    json:"id"`
	Slug  string `yaml:"slug"  json:"slug"`
	Title string `yaml:"title" json:"title"`
	Icon  string `yaml:"icon"  json:"icon"`
	Lines []Line `yaml:"lines" json:"lines"`
}

// State is the externally observable phase of a [Session].
type State int

const (
	// StateIdle means no scenario is selected.
	StateIdle State = iota
	// StateAITurn means the current line belongs to the AI speaker.
	StateAITurn
	// StateAwaitingInput means the current line belongs to the learner and
	// nothing has been recorded yet.
	StateAwaitingInput
	// StateScored means the learner's attempt at the current line has been
	// recorded and scored.
	StateScored
)

// String returns the snake_case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAITurn:
		return "ai_turn"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateScored:
		return "scored"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
