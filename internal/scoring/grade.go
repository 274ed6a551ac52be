package scoring

import "fmt"

// Grade is the feedback band a score falls into.
type Grade int

const (
	// GradeRetry means the attempt was too far from the reference.
	GradeRetry Grade = iota
	// GradeGood means the attempt was recognisable but imperfect.
	GradeGood
	// GradeExcellent means the attempt closely matched the reference.
	GradeExcellent
)

// String returns the lowercase band name used in JSON payloads and metric
// attributes.
func (g Grade) String() string {
	switch g {
	case GradeExcellent:
		return "excellent"
	case GradeGood:
		return "good"
	case GradeRetry:
		return "retry"
	default:
		return fmt.Sprintf("Grade(%d)", int(g))
	}
}

// Message returns the learner-facing feedback sentence for g.
func (g Grade) Message() string {
	switch g {
	case GradeExcellent:
		return "Excellent pronunciation!"
	case GradeGood:
		return "Good job! Keep practicing."
	default:
		return "Try again. Listen carefully to the pronunciation."
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (g Grade) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// Bands holds the lower score bounds (inclusive) of the upper two grades.
type Bands struct {
	Excellent int `yaml:"excellent"`
	Good      int `yaml:"good"`
}

// DefaultBands are the thresholds used when none are configured.
var DefaultBands = Bands{Excellent: 80, Good: 60}

// Grade maps score onto a band.
func (b Bands) Grade(score int) Grade {
	switch {
	case score >= b.Excellent:
		return GradeExcellent
	case score >= b.Good:
		return GradeGood
	default:
		return GradeRetry
	}
}

// Validate reports whether the thresholds are ordered and inside [0, 100].
func (b Bands) Validate() error {
	if b.Good < 0 || b.Excellent > 100 {
		return fmt.Errorf("scoring: bands must lie within [0, 100], got good=%d excellent=%d", b.Good, b.Excellent)
	}
	if b.Good > b.Excellent {
		return fmt.Errorf("scoring: good threshold %d exceeds excellent threshold %d", b.Good, b.Excellent)
	}
	return nil
}

// Result is a scored attempt with its feedback.
type Result struct {
	Score   int    `json:"score"`
	Grade   Grade  `json:"grade"`
	Message string `json:"message"`
}

// Evaluate scores spoken against reference and grades it with b.
func (b Bands) Evaluate(spoken, reference string) Result {
	return b.Result(Score(spoken, reference))
}

// Result wraps an already computed score with its grade and message.
func (b Bands) Result(score int) Result {
	g := b.Grade(score)
	return Result{Score: score, Grade: g, Message: g.Message()}
}

// Evaluate scores spoken against reference using [DefaultBands].
func Evaluate(spoken, reference string) Result {
	return DefaultBands.Evaluate(spoken, reference)
}
