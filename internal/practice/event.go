package practice

import (
	"github.com/MrWong99/kalam/internal/dialogue"
	"github.com/MrWong99/kalam/internal/scoring"
)

// EventType names a coach event.
type EventType string

const (
	// EventState carries the session after select, advance or reset.
	EventState EventType = "state"
	// EventScored carries a graded attempt.
	EventScored EventType = "scored"
	// EventFeedback carries a transient message, e.g. a failed capture.
	EventFeedback EventType = "feedback"
	// EventSpeaking is sent when playback of a line starts.
	EventSpeaking EventType = "speaking"
	// EventSpoken is sent when playback ends, successfully or not.
	EventSpoken EventType = "spoken"
	// EventListening is sent when a capture starts.
	EventListening EventType = "listening"
	// EventCaptureEnded is sent when a capture ends for any reason.
	EventCaptureEnded EventType = "capture_ended"
	// EventFinished is sent when advancing past the last line.
	EventFinished EventType = "finished"
)

// Feedback messages shown for collaborator failures.
const (
	MsgCaptureFailed   = "Sorry, I couldn't hear you. Please try again."
	MsgPlaybackFailed  = "Sorry, I couldn't play the audio."
	MsgConversationEnd = "Conversation complete. Well done!"
)

// Event is pushed to the learner's client.
type Event struct {
	Type       EventType          `json:"type"`
	Session    *dialogue.Snapshot `json:"session,omitempty"`
	Result     *scoring.Result    `json:"result,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Text       string             `json:"text,omitempty"`
	Message    string             `json:"message,omitempty"`
}
