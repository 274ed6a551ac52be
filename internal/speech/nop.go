package speech

import "context"

var (
	_ Capturer    = NopCapturer{}
	_ Synthesizer = NopSynthesizer{}
)

// NopCapturer is a Capturer for environments without speech recognition.
type NopCapturer struct{}

// StartCapture always returns ErrUnsupported.
func (NopCapturer) StartCapture(context.Context) (Capture, error) {
	return nil, ErrUnsupported
}

// NopSynthesizer is a Synthesizer that plays nothing.
type NopSynthesizer struct{}

// Speak returns immediately, or ctx.Err() if ctx is already done.
func (NopSynthesizer) Speak(ctx context.Context, _ string) error {
	return ctx.Err()
}
