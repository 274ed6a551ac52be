// Package audio holds the PCM helpers shared by the speech providers and the
// practice websocket: format description, sample-rate and channel conversion,
// and WAV container encoding and decoding.
//
// All PCM handled here is 16-bit signed little-endian.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Common formats.
var (
	// Speech is what the STT providers expect: 16 kHz mono.
	Speech = Format{SampleRate: 16000, Channels: 1}
	// Browser is the default AudioContext capture format: 48 kHz mono.
	Browser = Format{SampleRate: 48000, Channels: 1}
)

// Valid reports whether f has a positive rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Duration returns how long n bytes of PCM in format f play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Drain reads from ch until it is closed, discarding all values. Use it so a
// producer goroutine can finish when its output is no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
