package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned when a PCM buffer does not hold whole samples.
var ErrOddLength = errors.New("audio: odd byte count in 16-bit PCM")

// Convert converts pcm from one format to another. Resampling happens before
// channel conversion so that stereo input bound for mono output is resampled
// only once. Only 1 and 2 channel layouts are supported. When the formats
// match, pcm is returned unchanged.
func Convert(pcm []byte, from, to Format) ([]byte, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, ErrOddLength
	}
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("audio: invalid conversion %s -> %s", from, to)
	}
	if from.Channels > 2 || to.Channels > 2 {
		return nil, fmt.Errorf("audio: unsupported channel layout %s -> %s", from, to)
	}
	if from == to {
		return pcm, nil
	}

	out := Resample(pcm, from.Channels, from.SampleRate, to.SampleRate)
	switch {
	case from.Channels == 2 && to.Channels == 1:
		out = StereoToMono(out)
	case from.Channels == 1 && to.Channels == 2:
		out = MonoToStereo(out)
	}
	return out, nil
}

// Resample converts interleaved PCM with the given channel count from srcRate
// to dstRate by linear interpolation. Invalid rates or identical rates return
// pcm unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	frameSize := channels * BytesPerSample
	srcFrames := len(pcm) / frameSize
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameSize)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := sampleAt(pcm, idx*channels+ch)
			s1 := sampleAt(pcm, next*channels+ch)
			putSample(out, i*channels+ch, int32(float64(s0)*(1-frac)+float64(s1)*frac))
		}
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, int32(s))
		putSample(out, 2*i+1, int32(s))
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		l, r := int32(sampleAt(pcm, 2*i)), int32(sampleAt(pcm, 2*i+1))
		putSample(out, i, (l+r)/2)
	}
	return out
}

// RMS returns the root-mean-square amplitude of pcm in sample units
// (0 to 32767). It returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

func putSample(pcm []byte, i int, v int32) {
	v = max(math.MinInt16, min(math.MaxInt16, v))
	pcm[2*i] = byte(v)
	pcm[2*i+1] = byte(v >> 8)
}
