package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/kalam/pkg/audio"
)

func pcm(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestFormat(t *testing.T) {
	t.Parallel()

	if got := audio.Speech.BytesPerSecond(); got != 32000 {
		t.Errorf("Speech.BytesPerSecond() = %d, want 32000", got)
	}
	if got := audio.Speech.Duration(16000); got != 500*time.Millisecond {
		t.Errorf("Duration(16000) = %v, want 500ms", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
	if got := audio.Browser.String(); got != "48000Hz mono" {
		t.Errorf("String() = %q", got)
	}
}

func TestMonoStereo(t *testing.T) {
	t.Parallel()

	st := audio.MonoToStereo(pcm(100, -200))
	if got := samples(st); len(got) != 4 || got[0] != 100 || got[1] != 100 || got[2] != -200 || got[3] != -200 {
		t.Errorf("MonoToStereo = %v", got)
	}
	mono := audio.StereoToMono(pcm(100, 300, 32767, 32767))
	if got := samples(mono); len(got) != 2 || got[0] != 200 || got[1] != 32767 {
		t.Errorf("StereoToMono = %v", got)
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	in := pcm(0, 100, 200, 300)
	if got := audio.Resample(in, 1, 16000, 16000); !bytes.Equal(got, in) {
		t.Error("same-rate resample changed data")
	}
	if got := audio.Resample(in, 1, 0, 16000); !bytes.Equal(got, in) {
		t.Error("zero-rate resample changed data")
	}

	up := samples(audio.Resample(in, 1, 8000, 16000))
	if len(up) != 8 {
		t.Fatalf("upsampled length = %d, want 8", len(up))
	}
	if up[0] != 0 || up[1] != 50 || up[2] != 100 {
		t.Errorf("upsampled = %v, want linear interpolation", up)
	}

	down := samples(audio.Resample(pcm(0, 10, 20, 30, 40, 50), 1, 48000, 16000))
	if len(down) != 2 || down[0] != 0 || down[1] != 30 {
		t.Errorf("downsampled = %v, want [0 30]", down)
	}

	stereo := samples(audio.Resample(pcm(0, 1000, 100, 1100), 2, 8000, 16000))
	if len(stereo) != 8 || stereo[2] != 50 || stereo[3] != 1050 {
		t.Errorf("stereo upsampled = %v", stereo)
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	in := pcm(0, 0, 300, 300, 600, 600)
	out, err := audio.Convert(in, audio.Format{SampleRate: 48000, Channels: 2}, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got := samples(out); len(got) != 1 || got[0] != 0 {
		t.Errorf("Convert = %v", got)
	}

	same, err := audio.Convert(in, audio.Speech, audio.Speech)
	if err != nil || !bytes.Equal(same, in) {
		t.Errorf("no-op Convert = %v, %v", same, err)
	}

	if _, err := audio.Convert([]byte{1, 2, 3}, audio.Browser, audio.Speech); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("odd length error = %v, want ErrOddLength", err)
	}
	if _, err := audio.Convert(in, audio.Format{}, audio.Speech); err == nil {
		t.Error("invalid source format accepted")
	}
	if _, err := audio.Convert(in, audio.Format{SampleRate: 16000, Channels: 6}, audio.Speech); err == nil {
		t.Error("6 channel source accepted")
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	if got := audio.RMS(pcm(300, -300, 300, -300)); got != 300 {
		t.Errorf("RMS = %v, want 300", got)
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	in := pcm(1, 2, 3, -4)
	f := audio.Format{SampleRate: 22050, Channels: 1}
	wav := audio.EncodeWAV(in, f)
	if len(wav) != 44+len(in) {
		t.Fatalf("len(wav) = %d", len(wav))
	}

	out, gotF, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotF != f || !bytes.Equal(out, in) {
		t.Errorf("DecodeWAV = %v %v, want %v %v", out, gotF, in, f)
	}
}

func TestDecodeWAV_StreamedSize(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(pcm(7, 8), audio.Speech)
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)
	out, _, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(out) != 4 {
		t.Errorf("len(out) = %d, want 4", len(out))
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	t.Parallel()

	eightBit := audio.EncodeWAV(nil, audio.Speech)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	noData := audio.EncodeWAV(nil, audio.Speech)[:36]

	tests := map[string][]byte{
		"short":   []byte("RIFF"),
		"not wav": []byte("RIFF\x00\x00\x00\x00AVI LIST"),
		"8 bit":   eightBit,
		"no data": noData,
	}
	for name, in := range tests {
		if _, _, err := audio.DecodeWAV(in); err == nil {
			t.Errorf("%s: DecodeWAV succeeded", name)
		}
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()

	ch := make(chan []byte, 3)
	ch <- []byte{1}
	ch <- []byte{2}
	close(ch)
	audio.Drain(ch)
	if _, ok := <-ch; ok {
		t.Error("channel not drained")
	}
}
