package audio

import (
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// EncodeWAV wraps pcm in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * BytesPerSample

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 8*BytesPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// DecodeWAV walks the RIFF chunks of a WAV file and returns the PCM payload
// of its data chunk together with the format declared by its fmt chunk.
// Only 16-bit PCM is accepted. A data chunk whose declared size runs past the
// end of the buffer (as streamed responses often have) is truncated to what
// is present.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		f        Format
		foundFmt bool
	)
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return nil, Format{}, errors.New("audio: truncated fmt chunk")
			}
			if bits := binary.LittleEndian.Uint16(wav[body+14 : body+16]); bits != 8*BytesPerSample {
				return nil, Format{}, errors.New("audio: only 16-bit PCM WAV is supported")
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			end := min(body+size, len(wav))
			return wav[body:end], f, nil
		}

		off = body + size
		if size%2 != 0 {
			off++
		}
	}
	return nil, Format{}, errors.New("audio: missing data chunk")
}
