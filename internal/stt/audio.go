package stt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrEmptyAudio is returned for zero-length uploads.
var ErrEmptyAudio = errors.New("audio payload is empty")

// container identifies the upload format from its magic bytes. Unrecognized
// payloads are treated as raw little-endian 16-bit PCM.
func container(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return "flac"
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return "ogg"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "webm"
	case len(data) >= 3 && string(data[0:3]) == "ID3",
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return "m4a"
	default:
		return "pcm"
	}
}

// wavDuration reads the duration of a WAV payload in seconds.
func wavDuration(data []byte) (float64, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav payload")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	return d.Seconds(), nil
}

// pcmDuration is the length in seconds of 16-bit PCM at the given format.
func pcmDuration(n, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(n) / float64(2*sampleRate*channels)
}

// probeDuration reports the audio length when the format allows it without a
// full decoder, and 0 otherwise.
func probeDuration(data []byte, sampleRate, channels int) float64 {
	switch container(data) {
	case "wav":
		d, err := wavDuration(data)
		if err != nil {
			return 0
		}
		return d
	case "pcm":
		return pcmDuration(len(data), sampleRate, channels)
	default:
		return 0
	}
}

// writePCMToWav wraps raw 16-bit PCM in a WAV container.
func writePCMToWav(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
