package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedFormat is returned for payloads that are neither MP3 nor PCM WAV
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// PCM is decoded mono 16-bit audio
type PCM struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

// To returns the audio resampled to rate
func (p *PCM) To(rate int) *PCM {
	if rate == p.SampleRate {
		return p
	}
	return &PCM{Samples: Resample(p.Samples, p.SampleRate, rate), SampleRate: rate}
}

// Decode turns an MP3 or WAV payload into mono PCM. contentType is a hint; the
// payload header decides when the hint is missing or generic.
func Decode(data []byte, contentType string) (*PCM, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	switch {
	case isWAV(data):
		return decodeWAV(data)
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"), isMP3(data):
		return decodeMP3(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func decodeMP3(data []byte) (*PCM, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian stereo
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("failed to read mp3 frames: %w", err)
	}
	samples, err := BytesToSamples(raw[:len(raw)&^1])
	if err != nil {
		return nil, err
	}
	return &PCM{Samples: Downmix(samples, 2), SampleRate: d.SampleRate()}, nil
}

// decodeWAV reads an uncompressed 16-bit PCM WAV, skipping unknown chunks
func decodeWAV(data []byte) (*PCM, error) {
	var (
		channels   int
		sampleRate int
		bits       int
		haveFmt    bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: wav format %d with %d bits", ErrUnsupportedFormat, format, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("wav data chunk before fmt chunk")
			}
			samples, err := BytesToSamples(data[body : body+size&^1])
			if err != nil {
				return nil, err
			}
			return &PCM{Samples: Downmix(samples, channels), SampleRate: sampleRate}, nil
		}

		pos = body + size + size%2
	}
	return nil, fmt.Errorf("wav has no data chunk")
}
