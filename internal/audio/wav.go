package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// MinSampleRate is the lowest output rate NewWAVWriter accepts
const MinSampleRate = 8000

// EncodeWAV wraps mono 16-bit PCM in a WAV container
func EncodeWAV(pcm *PCM) []byte {
	var buf bytes.Buffer
	data := SamplesToBytes(pcm.Samples)
	buf.Write(wavHeader(len(data), pcm.SampleRate, 1))
	buf.Write(data)
	return buf.Bytes()
}

func wavHeader(dataSize, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	h := make([]byte, wavHeaderSize)

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataSize))
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(h[32:34], uint16(channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataSize))
	return h
}

// WAVWriter streams mono 16-bit PCM into a WAV file and patches the header sizes on Close
type WAVWriter struct {
	out        io.WriteSeeker
	sampleRate int
	dataSize   int
	closed     bool
}

// NewWAVWriter writes a provisional header to out
func NewWAVWriter(out io.WriteSeeker, sampleRate int) (*WAVWriter, error) {
	if sampleRate < MinSampleRate {
		return nil, fmt.Errorf("sample rate must be at least %d Hz, got %d", MinSampleRate, sampleRate)
	}
	if _, err := out.Write(wavHeader(0, sampleRate, 1)); err != nil {
		return nil, fmt.Errorf("failed to write wav header: %w", err)
	}
	return &WAVWriter{out: out, sampleRate: sampleRate}, nil
}

// SampleRate is the rate all written samples must already be at
func (w *WAVWriter) SampleRate() int {
	return w.sampleRate
}

// WriteSamples appends samples to the data chunk
func (w *WAVWriter) WriteSamples(samples []int16) error {
	if w.closed {
		return fmt.Errorf("wav writer is closed")
	}
	n, err := w.out.Write(SamplesToBytes(samples))
	w.dataSize += n
	return err
}

// Close rewrites the header with the final sizes. It does not close out.
func (w *WAVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if _, err := w.out.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to wav header: %w", err)
	}
	if _, err := w.out.Write(wavHeader(w.dataSize, w.sampleRate, 1)); err != nil {
		return fmt.Errorf("failed to patch wav header: %w", err)
	}
	_, err := w.out.Seek(0, io.SeekEnd)
	return err
}
