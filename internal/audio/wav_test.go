package audio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeDecodeWAV(t *testing.T) {
	in := &PCM{Samples: []int16{0, 1000, -1000, 32767, -32768}, SampleRate: 16000}

	data := EncodeWAV(in)

	if len(data) != wavHeaderSize+len(in.Samples)*2 {
		t.Fatalf("Unexpected WAV size %d", len(data))
	}
	out, err := Decode(data, "")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", out.SampleRate)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("Expected %d samples, got %d", len(in.Samples), len(out.Samples))
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, in.Samples[i], out.Samples[i])
		}
	}
}

func TestDecodeWAV_StereoIsDownmixed(t *testing.T) {
	pcm := SamplesToBytes([]int16{100, 300, -100, -300})
	data := append(wavHeader(len(pcm), 22050, 2), pcm...)

	out, err := Decode(data, "audio/wav")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out.Samples) != 2 || out.Samples[0] != 200 || out.Samples[1] != -200 {
		t.Errorf("Unexpected downmix result %v", out.Samples)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	pcm := SamplesToBytes([]int16{7, 8})
	header := wavHeader(len(pcm), 8000, 1)

	// Insert a LIST chunk between fmt and data
	list := []byte("LIST\x04\x00\x00\x00abcd")
	data := append(append(append([]byte{}, header[:36]...), list...), header[36:]...)
	data = append(data, pcm...)

	out, err := Decode(data, "")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out.Samples) != 2 || out.Samples[1] != 8 {
		t.Errorf("Unexpected samples %v", out.Samples)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(nil, "audio/mpeg"); err == nil {
		t.Error("Expected error for empty payload")
	}

	if _, err := Decode([]byte("plain text"), "text/plain"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}

	if _, err := Decode([]byte("ID3garbage-that-is-not-mp3"), "audio/mpeg"); err == nil {
		t.Error("Expected error for corrupt mp3")
	}

	float := wavHeader(4, 8000, 1)
	binary.LittleEndian.PutUint16(float[20:22], 3) // IEEE float
	if _, err := Decode(append(float, 0, 0, 0, 0), ""); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat for float wav, got %v", err)
	}
}

func TestPCM_DurationAndResample(t *testing.T) {
	p := &PCM{Samples: make([]int16, 24000), SampleRate: 24000}

	if p.Duration() != time.Second {
		t.Errorf("Expected 1s, got %v", p.Duration())
	}
	q := p.To(16000)
	if q.SampleRate != 16000 || len(q.Samples) != 16000 {
		t.Errorf("Unexpected resample result: rate %d, %d samples", q.SampleRate, len(q.Samples))
	}
	if p.To(24000) != p {
		t.Error("Expected same-rate conversion to return the receiver")
	}
}

func TestWAVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	w, err := NewWAVWriter(f, 16000)
	if err != nil {
		t.Fatalf("NewWAVWriter failed: %v", err)
	}
	if err := w.WriteSamples([]int16{1, 2, 3}); err != nil {
		t.Fatalf("WriteSamples failed: %v", err)
	}
	if err := w.WriteSamples([]int16{4}); err != nil {
		t.Fatalf("WriteSamples failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.WriteSamples([]int16{5}); err == nil {
		t.Error("Expected error writing after Close")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 8 {
		t.Errorf("Expected data size 8, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 44 {
		t.Errorf("Expected RIFF size 44, got %d", got)
	}
	out, err := Decode(data, "audio/wav")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out.Samples) != 4 || out.Samples[3] != 4 {
		t.Errorf("Unexpected samples %v", out.Samples)
	}
}

func TestNewWAVWriter_RejectsLowSampleRates(t *testing.T) {
	for _, rate := range []int{-1, 0, 5, MinSampleRate - 1} {
		f, err := os.Create(filepath.Join(t.TempDir(), "out.wav"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := NewWAVWriter(f, rate); err == nil {
			t.Errorf("Expected error for sample rate %d", rate)
		}
		info, err := f.Stat()
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if info.Size() != 0 {
			t.Errorf("Expected nothing written for sample rate %d, got %d bytes", rate, info.Size())
		}
		f.Close()
	}

	f, err := os.Create(filepath.Join(t.TempDir(), "out.wav"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()
	if _, err := NewWAVWriter(f, MinSampleRate); err != nil {
		t.Errorf("Expected %d Hz to be accepted, got %v", MinSampleRate, err)
	}
}
