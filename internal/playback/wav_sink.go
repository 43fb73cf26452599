package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narration-gateway/internal/audio"
	"github.com/lexiqai/narration-gateway/internal/observability"
	"github.com/lexiqai/narration-gateway/internal/textseg"
	"github.com/lexiqai/narration-gateway/internal/tts"
)

// frameDuration is the pacing granularity in real-time mode
const frameDuration = 100 * time.Millisecond

// silenceRMS is the level below which a decoded chunk is logged as silent
const silenceRMS = 50.0

// WAVSink decodes each chunk and appends it to a WAV stream. In real-time mode
// it writes one frame per frameDuration so a cancelled session stops mid-chunk.
type WAVSink struct {
	w        *audio.WAVWriter
	realtime bool
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewWAVSink creates a sink writing to w
func NewWAVSink(w *audio.WAVWriter, realtime bool) *WAVSink {
	return &WAVSink{
		w:        w,
		realtime: realtime,
		logger:   observability.WithComponent("wav-sink"),
	}
}

func (s *WAVSink) Play(ctx context.Context, chunk textseg.Chunk, res *tts.Result) error {
	pcm, err := audio.Decode(res.Audio, res.ContentType)
	if err != nil {
		return err
	}
	pcm = pcm.To(s.w.SampleRate())

	if rms := audio.CalculateRMS(pcm.Samples); rms < silenceRMS {
		s.logger.Debug().Int("seq", chunk.Index).Float64("rms", rms).Msg("Chunk decoded to near silence")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.realtime {
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.w.WriteSamples(pcm.Samples)
	}

	frame := max(1, s.w.SampleRate()*int(frameDuration/time.Millisecond)/1000)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for off := 0; off < len(pcm.Samples); off += frame {
		end := min(off+frame, len(pcm.Samples))
		if err := s.w.WriteSamples(pcm.Samples[off:end]); err != nil {
			return fmt.Errorf("failed to write samples: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
