// Package playback narrates text chunk by chunk: it segments, requests audio for
// each chunk in order and plays it through a Sink, one session at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narration-gateway/internal/observability"
	"github.com/lexiqai/narration-gateway/internal/textseg"
	"github.com/lexiqai/narration-gateway/internal/tts"
)

var (
	// ErrAllChunksFailed is reported once for a session in which no chunk played
	ErrAllChunksFailed = errors.New("narration failed: no chunk could be played")
	// ErrClosed is returned by Speak after Close
	ErrClosed = errors.New("orchestrator is closed")
)

// Synthesizer returns audio for one chunk. *tts.Proxy and *HTTPSynthesizer implement it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (*tts.Result, error)
}

// Sink plays audio. Play blocks until the chunk has finished playing and must
// return promptly once ctx is done.
type Sink interface {
	Play(ctx context.Context, chunk textseg.Chunk, audio *tts.Result) error
}

// PlaybackError is a sink failure for one chunk
type PlaybackError struct {
	Index int
	Err   error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback of chunk %d failed: %v", e.Index, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// Options tune segmentation and scheduling
type Options struct {
	// MaxChunkLength bounds each chunk in characters. Zero means textseg.DefaultMaxLength.
	MaxChunkLength int
	// MergeSentences packs short adjacent sentences into one chunk
	MergeSentences bool
	// Prefetch requests chunk N+1 while chunk N plays. Playback order is unchanged.
	Prefetch bool
}

// SessionReport summarizes a finished session
type SessionReport struct {
	ID        string
	Chunks    int
	Played    int
	Failed    int
	Cancelled bool
	// Err is set (wrapping ErrAllChunksFailed) when chunks existed but none played
	Err error
}

type session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator runs at most one narration session at a time
type Orchestrator struct {
	synth  Synthesizer
	sink   Sink
	opts   Options
	logger zerolog.Logger

	// sessionMu serializes Speak, Stop and Close
	sessionMu sync.Mutex

	mu       sync.Mutex
	current  *session
	last     *session
	speaking bool
	closed   bool
	onState  func(speaking bool)
	onEnd    func(SessionReport)
}

// New creates an Orchestrator
func New(synth Synthesizer, sink Sink, opts Options) *Orchestrator {
	if opts.MaxChunkLength <= 0 {
		opts.MaxChunkLength = textseg.DefaultMaxLength
	}
	return &Orchestrator{
		synth:  synth,
		sink:   sink,
		opts:   opts,
		logger: observability.WithComponent("playback"),
	}
}

// OnStateChange registers an observer for the speaking flag. It is called from
// session goroutines and must not call Speak or Stop.
func (o *Orchestrator) OnStateChange(fn func(speaking bool)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onState = fn
}

// OnSessionEnd registers an observer called once per finished session, before
// Stop or Wait return for it. It must not call Speak or Stop.
func (o *Orchestrator) OnSessionEnd(fn func(SessionReport)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEnd = fn
}

// Speak starts narrating text, first stopping any active session. It returns
// once the new session has started; the session ends when its queue drains,
// Stop is called or ctx is done. Text with no speakable content starts nothing.
func (o *Orchestrator) Speak(ctx context.Context, text, lang string) error {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	if o.isClosed() {
		return ErrClosed
	}

	o.stopLocked()

	chunks := o.segment(text, lang)
	if len(chunks) == 0 {
		return nil
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:     observability.NewCorrelationID(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	o.current = s
	o.last = s
	notify := o.setSpeakingLocked(true)
	o.mu.Unlock()
	notify()

	go o.run(sessCtx, s, chunks)
	return nil
}

// Toggle stops an active session, or starts one when idle. It reports whether
// a session was started.
func (o *Orchestrator) Toggle(ctx context.Context, text, lang string) (bool, error) {
	if o.IsSpeaking() {
		o.Stop()
		return false, nil
	}
	if err := o.Speak(ctx, text, lang); err != nil {
		return false, err
	}
	return o.IsSpeaking(), nil
}

// Stop cancels the active session and waits for it to wind down. Stopping an
// idle orchestrator does nothing.
func (o *Orchestrator) Stop() {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()
	o.stopLocked()
}

// Close stops the active session and rejects further Speak calls
func (o *Orchestrator) Close() {
	o.sessionMu.Lock()
	defer o.sessionMu.Unlock()

	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stopLocked()
}

// IsSpeaking reports whether a session is active
func (o *Orchestrator) IsSpeaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// Wait blocks until the most recent session has ended and reported, or ctx is done
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	s := o.last
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) stopLocked() {
	o.mu.Lock()
	s := o.current
	o.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// setSpeakingLocked updates the flag and returns the notification to run once mu is released
func (o *Orchestrator) setSpeakingLocked(speaking bool) func() {
	if o.speaking == speaking || o.onState == nil {
		o.speaking = speaking
		return func() {}
	}
	o.speaking = speaking
	fn := o.onState
	return func() { fn(speaking) }
}

func (o *Orchestrator) segment(text, lang string) []textseg.Chunk {
	parts := textseg.Segment(text, o.opts.MaxChunkLength)
	if o.opts.MergeSentences {
		parts = textseg.Coalesce(parts, o.opts.MaxChunkLength)
	}
	return textseg.Tag(parts, lang)
}

type fetched struct {
	res *tts.Result
	err error
}

func (o *Orchestrator) fetch(ctx context.Context, c textseg.Chunk) <-chan fetched {
	ch := make(chan fetched, 1)
	go func() {
		res, err := o.synth.Synthesize(ctx, c.Text, c.Language)
		ch <- fetched{res: res, err: err}
	}()
	return ch
}

func (o *Orchestrator) run(ctx context.Context, s *session, chunks []textseg.Chunk) {
	defer close(s.done)
	defer s.cancel()

	logger := o.logger.With().Str("session_id", s.id).Logger()
	metrics := observability.NewSessionMetrics(s.id)
	metrics.RecordSessionStart()
	defer metrics.RecordSessionEnd()

	report := SessionReport{ID: s.id, Chunks: len(chunks)}
	var lastErr error

	logger.Debug().Int("chunks", len(chunks)).Msg("Narration session started")

	var next <-chan fetched
	for i, c := range chunks {
		pending := next
		if pending == nil {
			pending = o.fetch(ctx, c)
		}

		var f fetched
		select {
		case f = <-pending:
		case <-ctx.Done():
		}
		// Cancellation is checked on resumption; a late result is discarded
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		next = nil
		if o.opts.Prefetch && i+1 < len(chunks) {
			next = o.fetch(ctx, chunks[i+1])
		}

		if f.err != nil {
			report.Failed++
			lastErr = f.err
			metrics.RecordChunk("synthesis_failed")
			logger.Warn().Err(f.err).Int("seq", c.Index).Str("lang", c.Language).Msg("Skipping chunk: synthesis failed")
			continue
		}

		if err := o.sink.Play(ctx, c, f.res); err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				break
			}
			report.Failed++
			lastErr = &PlaybackError{Index: c.Index, Err: err}
			metrics.RecordChunk("playback_failed")
			logger.Warn().Err(err).Int("seq", c.Index).Msg("Skipping chunk: playback failed")
			continue
		}

		report.Played++
		metrics.RecordChunk("played")
	}

	if report.Cancelled {
		metrics.RecordChunk("cancelled")
	} else if report.Played == 0 && report.Failed > 0 {
		report.Err = fmt.Errorf("%w: %d chunk(s), last error: %v", ErrAllChunksFailed, report.Failed, lastErr)
		observability.RecordError("all_chunks_failed", "playback")
		logger.Error().Err(lastErr).Int("chunks", report.Chunks).Msg("Narration failed for every chunk")
	}

	logger.Debug().
		Int("played", report.Played).
		Int("failed", report.Failed).
		Bool("cancelled", report.Cancelled).
		Msg("Narration session ended")

	o.mu.Lock()
	notify := func() {}
	if o.current == s {
		o.current = nil
		notify = o.setSpeakingLocked(false)
	}
	onEnd := o.onEnd
	o.mu.Unlock()

	notify()
	if onEnd != nil {
		onEnd(report)
	}
}
