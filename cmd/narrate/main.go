package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lexiqai/narration-gateway/internal/audio"
	"github.com/lexiqai/narration-gateway/internal/observability"
	"github.com/lexiqai/narration-gateway/internal/playback"
	"github.com/lexiqai/narration-gateway/internal/textseg"
)

// appFlags holds the parsed command-line flag values
type appFlags struct {
	gateway    string
	lang       string
	output     string
	sampleRate int
	maxChunk   int
	merge      bool
	prefetch   bool
	realtime   bool
	timeout    time.Duration
	logLevel   string
}

func main() {
	flags := parseFlags(os.Args[1:])
	observability.InitLogger(flags.logLevel, true)

	text, err := readText(flag.Args(), os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, text); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) appFlags {
	var flags appFlags
	fs := flag.CommandLine
	fs.StringVar(&flags.gateway, "gateway", "http://localhost:8080", "Narration gateway base URL")
	fs.StringVar(&flags.lang, "lang", "en", "Language tag of the text")
	fs.StringVar(&flags.output, "output", "narration.wav", "Output file path (.wav)")
	fs.IntVar(&flags.sampleRate, "rate", 24000, fmt.Sprintf("Output sample rate in Hz (at least %d)", audio.MinSampleRate))
	fs.IntVar(&flags.maxChunk, "max-chunk", textseg.DefaultMaxLength, "Maximum characters per chunk")
	fs.BoolVar(&flags.merge, "merge", false, "Pack short sentences into one chunk")
	fs.BoolVar(&flags.prefetch, "prefetch", false, "Request the next chunk while the current one plays")
	fs.BoolVar(&flags.realtime, "realtime", false, "Write audio at playback speed so Ctrl-C stops mid-sentence")
	fs.DurationVar(&flags.timeout, "timeout", 30*time.Second, "Per-chunk gateway timeout")
	fs.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	_ = fs.Parse(args)
	return flags
}

// readText joins positional args, or reads stdin when there are none
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("no text given: pass it as arguments or on stdin")
	}
	return string(data), nil
}

func run(ctx context.Context, flags appFlags, text string) error {
	logger := observability.WithComponent("narrate")

	f, err := os.Create(flags.output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	w, err := audio.NewWAVWriter(f, flags.sampleRate)
	if err != nil {
		return err
	}

	synth := playback.NewHTTPSynthesizer(flags.gateway, &http.Client{Timeout: flags.timeout})
	orch := playback.New(synth, playback.NewWAVSink(w, flags.realtime), playback.Options{
		MaxChunkLength: flags.maxChunk,
		MergeSentences: flags.merge,
		Prefetch:       flags.prefetch,
	})

	var report playback.SessionReport
	orch.OnSessionEnd(func(r playback.SessionReport) { report = r })

	if err := orch.Speak(ctx, text, flags.lang); err != nil {
		return err
	}
	// Wait returns once the session ends; Ctrl-C cancels ctx, which ends it early
	if err := orch.Wait(context.Background()); err != nil {
		return err
	}
	orch.Close()

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}

	logger.Info().
		Str("output", flags.output).
		Int("chunks", report.Chunks).
		Int("played", report.Played).
		Int("failed", report.Failed).
		Bool("cancelled", report.Cancelled).
		Msg("Narration finished")

	return report.Err
}
