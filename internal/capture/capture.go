// Package capture turns one spoken phrase into text.
package capture

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"receptionist/internal/audio"
	"receptionist/pkg/audioconv"
)

type Listener interface {
	Listen(ctx context.Context) ([]float32, error)
	SampleRate() int
}

type Transcriber interface {
	TranscribeFile(ctx context.Context, path, lang string) (string, error)
}

// Cue plays the "I'm listening" earcon.
type Cue interface {
	PlayCue(ctx context.Context, path string)
}

type Board interface {
	Record(kind, text string)
}

type Options struct {
	Language string
	CuePath  string
	TempDir  string
}

type Adapter struct {
	listener    Listener
	transcriber Transcriber
	cue         Cue
	board       Board
	opts        Options
}

// NewAdapter wires capture. cue and board may be nil.
func NewAdapter(l Listener, t Transcriber, cue Cue, board Board, opts Options) *Adapter {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Adapter{
		listener:    l,
		transcriber: t,
		cue:         cue,
		board:       board,
		opts:        opts,
	}
}

// CaptureAndTranscribe records one phrase and returns its transcription. It
// never fails: silence and every error yield an empty string.
func (a *Adapter) CaptureAndTranscribe(ctx context.Context) string {
	if a.cue != nil && a.opts.CuePath != "" {
		a.cue.PlayCue(ctx, a.opts.CuePath)
	}

	log.Info("Listening")

	text, err := a.capture(ctx)
	switch {
	case errors.Is(err, audio.ErrNoSpeech):
		log.Warn("No speech detected")
		return ""
	case errors.Is(err, context.Canceled):
		return ""
	case err != nil:
		log.Error("Transcription error", "err", err)
		return ""
	}

	if text == "" {
		return ""
	}

	log.Info("Heard", "text", text)
	if a.board != nil {
		a.board.Record("user", text)
	}
	return text
}

func (a *Adapter) capture(ctx context.Context) (string, error) {
	pcm, err := a.listener.Listen(ctx)
	if err != nil {
		return "", err
	}

	path := filepath.Join(a.opts.TempDir, fmt.Sprintf("capture_%s.wav", uuid.NewString()))
	defer os.Remove(path)

	if err := audioconv.WriteWAV(path, pcm, a.listener.SampleRate()); err != nil {
		return "", fmt.Errorf("writing capture: %w", err)
	}

	text, err := a.transcriber.TranscribeFile(ctx, path, a.opts.Language)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
