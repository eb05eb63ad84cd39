// Package tts renders receptionist replies to playable audio files.
package tts

import (
	"context"
	"fmt"
	"net/http"

	"receptionist/internal/config"
)

// Synthesizer matches what the playback queue needs from a backend.
type Synthesizer interface {
	SynthesizeFile(ctx context.Context, text, lang, path string) error
	Format() string
}

// New returns the backend selected by cfg.Backend. httpClient is used for
// cloud traffic and may be nil.
func New(cfg config.TTSConfig, apiKey string, httpClient *http.Client) (Synthesizer, error) {
	switch cfg.Backend {
	case "", "openai":
		return NewOpenAI(apiKey, cfg.Model, cfg.Voice, httpClient), nil
	case "piper":
		return NewPiper(cfg.Piper), nil
	default:
		return nil, fmt.Errorf("unknown tts backend %q", cfg.Backend)
	}
}
