// Package llm streams completions from a language model backend.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"receptionist/internal/config"
)

type Options struct {
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	Stop          []string
	NumCtx        int
	NumPredict    int
}

type Request struct {
	Prompt  string
	Options Options
}

// Stream yields completion fragments. Next returns io.EOF once the model is
// done. Close must always be called.
type Stream interface {
	Next() (string, error)
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// OptionsFromConfig maps the llm section onto per-request sampling options.
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		TopK:          cfg.TopK,
		RepeatPenalty: cfg.RepeatPenalty,
		Stop:          append([]string(nil), cfg.Stop...),
		NumCtx:        cfg.NumCtx,
		NumPredict:    cfg.NumPredict,
	}
}

// New builds the generator selected by cfg.Backend. httpClient carries proxy
// settings for cloud backends and may be nil.
func New(cfg config.LLMConfig, apiKey string, httpClient *http.Client) (Generator, error) {
	switch cfg.Backend {
	case "", "ollama":
		return NewOllama(cfg.Endpoint, cfg.Model, cfg.Timeout), nil
	case "openai":
		return NewOpenAI(apiKey, cfg.Model, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
