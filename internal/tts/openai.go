package tts

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"os"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type OpenAI struct {
	client openai.Client
	model  string
	voice  string
}

func NewOpenAI(apiKey, model, voice string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = string(openai.SpeechModelGPT4oMiniTTS)
	}
	if voice == "" {
		voice = "alloy"
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		voice:  voice,
	}
}

func (o *OpenAI) Format() string { return "mp3" }

// SynthesizeFile writes an mp3 rendition of text to path. The speech API
// detects the language from the input so lang is only logged.
func (o *OpenAI) SynthesizeFile(ctx context.Context, text, lang, path string) error {
	log.Debug("OpenAI speech", "model", o.model, "voice", o.voice, "lang", lang, "text_len", len(text))

	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(o.model),
		Voice:          openai.AudioSpeechNewParamsVoice(o.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("saving speech: %w", err)
	}
	return f.Close()
}
