package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPTranscriber posts artifacts to an OpenAI compatible
// /v1/audio/transcriptions endpoint (faster-whisper-server, whisper.cpp
// server, the OpenAI API itself).
type HTTPTranscriber struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewHTTPTranscriber uses client when non-nil, otherwise a client with a 60s
// timeout.
func NewHTTPTranscriber(endpoint, model, apiKey string, client *http.Client) *HTTPTranscriber {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTranscriber{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   client,
	}
}

func (h *HTTPTranscriber) TranscribeFile(ctx context.Context, path, lang string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if h.model != "" {
		_ = w.WriteField("model", h.model)
	}
	if lang != "" {
		_ = w.WriteField("language", lang)
	}
	_ = w.WriteField("response_format", "json")
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
