package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"strings"
	"time"
)

// Ollama talks to the /api/generate endpoint with streaming enabled.
type Ollama struct {
	endpoint string
	model    string
	timeout  time.Duration
	client   *http.Client
}

func NewOllama(endpoint, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		endpoint: endpoint,
		model:    model,
		timeout:  timeoutOrDefault(timeout),
		client:   &http.Client{},
	}
}

type ollamaOptions struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
	NumCtx        int      `json:"num_ctx,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate starts the request. The configured timeout bounds the time to the
// response headers, not the length of the stream.
func (o *Ollama) Generate(ctx context.Context, req Request) (Stream, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		Stream: true,
		Options: ollamaOptions{
			Temperature:   req.Options.Temperature,
			TopP:          req.Options.TopP,
			TopK:          req.Options.TopK,
			RepeatPenalty: req.Options.RepeatPenalty,
			Stop:          req.Options.Stop,
			NumCtx:        req.Options.NumCtx,
			NumPredict:    req.Options.NumPredict,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(o.timeout, cancel)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		timer.Stop()
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug("Ollama request", "model", o.model, "prompt_len", len(req.Prompt))

	resp, err := o.client.Do(httpReq)
	timer.Stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ollama request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("ollama failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return &ollamaStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		cancel:  cancel,
	}, nil
}

type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	done    bool
}

func (s *ollamaStream) Next() (string, error) {
	for !s.done {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", fmt.Errorf("reading stream: %w", err)
			}
			return "", io.EOF
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decoding chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", errors.New(chunk.Error)
		}
		if chunk.Done {
			s.done = true
		}
		if chunk.Response != "" {
			return chunk.Response, nil
		}
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	s.cancel()
	return s.body.Close()
}
