package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// the chat completions API accepts at most four stop sequences
const maxStop = 4

type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(apiKey, model string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Options.Temperature),
		TopP:        openai.Float(req.Options.TopP),
	}
	if req.Options.NumPredict > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.Options.NumPredict))
	}
	if stop := req.Options.Stop; len(stop) > 0 {
		if len(stop) > maxStop {
			stop = stop[:maxStop]
		}
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: stop}
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	return &openaiStream{stream: stream}, nil
}

type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) Next() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if tok := chunk.Choices[0].Delta.Content; tok != "" {
			return tok, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("chat stream: %w", err)
	}
	return "", io.EOF
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
