package conversation

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"receptionist/internal/llm"
)

type fakeStream struct {
	tokens []string
	err    error
	closed bool
}

func (s *fakeStream) Next() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeGenerator struct {
	tokens  []string
	err     error
	midErr  error
	prompts []string
	last    *fakeStream
}

func (g *fakeGenerator) Generate(_ context.Context, req llm.Request) (llm.Stream, error) {
	g.prompts = append(g.prompts, req.Prompt)
	if g.err != nil {
		return nil, g.err
	}
	g.last = &fakeStream{tokens: append([]string(nil), g.tokens...), err: g.midErr}
	return g.last, nil
}

type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSpeaker) Enqueue(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

type fakeBoard struct {
	entries []string
}

func (b *fakeBoard) Record(kind, text string) {
	b.entries = append(b.entries, kind+":"+text)
}

func newTestResponder(t *testing.T, gen llm.Generator) (*Responder, *fakeSpeaker, *fakeBoard, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "response_output.txt")
	sp := &fakeSpeaker{}
	board := &fakeBoard{}
	r := NewResponder(gen, sp, board, NewTranscriptLog(path), Options{
		Name:         "Sarah",
		SystemPrompt: "You are Sarah.",
		Forbidden:    []string{"victorian", "thee", "user:"},
		MaxWords:     50,
	})
	return r, sp, board, path
}

func TestRespondStreamsSentences(t *testing.T) {
	gen := &fakeGenerator{tokens: []string{"Hello", "! ", "How can", " I help", " you today?", " I am", " here"}}
	r, sp, board, path := newTestResponder(t, gen)

	got := r.Respond(context.Background(), "hi there")
	want := "Hello! How can I help you today? I am here"
	if got != want {
		t.Fatalf("Respond() = %q, want %q", got, want)
	}

	wantSpoken := []string{"Hello!", "How can I help you today?", "I am here"}
	if strings.Join(sp.texts, "|") != strings.Join(wantSpoken, "|") {
		t.Errorf("spoken = %q, want %q", sp.texts, wantSpoken)
	}
	if !gen.last.closed {
		t.Error("stream not closed")
	}

	if len(board.entries) != 1 || board.entries[0] != "assistant:"+want {
		t.Errorf("board = %v", board.entries)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	wantLog := "User: hi there\nSarah: " + want + "\n" + strings.Repeat("-", 50) + "\n"
	if string(data) != wantLog {
		t.Errorf("transcript = %q, want %q", data, wantLog)
	}

	if !strings.HasSuffix(gen.prompts[0], "You are Sarah.\n\nUser: hi there\nSarah:") {
		t.Errorf("prompt = %q", gen.prompts[0])
	}
}

func TestRespondFilter(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
	}{
		{"single token", []string{"Good day, ", "Victorian", " friend."}},
		{"term split across tokens", []string{"Sure. ", "Vic", "torian times."}},
		{"case insensitive", []string{"Bless THEE."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sp, board, path := newTestResponder(t, &fakeGenerator{tokens: tt.tokens})

			if got := r.Respond(context.Background(), "tell me a story"); got != "" {
				t.Errorf("Respond() = %q, want empty", got)
			}
			if n := len(sp.texts); n == 0 || sp.texts[n-1] != FilteredApology {
				t.Errorf("spoken = %q, want apology last", sp.texts)
			}
			for _, s := range sp.texts {
				if strings.Contains(strings.ToLower(s), "victorian") || strings.Contains(strings.ToLower(s), "thee") {
					t.Errorf("forbidden content spoken: %q", s)
				}
			}
			if len(r.History()) != 0 {
				t.Errorf("history = %v, want empty", r.History())
			}
			if len(board.entries) != 0 {
				t.Errorf("board = %v, want empty", board.entries)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("transcript written for filtered response")
			}
		})
	}
}

func TestRespondFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"request fails", &fakeGenerator{err: errors.New("connection refused")}},
		{"stream breaks", &fakeGenerator{tokens: []string{"Partial"}, midErr: errors.New("reset by peer")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sp, _, _ := newTestResponder(t, tt.gen)
			if got := r.Respond(context.Background(), "hello"); got != "" {
				t.Errorf("Respond() = %q, want empty", got)
			}
			if len(sp.texts) != 1 || sp.texts[0] != TechnicalApology {
				t.Errorf("spoken = %q", sp.texts)
			}
			if len(r.History()) != 0 {
				t.Error("history mutated on failure")
			}
		})
	}
}

// cancelingStream yields one token, then cancels the turn the way an
// interrupt does and reports the context error.
type cancelingStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	sent   bool
}

func (s *cancelingStream) Next() (string, error) {
	if !s.sent {
		s.sent = true
		return "Sure, let me ", nil
	}
	s.cancel()
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s *cancelingStream) Close() error { return nil }

type cancelingGenerator struct {
	cancel context.CancelFunc
}

func (g *cancelingGenerator) Generate(ctx context.Context, _ llm.Request) (llm.Stream, error) {
	return &cancelingStream{ctx: ctx, cancel: g.cancel}, nil
}

func TestRespondInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, sp, board, path := newTestResponder(t, &cancelingGenerator{cancel: cancel})
	if got := r.Respond(ctx, "hello there"); got != "" {
		t.Errorf("Respond() = %q, want empty", got)
	}
	if len(sp.texts) != 0 {
		t.Errorf("spoken = %q, want nothing", sp.texts)
	}
	if len(board.entries) != 0 {
		t.Errorf("board = %q, want nothing", board.entries)
	}
	if len(r.History()) != 0 {
		t.Error("history mutated on interrupt")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("transcript written on interrupt, stat err = %v", err)
	}
}

func TestRespondWordBudget(t *testing.T) {
	tokens := make([]string, 80)
	for i := range tokens {
		tokens[i] = " word"
	}
	gen := &fakeGenerator{tokens: tokens}
	r, sp, _, _ := newTestResponder(t, gen)

	got := r.Respond(context.Background(), "talk a lot")
	if n := len(strings.Fields(got)); n != 51 {
		t.Errorf("words = %d, want 51", n)
	}
	if len(gen.last.tokens) == 0 {
		t.Error("stream was consumed past the budget")
	}
	if len(sp.texts) != 1 {
		t.Errorf("spoken %d fragments, want 1", len(sp.texts))
	}
}

func TestHistoryBounded(t *testing.T) {
	gen := &fakeGenerator{tokens: []string{"Okay."}}
	r, _, _, _ := newTestResponder(t, gen)

	for i := range 7 {
		r.Respond(context.Background(), "turn "+string(rune('a'+i)))
		if n := len(r.History()); n > historyMax {
			t.Fatalf("history length %d after turn %d", n, i)
		}
	}

	// the prompt carries the previous reply and the new utterance only
	last := gen.prompts[len(gen.prompts)-1]
	if !strings.HasSuffix(last, "Sarah: Okay.\nUser: turn g\nSarah:") {
		t.Errorf("prompt = %q", last)
	}
}
