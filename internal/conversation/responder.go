// Package conversation produces spoken answers for general questions by
// streaming a language model and feeding complete sentences to the playback
// queue as they arrive.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"regexp"
	"strings"
	"sync"

	"receptionist/internal/llm"
)

const (
	FilteredApology  = "I apologize, let me answer that professionally."
	TechnicalApology = "Sorry, I had a technical issue. Could you repeat that?"

	historyContext = 2
	historyMax     = 4
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s*$`)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Entry struct {
	Role Role
	Text string
}

// Speaker accepts text for asynchronous playback.
type Speaker interface {
	Enqueue(text string) error
}

// Board mirrors conversation entries to viewers.
type Board interface {
	Record(kind, text string)
}

type Options struct {
	Name         string
	SystemPrompt string
	Forbidden    []string
	MaxWords     int
	Sampling     llm.Options
}

type Responder struct {
	gen     llm.Generator
	speaker Speaker
	board   Board
	log     *TranscriptLog
	opts    Options

	mu      sync.Mutex
	history []Entry
}

// NewResponder wires the responder. board and transcript may be nil.
func NewResponder(gen llm.Generator, speaker Speaker, board Board, transcript *TranscriptLog, opts Options) *Responder {
	if opts.Name == "" {
		opts.Name = "Sarah"
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = 50
	}
	forbidden := make([]string, 0, len(opts.Forbidden))
	for _, f := range opts.Forbidden {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			forbidden = append(forbidden, f)
		}
	}
	opts.Forbidden = forbidden

	return &Responder{
		gen:     gen,
		speaker: speaker,
		board:   board,
		log:     transcript,
		opts:    opts,
	}
}

var errFiltered = errors.New("response filtered")

// Respond answers userText. Sentences are enqueued for playback while the
// model is still generating. An empty return means the turn produced no
// answer: either a forbidden term showed up or the model failed, and an
// apology has been enqueued instead. A turn cut short by ctx says nothing.
func (r *Responder) Respond(ctx context.Context, userText string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := Entry{Role: RoleUser, Text: userText}
	prompt := r.prompt(pending)

	reply, err := r.stream(ctx, prompt)
	switch {
	case errors.Is(err, errFiltered):
		log.Warn("Response filtered")
		r.speak(FilteredApology)
		return ""
	case err != nil && ctx.Err() != nil:
		log.Info("Response interrupted")
		return ""
	case err != nil:
		log.Error("LLM error", "err", err)
		r.speak(TechnicalApology)
		return ""
	}

	r.history = append(r.history, pending, Entry{Role: RoleAssistant, Text: reply})
	if len(r.history) > historyMax {
		r.history = append([]Entry(nil), r.history[len(r.history)-historyContext:]...)
	}

	if r.board != nil {
		r.board.Record(string(RoleAssistant), reply)
	}
	if r.log != nil {
		if err := r.log.Append(userText, r.opts.Name, reply); err != nil {
			log.Error("Failed to append transcript", "err", err)
		}
	}

	return reply
}

// History returns a copy of the conversation memory.
func (r *Responder) History() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.history...)
}

func (r *Responder) prompt(pending Entry) string {
	recent := append(append([]Entry(nil), r.history...), pending)
	if len(recent) > historyContext {
		recent = recent[len(recent)-historyContext:]
	}

	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, fmt.Sprintf("%s: %s", r.speakerName(e.Role), e.Text))
	}

	return fmt.Sprintf("%s\n\n%s\n%s:", r.opts.SystemPrompt, strings.Join(lines, "\n"), r.opts.Name)
}

func (r *Responder) speakerName(role Role) string {
	if role == RoleAssistant {
		return r.opts.Name
	}
	return "User"
}

// stream consumes the model output. Complete sentences are spoken as soon as
// they are terminated; the rest is spoken once the stream ends or the word
// budget runs out.
func (r *Responder) stream(ctx context.Context, prompt string) (string, error) {
	s, err := r.gen.Generate(ctx, llm.Request{Prompt: prompt, Options: r.opts.Sampling})
	if err != nil {
		return "", err
	}
	defer s.Close()

	var (
		full     strings.Builder
		sentence strings.Builder
		words    int
	)

	for {
		tok, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		if r.forbidden(full.String() + tok) {
			return "", errFiltered
		}

		full.WriteString(tok)
		sentence.WriteString(tok)
		words += len(strings.Fields(tok))

		if words > r.opts.MaxWords {
			log.Debug("Word budget reached", "words", words)
			break
		}

		if done := strings.TrimSpace(sentence.String()); sentenceEnd.MatchString(done) {
			r.speak(done)
			sentence.Reset()
		}
	}

	if rest := strings.TrimSpace(sentence.String()); rest != "" {
		r.speak(rest)
	}

	return strings.TrimSpace(full.String()), nil
}

func (r *Responder) forbidden(text string) bool {
	text = strings.ToLower(text)
	for _, f := range r.opts.Forbidden {
		if strings.Contains(text, f) {
			return true
		}
	}
	return false
}

func (r *Responder) speak(text string) {
	if err := r.speaker.Enqueue(text); err != nil {
		log.Warn("Could not enqueue speech", "err", err)
	}
}
