// Package receptionist runs the conversation loop: listen, route, answer,
// wait for the answer to be spoken, repeat.
package receptionist

import (
	"context"
	"fmt"
	log "log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"receptionist/internal/intent"
)

type State int32

const (
	Idle State = iota
	Capturing
	Discarding
	Routing
	Responding
	Speaking
	Exiting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Discarding:
		return "discarding"
	case Routing:
		return "routing"
	case Responding:
		return "responding"
	case Speaking:
		return "speaking"
	case Exiting:
		return "exiting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const newAppointmentSummary = "New appointment"

type Capturer interface {
	CaptureAndTranscribe(ctx context.Context) string
}

type Responder interface {
	Respond(ctx context.Context, text string) string
}

type Calendar interface {
	CreateAppointment(ctx context.Context, summary, hint string, duration time.Duration) string
	ListUpcomingAppointments(ctx context.Context, max int) string
}

type Speaker interface {
	Enqueue(text string) error
	Stop()
	Drain(ctx context.Context) error
}

type Notifier interface {
	Notify(event string, fields map[string]any)
}

type Board interface {
	Record(kind, text string)
}

type Options struct {
	Greeting  string
	Farewell  string
	MinWords  int
	TurnPause time.Duration
}

// Session owns one conversation. Calendar, Notifier and Board are optional;
// without a calendar, calendar requests go to the responder.
type Session struct {
	capture   Capturer
	responder Responder
	calendar  Calendar
	speaker   Speaker
	notifier  Notifier
	board     Board
	opts      Options

	state atomic.Int32
}

func NewSession(c Capturer, r Responder, cal Calendar, sp Speaker, n Notifier, b Board, opts Options) *Session {
	if opts.Farewell == "" {
		opts.Farewell = "Goodbye! Have a great day!"
	}
	if opts.MinWords <= 0 {
		opts.MinWords = 2
	}
	return &Session{
		capture:   c,
		responder: r,
		calendar:  cal,
		speaker:   sp,
		notifier:  n,
		board:     b,
		opts:      opts,
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		log.Debug("State", "from", old, "to", st)
	}
}

// Run loops until the caller says goodbye or ctx is cancelled. Either way
// the farewell is the last thing enqueued and the speaker is stopped.
func (s *Session) Run(ctx context.Context) {
	if s.opts.Greeting != "" {
		s.speak(s.opts.Greeting)
	}

	for {
		if ctx.Err() != nil {
			log.Info("Shutting down")
			s.setState(Exiting)
			s.speak(s.opts.Farewell)
			s.speaker.Stop()
			return
		}

		if s.turn(ctx) {
			return
		}
	}
}

// turn runs one Idle → … → Idle cycle and reports whether the session ended.
func (s *Session) turn(ctx context.Context) (exit bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Main loop error", "panic", r, "stack", string(debug.Stack()))
			s.setState(Idle)
			exit = false
		}
	}()

	s.setState(Capturing)
	text := s.capture.CaptureAndTranscribe(ctx)
	if ctx.Err() != nil {
		return false
	}

	if len(strings.Fields(text)) < s.opts.MinWords {
		s.setState(Discarding)
		log.Info("No clear speech detected, listening again")
		return false
	}

	s.setState(Routing)
	s.notify("transcription", map[string]any{"text": text})

	kind := intent.Classify(text)
	log.Info("Routing", "intent", kind)

	if kind == intent.Exit {
		s.setState(Exiting)
		log.Info("Goodbye")
		s.speak(s.opts.Farewell)
		s.speaker.Stop()
		return true
	}

	s.setState(Responding)
	s.respond(ctx, kind, text)

	s.setState(Speaking)
	if err := s.speaker.Drain(ctx); err != nil {
		return false
	}

	select {
	case <-ctx.Done():
	case <-time.After(s.opts.TurnPause):
	}
	s.setState(Idle)
	return false
}

func (s *Session) respond(ctx context.Context, kind intent.Intent, text string) {
	if s.calendar == nil && (kind == intent.CalendarQuery || kind == intent.CalendarCreate) {
		kind = intent.General
	}

	switch kind {
	case intent.CalendarQuery:
		result := s.calendar.ListUpcomingAppointments(ctx, 0)
		s.calendarResult(ctx, "list_appointments", text, result)

	case intent.CalendarCreate:
		result := s.calendar.CreateAppointment(ctx, newAppointmentSummary, "tomorrow", 0)
		s.calendarResult(ctx, "appointment_created", text, result)

	default:
		s.responder.Respond(ctx, text)
	}
}

// calendarResult announces result unless the session was interrupted while
// the calendar call was in flight.
func (s *Session) calendarResult(ctx context.Context, event, user, result string) {
	if ctx.Err() != nil {
		log.Info("Calendar request interrupted")
		return
	}
	log.Info("Calendar", "result", result)
	s.speak(result)
	s.notify(event, map[string]any{"user": user, "result": result})
	if s.board != nil {
		s.board.Record("assistant", result)
	}
}

func (s *Session) speak(text string) {
	if err := s.speaker.Enqueue(text); err != nil {
		log.Warn("Could not enqueue speech", "err", err)
	}
}

func (s *Session) notify(event string, fields map[string]any) {
	if s.notifier != nil {
		s.notifier.Notify(event, fields)
	}
}
