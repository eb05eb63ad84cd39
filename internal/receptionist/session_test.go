package receptionist

import (
	"context"
	"sync"
	"testing"
	"time"

	"receptionist/internal/conversation"
	"receptionist/internal/llm"
)

type scriptedCapture struct {
	lines  []string
	cancel context.CancelFunc
	calls  int
}

func (c *scriptedCapture) CaptureAndTranscribe(ctx context.Context) string {
	if c.calls >= len(c.lines) {
		c.cancel()
		return ""
	}
	line := c.lines[c.calls]
	c.calls++
	return line
}

type fakeSpeaker struct {
	mu      sync.Mutex
	said    []string
	stops   int
	drains  int
	stopped bool
}

func (s *fakeSpeaker) Enqueue(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.said = append(s.said, text)
	return nil
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.stopped = true
}

func (s *fakeSpeaker) Drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drains++
	return nil
}

type fakeResponder struct {
	got []string
}

func (r *fakeResponder) Respond(ctx context.Context, text string) string {
	r.got = append(r.got, text)
	return "ok"
}

type fakeCalendar struct {
	created []string
	listed  int
}

func (c *fakeCalendar) CreateAppointment(ctx context.Context, summary, hint string, d time.Duration) string {
	c.created = append(c.created, summary+"@"+hint)
	return "Appointment created for January 02 at 10:00 AM"
}

func (c *fakeCalendar) ListUpcomingAppointments(ctx context.Context, max int) string {
	c.listed++
	return "Upcoming: Dentist"
}

type event struct {
	name   string
	fields map[string]any
}

type fakeNotifier struct {
	events []event
}

func (n *fakeNotifier) Notify(name string, fields map[string]any) {
	n.events = append(n.events, event{name, fields})
}

type fakeBoard struct {
	kinds []string
	texts []string
}

func (b *fakeBoard) Record(kind, text string) {
	b.kinds = append(b.kinds, kind)
	b.texts = append(b.texts, text)
}

type harness struct {
	capture  *scriptedCapture
	speaker  *fakeSpeaker
	resp     *fakeResponder
	cal      *fakeCalendar
	notifier *fakeNotifier
	board    *fakeBoard
	session  *Session
}

func newHarness(lines []string, withCalendar bool) (*harness, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		capture:  &scriptedCapture{lines: lines, cancel: cancel},
		speaker:  &fakeSpeaker{},
		resp:     &fakeResponder{},
		cal:      &fakeCalendar{},
		notifier: &fakeNotifier{},
		board:    &fakeBoard{},
	}
	var cal Calendar
	if withCalendar {
		cal = h.cal
	}
	h.session = NewSession(h.capture, h.resp, cal, h.speaker, h.notifier, h.board, Options{
		Farewell: "Goodbye! Have a great day!",
		MinWords: 2,
	})
	return h, ctx
}

func TestSessionExit(t *testing.T) {
	h, ctx := newHarness([]string{"okay goodbye then", "never reached"}, true)
	h.session.Run(ctx)

	if h.capture.calls != 1 {
		t.Errorf("captures = %d, want 1", h.capture.calls)
	}
	if len(h.speaker.said) != 1 || h.speaker.said[0] != "Goodbye! Have a great day!" {
		t.Errorf("said = %q, want one farewell", h.speaker.said)
	}
	if h.speaker.stops != 1 {
		t.Errorf("stops = %d, want 1", h.speaker.stops)
	}
	if len(h.resp.got) != 0 || h.cal.listed != 0 || len(h.cal.created) != 0 {
		t.Error("exit must not reach the responder or the calendar")
	}
	if h.session.State() != Exiting {
		t.Errorf("State() = %v, want exiting", h.session.State())
	}
	if len(h.notifier.events) != 1 || h.notifier.events[0].name != "transcription" {
		t.Errorf("events = %+v, want one transcription", h.notifier.events)
	}
}

func TestSessionDiscardsShortUtterance(t *testing.T) {
	h, ctx := newHarness([]string{"", "hmm", "goodbye now"}, true)
	h.session.Run(ctx)

	if len(h.notifier.events) != 1 {
		t.Fatalf("events = %+v, want only the goodbye transcription", h.notifier.events)
	}
	if got := h.notifier.events[0].fields["text"]; got != "goodbye now" {
		t.Errorf("transcription text = %v", got)
	}
	if len(h.resp.got) != 0 {
		t.Errorf("responder called with %q", h.resp.got)
	}
}

func TestSessionRouting(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		calendar  bool
		event     string
		listed    int
		created   int
		responded int
	}{
		{"general", "what are your opening hours", true, "", 0, 0, 1},
		{"query", "what do I have on my calendar", true, "list_appointments", 1, 0, 0},
		{"create", "please book an appointment", true, "appointment_created", 0, 1, 0},
		{"calendar disabled", "please book an appointment", false, "", 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ctx := newHarness([]string{tt.line}, tt.calendar)
			h.session.Run(ctx)

			if h.cal.listed != tt.listed {
				t.Errorf("listed = %d, want %d", h.cal.listed, tt.listed)
			}
			if len(h.cal.created) != tt.created {
				t.Errorf("created = %d, want %d", len(h.cal.created), tt.created)
			}
			if tt.created > 0 && h.cal.created[0] != "New appointment@tomorrow" {
				t.Errorf("created = %q", h.cal.created[0])
			}
			if len(h.resp.got) != tt.responded {
				t.Errorf("responded = %d, want %d", len(h.resp.got), tt.responded)
			}
			if h.speaker.drains != 1 {
				t.Errorf("drains = %d, want 1", h.speaker.drains)
			}

			names := make([]string, 0, len(h.notifier.events))
			for _, e := range h.notifier.events {
				names = append(names, e.name)
			}
			want := []string{"transcription"}
			if tt.event != "" {
				want = append(want, tt.event)
			}
			if len(names) != len(want) {
				t.Fatalf("events = %q, want %q", names, want)
			}
			for i := range want {
				if names[i] != want[i] {
					t.Errorf("event[%d] = %q, want %q", i, names[i], want[i])
				}
			}
			if tt.event != "" {
				if got := h.notifier.events[1].fields["user"]; got != tt.line {
					t.Errorf("user field = %v", got)
				}
				if len(h.board.kinds) != 1 || h.board.kinds[0] != "assistant" {
					t.Errorf("board = %q", h.board.kinds)
				}
				// calendar result spoken before the farewell
				if len(h.speaker.said) != 2 {
					t.Errorf("said = %q", h.speaker.said)
				}
			}
		})
	}
}

func TestSessionInterruptSaysFarewell(t *testing.T) {
	h, ctx := newHarness(nil, true)
	h.session.Run(ctx)

	if len(h.speaker.said) != 1 || h.speaker.said[0] != "Goodbye! Have a great day!" {
		t.Errorf("said = %q", h.speaker.said)
	}
	if h.speaker.stops != 1 {
		t.Errorf("stops = %d, want 1", h.speaker.stops)
	}
}

type panicResponder struct{ calls int }

func (p *panicResponder) Respond(ctx context.Context, text string) string {
	p.calls++
	panic("boom")
}

func TestSessionRecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	capture := &scriptedCapture{lines: []string{"tell me something", "and another thing"}, cancel: cancel}
	resp := &panicResponder{}
	sp := &fakeSpeaker{}

	s := NewSession(capture, resp, nil, sp, nil, nil, Options{})
	s.Run(ctx)

	if resp.calls != 2 {
		t.Errorf("responder calls = %d, want 2", resp.calls)
	}
	if sp.stops != 1 {
		t.Errorf("stops = %d, want 1", sp.stops)
	}
}

func TestSessionGreeting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sp := &fakeSpeaker{}
	s := NewSession(&scriptedCapture{cancel: cancel}, &fakeResponder{}, nil, sp, nil, nil, Options{Greeting: "Hello, this is Sarah."})
	s.Run(ctx)

	if len(sp.said) != 2 || sp.said[0] != "Hello, this is Sarah." {
		t.Errorf("said = %q", sp.said)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{Idle: "idle", Speaking: "speaking", State(42): "state(42)"} {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(st), got, want)
		}
	}
}

// stallingStream emits a first sentence fragment, then the caller hits
// Ctrl-C while the model is still generating.
type stallingStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	sent   bool
}

func (s *stallingStream) Next() (string, error) {
	if !s.sent {
		s.sent = true
		return "Let me check ", nil
	}
	s.cancel()
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s *stallingStream) Close() error { return nil }

type stallingGenerator struct {
	cancel context.CancelFunc
}

func (g *stallingGenerator) Generate(ctx context.Context, _ llm.Request) (llm.Stream, error) {
	return &stallingStream{ctx: ctx, cancel: g.cancel}, nil
}

type interruptedCalendar struct {
	cancel context.CancelFunc
}

func (c *interruptedCalendar) CreateAppointment(ctx context.Context, summary, hint string, d time.Duration) string {
	c.cancel()
	return "Error creating appointment: " + ctx.Err().Error()
}

func (c *interruptedCalendar) ListUpcomingAppointments(ctx context.Context, max int) string {
	c.cancel()
	return "Error fetching appointments: " + ctx.Err().Error()
}

func TestSessionInterruptMidTurn(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"during generation", "what are your opening hours"},
		{"during calendar query", "what is on my calendar"},
		{"during calendar create", "please book an appointment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sp := &fakeSpeaker{}
			board := &fakeBoard{}
			notifier := &fakeNotifier{}
			resp := conversation.NewResponder(&stallingGenerator{cancel: cancel}, sp, board, nil, conversation.Options{
				Name:         "Sarah",
				SystemPrompt: "You are Sarah.",
			})
			capture := &scriptedCapture{lines: []string{tt.line}, cancel: cancel}

			s := NewSession(capture, resp, &interruptedCalendar{cancel: cancel}, sp, notifier, board, Options{
				Farewell: "Goodbye! Have a great day!",
			})
			s.Run(ctx)

			if len(sp.said) != 1 || sp.said[0] != "Goodbye! Have a great day!" {
				t.Errorf("said = %q, want only the farewell", sp.said)
			}
			if sp.stops != 1 {
				t.Errorf("stops = %d, want 1", sp.stops)
			}
			if len(board.texts) != 0 {
				t.Errorf("board = %q, want nothing", board.texts)
			}
			if len(notifier.events) != 1 || notifier.events[0].name != "transcription" {
				t.Errorf("events = %+v, want only the transcription", notifier.events)
			}
		})
	}
}
