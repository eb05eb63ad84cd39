// Package calendar books and lists appointments. Gateway methods always
// return a sentence that can be spoken to the caller, failures included.
package calendar

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"time"
)

const (
	NoAppointments = "You have no upcoming appointments."

	whenLayout = "January 02 at 03:04 PM"
)

type Event struct {
	Summary  string
	Start    time.Time
	End      time.Time
	TimeZone string
}

// Store is the calendar backend.
type Store interface {
	Insert(ctx context.Context, ev Event) error
	Upcoming(ctx context.Context, from time.Time, max int) ([]Event, error)
}

type Gateway struct {
	store    Store
	loc      *time.Location
	duration time.Duration
	max      int
	now      func() time.Time
}

type Options struct {
	Location        *time.Location
	DefaultDuration time.Duration
	MaxResults      int
}

func NewGateway(store Store, opts Options) *Gateway {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 30 * time.Minute
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	return &Gateway{
		store:    store,
		loc:      opts.Location,
		duration: opts.DefaultDuration,
		max:      opts.MaxResults,
		now:      time.Now,
	}
}

// CreateAppointment books summary at the time described by hint. A zero
// duration uses the configured default.
func (g *Gateway) CreateAppointment(ctx context.Context, summary, hint string, duration time.Duration) string {
	if duration <= 0 {
		duration = g.duration
	}

	start, err := ResolveStart(hint, g.now(), g.loc)
	if err != nil {
		log.Warn("Could not resolve appointment time", "hint", hint, "err", err)
		return "Error creating appointment: " + err.Error()
	}

	ev := Event{
		Summary:  summary,
		Start:    start,
		End:      start.Add(duration),
		TimeZone: zoneName(g.loc),
	}
	if err := g.store.Insert(ctx, ev); err != nil {
		log.Error("Calendar insert failed", "err", err)
		return "Error creating appointment: " + err.Error()
	}

	log.Info("Appointment created", "summary", summary, "start", start)
	return "Appointment created for " + start.Format(whenLayout)
}

// ListUpcomingAppointments describes the next max events. Zero uses the
// configured default.
func (g *Gateway) ListUpcomingAppointments(ctx context.Context, max int) string {
	if max <= 0 {
		max = g.max
	}

	events, err := g.store.Upcoming(ctx, g.now(), max)
	if err != nil {
		log.Error("Calendar list failed", "err", err)
		return "Error fetching appointments: " + err.Error()
	}
	if len(events) == 0 {
		return NoAppointments
	}

	parts := make([]string, 0, len(events))
	for _, ev := range events {
		parts = append(parts, fmt.Sprintf("%s: %s", ev.Start.In(g.loc).Format(whenLayout), ev.Summary))
	}
	return "Upcoming appointments: " + strings.Join(parts, ", ")
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ResolveStart turns a time hint into a start time. Any hint mentioning
// "tomorrow" means 10:00 on the next calendar day in loc. Otherwise the hint
// must be an ISO-8601 timestamp; one without an offset is taken in loc.
func ResolveStart(hint string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	hint = strings.TrimSpace(hint)
	if strings.Contains(strings.ToLower(hint), "tomorrow") {
		n := now.In(loc)
		return time.Date(n.Year(), n.Month(), n.Day()+1, 10, 0, 0, 0, loc), nil
	}

	if t, err := time.Parse(time.RFC3339, hint); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, hint, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid isoformat string: %q", hint)
}

// LoadLocation resolves a zone name. Empty means the host zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func zoneName(loc *time.Location) string {
	if loc == nil || loc == time.Local {
		return ""
	}
	return loc.String()
}
