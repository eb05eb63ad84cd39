package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Google stores appointments in a Google Calendar. The API client is built on
// first use so the OAuth consent flow only runs when a calendar intent is hit.
type Google struct {
	auth       *Authorizer
	calendarID string

	mu  sync.Mutex
	svc *gcal.Service
}

func NewGoogle(auth *Authorizer, calendarID string) *Google {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Google{auth: auth, calendarID: calendarID}
}

func newGoogleWithService(svc *gcal.Service, calendarID string) *Google {
	return &Google{svc: svc, calendarID: calendarID}
}

func (g *Google) service(ctx context.Context) (*gcal.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.svc != nil {
		return g.svc, nil
	}

	client, err := g.auth.Client(ctx)
	if err != nil {
		return nil, err
	}

	svc, err := gcal.NewService(context.Background(), option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	g.svc = svc
	return svc, nil
}

func (g *Google) Insert(ctx context.Context, ev Event) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}

	_, err = svc.Events.Insert(g.calendarID, &gcal.Event{
		Summary: ev.Summary,
		Start:   &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:     &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (g *Google) Upcoming(ctx context.Context, from time.Time, max int) ([]Event, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}

	res, err := svc.Events.List(g.calendarID).
		TimeMin(from.UTC().Format(time.RFC3339)).
		MaxResults(int64(max)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		start, err := eventTime(item.Start)
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", item.Summary, err)
		}
		end, _ := eventTime(item.End)
		events = append(events, Event{
			Summary: item.Summary,
			Start:   start,
			End:     end,
		})
	}
	return events, nil
}

// eventTime handles both timed and all-day events.
func eventTime(dt *gcal.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, fmt.Errorf("missing time")
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	return time.ParseInLocation("2006-01-02", dt.Date, time.Local)
}
