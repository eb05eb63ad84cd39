package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func TestGoogleStore(t *testing.T) {
	var inserted gcal.Event
	var query map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		switch r.Method {
		case http.MethodPost:
			json.NewDecoder(r.Body).Decode(&inserted)
			json.NewEncoder(w).Encode(inserted)
		case http.MethodGet:
			query = map[string]string{}
			for k := range r.URL.Query() {
				query[k] = r.URL.Query().Get(k)
			}
			json.NewEncoder(w).Encode(gcal.Events{Items: []*gcal.Event{
				{Summary: "Standup", Start: &gcal.EventDateTime{DateTime: "2026-01-02T09:00:00Z"}, End: &gcal.EventDateTime{DateTime: "2026-01-02T09:15:00Z"}},
				{Summary: "Holiday", Start: &gcal.EventDateTime{Date: "2026-01-03"}, End: &gcal.EventDateTime{Date: "2026-01-04"}},
			}})
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	store := newGoogleWithService(svc, "primary")

	start := time.Date(2026, time.January, 2, 10, 0, 0, 0, time.UTC)
	err = store.Insert(ctx, Event{Summary: "Meeting", Start: start, End: start.Add(30 * time.Minute), TimeZone: "UTC"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if inserted.Summary != "Meeting" || inserted.Start.DateTime != "2026-01-02T10:00:00Z" || inserted.End.DateTime != "2026-01-02T10:30:00Z" || inserted.Start.TimeZone != "UTC" {
		t.Errorf("inserted = %+v start=%+v", inserted, inserted.Start)
	}

	events, err := store.Upcoming(ctx, start, 5)
	if err != nil {
		t.Fatalf("Upcoming() error = %v", err)
	}
	if len(events) != 2 || events[0].Summary != "Standup" || events[1].Start.Day() != 3 {
		t.Errorf("events = %+v", events)
	}
	if query["singleEvents"] != "true" || query["orderBy"] != "startTime" || query["maxResults"] != "5" || query["timeMin"] != "2026-01-02T10:00:00Z" {
		t.Errorf("query = %v", query)
	}
}
