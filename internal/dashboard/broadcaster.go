// Package dashboard mirrors the conversation to browsers over a websocket.
package dashboard

import (
	"encoding/json"
	log "log/slog"
	"sync"
	"time"
)

const viewerBuffer = 64

type Entry struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type historyMessage struct {
	Event string  `json:"event"`
	Data  []Entry `json:"data"`
}

type transcriptMessage struct {
	Event string `json:"event"`
	Type  string `json:"type"`
	Text  string `json:"text"`
}

type viewer struct {
	send chan []byte
}

// Broadcaster keeps the full dashboard history and fans new entries out to
// connected viewers. A viewer that cannot keep up is disconnected.
type Broadcaster struct {
	mu      sync.Mutex
	history []Entry
	viewers map[*viewer]struct{}
	now     func() time.Time
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		viewers: make(map[*viewer]struct{}),
		now:     time.Now,
	}
}

// Record appends an entry and pushes it to every viewer.
func (b *Broadcaster) Record(kind, text string) {
	msg, err := json.Marshal(transcriptMessage{Event: "transcript", Type: kind, Text: text})
	if err != nil {
		log.Error("Dashboard encode", "err", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, Entry{Type: kind, Text: text, Timestamp: b.now()})

	for v := range b.viewers {
		select {
		case v.send <- msg:
		default:
			close(v.send)
			delete(b.viewers, v)
			log.Warn("Dropped slow dashboard viewer")
		}
	}
}

// History returns a copy of every recorded entry.
func (b *Broadcaster) History() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry{}, b.history...)
}

// subscribe registers a viewer and returns the encoded backfill. Both happen
// under one lock so no entry is missed or delivered twice.
func (b *Broadcaster) subscribe() (*viewer, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	backfill, err := json.Marshal(historyMessage{Event: "history", Data: append([]Entry{}, b.history...)})
	if err != nil {
		return nil, nil, err
	}

	v := &viewer{send: make(chan []byte, viewerBuffer)}
	b.viewers[v] = struct{}{}
	return v, backfill, nil
}

func (b *Broadcaster) unsubscribe(v *viewer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.viewers[v]; ok {
		delete(b.viewers, v)
		close(v.send)
	}
}

func (b *Broadcaster) ViewerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers)
}
