package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// Message is what a viewer receives: a history backfill or a live entry.
type Message struct {
	Event string  `json:"event"`
	Type  string  `json:"type,omitempty"`
	Text  string  `json:"text,omitempty"`
	Data  []Entry `json:"data,omitempty"`
}

// Tail is a websocket viewer of a running dashboard.
type Tail struct {
	conn *websocket.Conn
}

// Dial connects to the dashboard at base, e.g. "http://localhost:5000".
func Dial(ctx context.Context, base string) (*Tail, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &Tail{conn: conn}, nil
}

func (t *Tail) Read() (*Message, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *Tail) Close() error {
	return t.conn.Close()
}
