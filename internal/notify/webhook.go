// Package notify forwards conversation events to an automation webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	log "log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Webhook posts events without making the caller wait. Delivery is best
// effort: failures are logged and dropped.
type Webhook struct {
	url     string
	timeout time.Duration
	client  *http.Client
	wg      sync.WaitGroup
}

// NewWebhook returns a notifier for url. An empty url disables it. client may
// be nil.
func NewWebhook(url string, timeout time.Duration, client *http.Client) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Webhook{url: url, timeout: timeout, client: client}
}

// Notify sends {"event": event, ...fields} in the background.
func (w *Webhook) Notify(event string, fields map[string]any) {
	if w == nil || w.url == "" {
		return
	}

	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["event"] = event

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("Webhook payload", "event", event, "err", err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("Webhook panic", "event", event, "panic", r)
			}
		}()
		w.post(event, body)
	}()
}

func (w *Webhook) post(event string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		log.Error("Webhook request", "event", event, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", uuid.NewString())

	resp, err := w.client.Do(req)
	if err != nil {
		log.Error("Webhook push failed", "event", event, "err", err)
		return
	}
	resp.Body.Close()

	log.Info("Webhook sent", "event", event, "status", resp.StatusCode)
}

// Wait blocks until in-flight posts have finished.
func (w *Webhook) Wait() {
	if w == nil {
		return
	}
	w.wg.Wait()
}
