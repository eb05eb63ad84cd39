// Package speech serializes everything the receptionist says through a single
// synthesize-then-play worker.
package speech

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrStopped = errors.New("speech: queue stopped")

const artifactPrefix = "speech_"

// Synthesizer renders text to an audio file at path.
type Synthesizer interface {
	SynthesizeFile(ctx context.Context, text, lang, path string) error
	// Format is the file extension of produced artifacts, without the dot.
	Format() string
}

type Player interface {
	Play(ctx context.Context, path string) error
}

type request struct {
	text string
	stop bool
}

// Queue is an unbounded FIFO of playback requests consumed by Run.
type Queue struct {
	synth  Synthesizer
	player Player
	dir    string
	lang   string

	mu      sync.Mutex
	cond    *sync.Cond
	items   []request
	pending int
	stopped bool
	idle    chan struct{}
	done    chan struct{}
}

func NewQueue(synth Synthesizer, player Player, dir, lang string) *Queue {
	if dir == "" {
		dir = os.TempDir()
	}
	q := &Queue{
		synth:  synth,
		player: player,
		dir:    dir,
		lang:   lang,
		idle:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	close(q.idle)
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue schedules text for playback and returns immediately. Blank text is
// ignored. Text enqueued after Stop is rejected with ErrStopped.
func (q *Queue) Enqueue(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return q.push(request{text: text})
}

// Stop enqueues the stop marker. The worker exits once it reaches it, after
// everything enqueued before.
func (q *Queue) Stop() {
	if err := q.push(request{stop: true}); err != nil {
		log.Debug("Playback queue already stopped")
	}
}

func (q *Queue) push(r request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		log.Warn("Dropping speech after stop", "text", r.text)
		return ErrStopped
	}
	if r.stop {
		q.stopped = true
	}

	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.items = append(q.items, r)
	q.cond.Signal()
	return nil
}

// Drain blocks until every request enqueued so far has been processed.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the worker has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Run consumes requests until the stop marker is dequeued or ctx is done.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)

	stopWake := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stopWake()

	for {
		r, ok := q.next(ctx)
		if !ok {
			return
		}

		if !r.stop {
			q.speak(ctx, r.text)
		}
		q.finish()

		if r.stop {
			log.Debug("Playback worker stopped")
			return
		}
	}
}

func (q *Queue) next(ctx context.Context) (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if ctx.Err() != nil {
			return request{}, false
		}
		q.cond.Wait()
	}

	r := q.items[0]
	q.items[0] = request{}
	q.items = q.items[1:]
	return r, true
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

func (q *Queue) speak(ctx context.Context, text string) {
	path := filepath.Join(q.dir, fmt.Sprintf("%s%s.%s", artifactPrefix, uuid.NewString(), q.synth.Format()))
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove speech artifact", "path", path, "err", err)
		}
	}()

	log.Debug("Speaking", "text", text)

	if err := q.synth.SynthesizeFile(ctx, text, q.lang, path); err != nil {
		log.Error("Speech synthesis failed", "err", err)
		return
	}
	if err := q.player.Play(ctx, path); err != nil {
		log.Error("Playback failed", "err", err)
	}
}

// Sweep removes speech artifacts left behind in dir by an earlier run.
func Sweep(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, artifactPrefix+"*"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			log.Warn("Could not remove stale artifact", "path", m, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
