package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const playbackRate = beep.SampleRate(44100)

// Player plays mp3 and wav files through the default output device.
type Player struct {
	mu      sync.Mutex
	once    sync.Once
	initErr error
	ducker  *Ducker
}

func NewPlayer(ducker *Ducker) *Player {
	return &Player{ducker: ducker}
}

func (p *Player) init() error {
	p.once.Do(func() {
		p.initErr = speaker.Init(playbackRate, playbackRate.N(time.Second/10))
	})
	return p.initErr
}

// Play blocks until the file has been played to completion or ctx is done.
func (p *Player) Play(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.init(); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}

	streamer, format, err := decode(f, path)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != playbackRate {
		s = beep.Resample(4, format.SampleRate, playbackRate, streamer)
	}

	if p.ducker != nil {
		if err := p.ducker.Duck(ctx); err != nil {
			log.Debug("Duck failed", "err", err)
		}
		defer func() {
			if err := p.ducker.Restore(context.Background()); err != nil {
				log.Debug("Restore failed", "err", err)
			}
		}()
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// PlayCue plays the listening earcon. An empty path is a no-op.
func (p *Player) PlayCue(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := p.Play(ctx, path); err != nil {
		log.Debug("Cue playback failed", "path", path, "err", err)
	}
}

func decode(f *os.File, path string) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return wav.Decode(f)
	case ".mp3":
		return mp3.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported playback format %q", filepath.Ext(path))
	}
}
