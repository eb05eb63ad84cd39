package audio

import (
	"context"
	"sync"
	"testing"
)

const sinkInputsOutput = `Sink Input #41
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #42
	Volume: front-left: 52429 /  80% / -5.81 dB
	Properties:
		application.name = "receptionist"
Sink Input #43
	Volume: front-left: 39322 /  60% / -13.31 dB
	Properties:
		application.name = "Spotify"
`

type fakePactl struct {
	mu     sync.Mutex
	out    string
	volume map[int]int
}

func (f *fakePactl) List(context.Context) (string, error) { return f.out, nil }

func (f *fakePactl) SetVolume(_ context.Context, id, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume[id] = percent
	return nil
}

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(sinkInputsOutput)
	want := []sinkInput{
		{ID: 41, Volume: 100, AppName: "Firefox"},
		{ID: 42, Volume: 80, AppName: "receptionist"},
		{ID: 43, Volume: 60, AppName: "Spotify"},
	}
	if len(got) != len(want) {
		t.Fatalf("parsed %d inputs, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("input %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDuckerDuckAndRestore(t *testing.T) {
	ctl := &fakePactl{out: sinkInputsOutput, volume: map[int]int{}}
	d := NewDucker([]string{"receptionist"}, 0.5)
	d.ctl = ctl
	d.fade = 0

	if err := d.Duck(context.Background()); err != nil {
		t.Fatalf("Duck() error = %v", err)
	}
	if ctl.volume[41] != 50 || ctl.volume[43] != 30 {
		t.Errorf("ducked volumes = %v, want 41:50 43:30", ctl.volume)
	}
	if _, touched := ctl.volume[42]; touched {
		t.Error("own stream must not be ducked")
	}

	if err := d.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if ctl.volume[41] != 100 || ctl.volume[43] != 60 {
		t.Errorf("restored volumes = %v, want 41:100 43:60", ctl.volume)
	}
}
