package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

const maxVolume = 150

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// pactl abstracts the PulseAudio command line so the ducker can be tested
// without a sound server.
type pactl interface {
	List(ctx context.Context) (string, error)
	SetVolume(ctx context.Context, id, percent int) error
}

type execPactl struct{}

func (execPactl) List(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return "", fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return string(out), nil
}

func (execPactl) SetVolume(ctx context.Context, id, percent int) error {
	arg := fmt.Sprintf("%d%%", clampVolume(percent))
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), arg).Run()
}

// Ducker lowers the volume of every other sink input while the receptionist
// speaks and restores it afterwards. Streams whose application.name is in
// selfNames are left alone.
type Ducker struct {
	mu        sync.Mutex
	ctl       pactl
	active    bool
	selfNames []string
	original  map[int]int
	minVolume int
	factor    float64
	fade      time.Duration
}

func NewDucker(selfNames []string, factor float64) *Ducker {
	if factor <= 0 || factor > 1 {
		factor = 0.3
	}
	return &Ducker{
		ctl:       execPactl{},
		selfNames: append([]string(nil), selfNames...),
		original:  make(map[int]int),
		minVolume: 5,
		factor:    factor,
		fade:      150 * time.Millisecond,
	}
}

// Duck fades other streams to factor of their current volume.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.others(ctx)
	if err != nil {
		return err
	}

	d.original = make(map[int]int, len(streams))
	targets := make([]fadeTarget, 0, len(streams))

	for _, s := range streams {
		to := math.Max(float64(s.Volume)*d.factor, float64(d.minVolume))
		d.original[s.ID] = s.Volume
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: clampVolume(int(math.Round(to)))})
	}

	if err := d.fadeAll(ctx, targets); err != nil {
		return err
	}
	d.active = true
	return nil
}

// Restore fades ducked streams back to the volume they had before Duck.
// Streams that appeared after Duck are ignored.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := d.others(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, s := range streams {
		orig, ok := d.original[s.ID]
		if !ok {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	if err := d.fadeAll(ctx, targets); err != nil {
		return err
	}

	d.original = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) others(ctx context.Context) ([]sinkInput, error) {
	out, err := d.ctl.List(ctx)
	if err != nil {
		return nil, err
	}

	var res []sinkInput
	for _, s := range parseSinkInputs(out) {
		if d.isSelf(s) {
			continue
		}
		res = append(res, s)
	}
	return res, nil
}

func (d *Ducker) isSelf(s sinkInput) bool {
	for _, name := range d.selfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

func (d *Ducker) fadeAll(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond

	steps := max(int(d.fade/minStep), 1)
	stepDur := d.fade / time.Duration(steps)

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.ctl.SetVolume(ctx, t.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}

		if i < steps && stepDur > 0 {
			time.Sleep(stepDur)
		}
	}
	return nil
}

// parseSinkInputs extracts id, first channel volume and application name
// from `pactl list sink-inputs` output.
func parseSinkInputs(text string) []sinkInput {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []sinkInput
	for _, block := range parts[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		s := sinkInput{ID: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			if name, ok := strings.CutPrefix(line, "application.name = "); ok && s.AppName == "" {
				s.AppName = strings.Trim(name, `"`)
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}

func clampVolume(v int) int {
	return min(max(v, 0), maxVolume)
}
