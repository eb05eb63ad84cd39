package audio

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

// ErrNoSpeech is returned by Listen when nobody starts talking before the
// listen timeout elapses.
var ErrNoSpeech = errors.New("audio: no speech detected")

const (
	frameSize = 320 // 20ms at 16kHz

	minThreshold     = 0.01
	thresholdRatio   = 1.5
	defaultThreshold = 0.015
)

type ListenOptions struct {
	SampleRate  int
	Calibration time.Duration // ambient noise window before listening
	Timeout     time.Duration // max wait for speech onset
	PhraseLimit time.Duration // max phrase length once speech started
	Silence     time.Duration // trailing silence that ends a phrase
}

func (o ListenOptions) withDefaults() ListenOptions {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.PhraseLimit <= 0 {
		o.PhraseLimit = 15 * time.Second
	}
	if o.Silence <= 0 {
		o.Silence = 600 * time.Millisecond
	}
	return o
}

type Recorder struct {
	opts ListenOptions
}

func NewRecorder(opts ListenOptions) *Recorder {
	return &Recorder{opts: opts.withDefaults()}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

func (r *Recorder) SampleRate() int { return r.opts.SampleRate }

// Listen opens the default input device for the duration of one phrase and
// returns mono float32 samples at the configured sample rate.
func (r *Recorder) Listen(ctx context.Context) ([]float32, error) {
	buf := make([]float32, frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.opts.SampleRate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	det := newPhraseDetector(r.opts)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := stream.Read(); err != nil {
			return nil, err
		}

		switch det.feed(buf) {
		case phraseTimeout:
			return nil, ErrNoSpeech
		case phraseDone:
			return det.samples(), nil
		}
	}
}

type phraseState int

const (
	phraseCalibrating phraseState = iota
	phraseWaiting
	phraseSpeaking
	phraseDone
	phraseTimeout
)

// phraseDetector is the energy based endpointing used by Listen. It is fed
// fixed size frames and reports when a phrase is complete.
type phraseDetector struct {
	frameDur time.Duration

	calibFrames   int
	waitFrames    int
	phraseFrames  int
	silenceFrames int

	state     phraseState
	ambient   float64
	seen      int
	waited    int
	spoken    int
	quiet     int
	threshold float64

	out []float32
}

func newPhraseDetector(opts ListenOptions) *phraseDetector {
	opts = opts.withDefaults()
	frameDur := time.Duration(frameSize) * time.Second / time.Duration(opts.SampleRate)

	d := &phraseDetector{
		frameDur:      frameDur,
		calibFrames:   int(opts.Calibration / frameDur),
		waitFrames:    int(opts.Timeout / frameDur),
		phraseFrames:  int(opts.PhraseLimit / frameDur),
		silenceFrames: int(opts.Silence / frameDur),
		threshold:     defaultThreshold,
		out:           make([]float32, 0, opts.SampleRate*3),
	}
	if d.calibFrames == 0 {
		d.state = phraseWaiting
	}
	return d
}

func (d *phraseDetector) feed(frame []float32) phraseState {
	rms := frameRMS(frame)

	switch d.state {
	case phraseCalibrating:
		d.ambient += rms
		d.seen++
		if d.seen >= d.calibFrames {
			d.threshold = math.Max(minThreshold, d.ambient/float64(d.seen)*thresholdRatio)
			d.state = phraseWaiting
		}

	case phraseWaiting:
		if rms > d.threshold {
			d.state = phraseSpeaking
			d.spoken = 1
			d.out = append(d.out, frame...)
			break
		}
		d.waited++
		if d.waited >= d.waitFrames {
			d.state = phraseTimeout
		}

	case phraseSpeaking:
		d.spoken++
		d.out = append(d.out, frame...)
		if rms > d.threshold {
			d.quiet = 0
		} else {
			d.quiet++
		}
		if d.quiet >= d.silenceFrames || d.spoken >= d.phraseFrames {
			d.state = phraseDone
		}
	}

	return d.state
}

func (d *phraseDetector) samples() []float32 {
	return d.out
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
