package tts

import (
	"bytes"
	"context"
	"fmt"
	log "log/slog"
	"maps"
	"net"
	"strings"
	"time"

	"receptionist/internal/config"
	"receptionist/pkg/audioconv"
)

var defaultVoices = map[string]string{
	"en": "en_US-lessac-medium",
	"fr": "fr_FR-siwis-medium",
	"es": "es_ES-mls_10246-low",
	"de": "de_DE-thorsten-medium",
	"it": "it_IT-riccardo-x_low",
	"ru": "ru_RU-ruslan-medium",
}

// Piper synthesizes through a Piper server speaking the Wyoming protocol.
type Piper struct {
	endpoint string
	voices   map[string]string
}

func NewPiper(cfg config.PiperConfig) *Piper {
	voices := maps.Clone(defaultVoices)
	maps.Copy(voices, cfg.Voices)

	return &Piper{
		endpoint: strings.TrimPrefix(cfg.Endpoint, "tcp://"),
		voices:   voices,
	}
}

func (p *Piper) Format() string { return "wav" }

func (p *Piper) SynthesizeFile(ctx context.Context, text, lang, path string) error {
	voice := p.voices[lang]
	if voice == "" {
		voice = p.voices["en"]
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", p.endpoint)
	if err != nil {
		return fmt.Errorf("connecting to piper: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	_ = conn.SetDeadline(deadline)

	err = writeEvent(conn, wyomingEvent{
		Type: "synthesize",
		Data: map[string]any{
			"text":  text,
			"voice": map[string]any{"name": voice},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("sending synthesize event: %w", err)
	}

	var (
		pcm      bytes.Buffer
		rate     = 22050
		channels = 1
		width    = 2
	)

	for {
		evt, payload, err := readEvent(conn)
		if err != nil {
			return fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			if v, ok := evt.Data["rate"].(float64); ok {
				rate = int(v)
			}
			if v, ok := evt.Data["channels"].(float64); ok {
				channels = int(v)
			}
			if v, ok := evt.Data["width"].(float64); ok {
				width = int(v)
			}
			if width != 2 {
				return fmt.Errorf("unsupported sample width %d", width)
			}

		case "audio-chunk":
			pcm.Write(payload)

		case "audio-stop":
			log.Debug("Piper done", "voice", voice, "pcm_bytes", pcm.Len())
			return audioconv.WritePCM16(path, pcm.Bytes(), rate, channels)

		case "error":
			msg, _ := evt.Data["text"].(string)
			if msg == "" {
				msg = "unknown error"
			}
			return fmt.Errorf("piper error: %s", msg)
		}
	}
}
