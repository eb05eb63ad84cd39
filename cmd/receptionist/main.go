package main

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"receptionist/internal/audio"
	"receptionist/internal/calendar"
	"receptionist/internal/capture"
	"receptionist/internal/config"
	"receptionist/internal/conversation"
	"receptionist/internal/dashboard"
	"receptionist/internal/ipc"
	"receptionist/internal/llm"
	"receptionist/internal/notify"
	"receptionist/internal/proxy"
	"receptionist/internal/receptionist"
	"receptionist/internal/speech"
	"receptionist/internal/tts"
	"receptionist/pkg/stt"
)

const shutdownGrace = 30 * time.Second

func main() {
	configFile := cli.StringP("config", "c", "", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	cli.StringP("proxy", "p", "", "Socks proxy address for cloud traffic")
	cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	godotenv.Load(*envFile)

	cfg, err := config.Load(*configFile, cli.CommandLine)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.Logging)

	log.Info("Booting up", "name", cfg.Assistant.Name)

	if n, err := speech.Sweep(cfg.Audio.ArtifactDir); err != nil {
		log.Warn("Failed to sweep old speech files", "err", err)
	} else if n > 0 {
		log.Debug("Removed old speech files", "count", n)
	}

	cloudClient, err := proxy.NewHTTPClient(cfg.Proxy, 0)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.Proxy, "err", err)
		os.Exit(1)
	}

	needsKey := cfg.TTS.Backend == "openai" || cfg.LLM.Backend == "openai"
	if needsKey && cfg.OpenAI.APIKey == "" {
		log.Error("OPENAI_API_KEY not set")
		os.Exit(1)
	}

	synth, err := tts.New(cfg.TTS, cfg.OpenAI.APIKey, cloudClient)
	if err != nil {
		log.Error("Failed to init tts", "err", err)
		os.Exit(1)
	}

	var ducker *audio.Ducker
	if cfg.Audio.Duck {
		ducker = audio.NewDucker(nil, cfg.Audio.DuckFactor)
	}
	player := audio.NewPlayer(ducker)

	queue := speech.NewQueue(synth, player, cfg.Audio.ArtifactDir, cfg.Assistant.Language)
	// Playback outlives the session context so the farewell is heard.
	go queue.Run(context.Background())

	log.Debug("Loaded speech queue", "tts", cfg.TTS.Backend)

	transcriber, closeSTT, err := newTranscriber(cfg)
	if err != nil {
		log.Error("Failed to init stt", "err", err)
		os.Exit(1)
	}
	defer closeSTT()

	log.Debug("Loaded stt", "backend", cfg.STT.Backend)

	rec := audio.NewRecorder(audio.ListenOptions{
		SampleRate:  cfg.Audio.SampleRate,
		Calibration: cfg.Audio.Calibration,
		Timeout:     cfg.Audio.ListenTimeout,
		PhraseLimit: cfg.Audio.PhraseLimit,
		Silence:     cfg.Audio.Silence,
	})
	if err := rec.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer rec.Close()

	log.Debug("Loaded recorder")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	board := dashboard.NewBroadcaster()
	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(cfg.Dashboard.Addr, board)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error("Dashboard stopped", "err", err)
			}
		}()
	}

	gen, err := llm.New(cfg.LLM, cfg.OpenAI.APIKey, cloudClient)
	if err != nil {
		log.Error("Failed to init llm", "err", err)
		os.Exit(1)
	}

	responder := conversation.NewResponder(gen, queue, board, conversation.NewTranscriptLog(cfg.Transcript.Path), conversation.Options{
		Name:         cfg.Assistant.Name,
		SystemPrompt: cfg.Assistant.SystemPrompt,
		Forbidden:    cfg.LLM.Forbidden,
		MaxWords:     cfg.LLM.MaxWords,
		Sampling:     llm.OptionsFromConfig(cfg.LLM),
	})

	cal, err := newCalendar(cfg.Calendar)
	if err != nil {
		log.Error("Failed to init calendar", "err", err)
		os.Exit(1)
	}

	capturer := capture.NewAdapter(rec, transcriber, player, board, capture.Options{
		Language: cfg.Assistant.Language,
		CuePath:  cfg.Audio.CuePath,
		TempDir:  cfg.Audio.ArtifactDir,
	})

	webhook := notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout, nil)

	session := receptionist.NewSession(capturer, responder, cal, queue, webhook, board, receptionist.Options{
		Greeting:  cfg.Assistant.Greeting,
		Farewell:  cfg.Assistant.Farewell,
		MinWords:  cfg.Assistant.MinWords,
		TurnPause: cfg.Assistant.TurnPause,
	})

	go func() {
		err := ipc.Serve(ctx, cfg.Control.Socket, func(msg ipc.ControlMessage) ipc.Reply {
			switch msg.Cmd {
			case ipc.CmdStop:
				log.Info("Stop requested")
				stop()
				return ipc.Reply{OK: true, State: session.State().String()}
			case ipc.CmdPing:
				return ipc.Reply{OK: true, State: session.State().String()}
			default:
				log.Warn("Unknown command", "cmd", msg.Cmd)
				return ipc.Reply{Error: "unknown command " + msg.Cmd}
			}
		})
		if err != nil {
			log.Error("Failed ipc server", "err", err)
		}
	}()

	log.Info("Boot up - successful")

	session.Run(ctx)

	select {
	case <-queue.Done():
	case <-time.After(shutdownGrace):
		log.Warn("Speech queue did not finish in time")
	}
	webhook.Wait()

	log.Info("Bye")
}

// newTranscriber builds the speech-to-text backend. The http backend is a
// local service and gets its own timed client, never the cloud proxy.
func newTranscriber(cfg *config.Config) (capture.Transcriber, func(), error) {
	switch cfg.STT.Backend {
	case "http":
		return stt.NewHTTPTranscriber(cfg.STT.Endpoint, cfg.STT.Model, cfg.OpenAI.APIKey, nil), func() {}, nil
	default:
		w, err := stt.NewTranscriber(cfg.STT.ModelPath, stt.Options{
			Language: cfg.Assistant.Language,
			Threads:  cfg.STT.Threads,
		})
		if err != nil {
			return nil, nil, err
		}
		return w, func() { w.Close() }, nil
	}
}

func newCalendar(cfg config.CalendarConfig) (receptionist.Calendar, error) {
	if !cfg.Enabled {
		log.Info("Calendar disabled")
		return nil, nil
	}

	loc, err := calendar.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	auth, err := calendar.NewAuthorizer(cfg.CredentialsPath, cfg.TokenPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("Calendar credentials not found, calendar disabled", "path", cfg.CredentialsPath)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return calendar.NewGateway(calendar.NewGoogle(auth, cfg.CalendarID), calendar.Options{
		Location:        loc,
		DefaultDuration: time.Duration(cfg.DefaultDuration) * time.Minute,
		MaxResults:      cfg.MaxResults,
	}), nil
}
