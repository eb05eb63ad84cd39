// Package config loads the receptionist configuration from defaults, an optional
// yaml file, RECEPTIONIST_* environment variables and command line flags.
package config

import (
	"fmt"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Assistant  AssistantConfig  `mapstructure:"assistant"`
	Audio      AudioConfig      `mapstructure:"audio"`
	STT        STTConfig        `mapstructure:"stt"`
	TTS        TTSConfig        `mapstructure:"tts"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Calendar   CalendarConfig   `mapstructure:"calendar"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Control    ControlConfig    `mapstructure:"control"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`

	// Proxy is a SOCKS5 address used for outbound cloud traffic. Empty means direct.
	Proxy string `mapstructure:"proxy"`
}

type AssistantConfig struct {
	Name         string        `mapstructure:"name"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Language     string        `mapstructure:"language"`
	Greeting     string        `mapstructure:"greeting"`
	Farewell     string        `mapstructure:"farewell"`
	TurnPause    time.Duration `mapstructure:"turn_pause"`
	MinWords     int           `mapstructure:"min_words"`
}

type AudioConfig struct {
	SampleRate    int           `mapstructure:"sample_rate"`
	Calibration   time.Duration `mapstructure:"calibration"`
	ListenTimeout time.Duration `mapstructure:"listen_timeout"`
	PhraseLimit   time.Duration `mapstructure:"phrase_limit"`
	Silence       time.Duration `mapstructure:"silence"`
	CuePath       string        `mapstructure:"cue_path"`
	ArtifactDir   string        `mapstructure:"artifact_dir"`
	Duck          bool          `mapstructure:"duck"`
	DuckFactor    float64       `mapstructure:"duck_factor"`
}

type STTConfig struct {
	Backend   string `mapstructure:"backend"` // "whisper" or "http"
	ModelPath string `mapstructure:"model_path"`
	Endpoint  string `mapstructure:"endpoint"`
	Model     string `mapstructure:"model"`
	Threads   int    `mapstructure:"threads"`
}

type TTSConfig struct {
	Backend string      `mapstructure:"backend"` // "openai" or "piper"
	Model   string      `mapstructure:"model"`
	Voice   string      `mapstructure:"voice"`
	Piper   PiperConfig `mapstructure:"piper"`
}

type PiperConfig struct {
	Endpoint string            `mapstructure:"endpoint"`
	Voices   map[string]string `mapstructure:"voices"`
}

type LLMConfig struct {
	Backend       string        `mapstructure:"backend"` // "ollama" or "openai"
	Endpoint      string        `mapstructure:"endpoint"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Temperature   float64       `mapstructure:"temperature"`
	TopP          float64       `mapstructure:"top_p"`
	TopK          int           `mapstructure:"top_k"`
	RepeatPenalty float64       `mapstructure:"repeat_penalty"`
	Stop          []string      `mapstructure:"stop"`
	NumCtx        int           `mapstructure:"num_ctx"`
	NumPredict    int           `mapstructure:"num_predict"`
	MaxWords      int           `mapstructure:"max_words"`
	Forbidden     []string      `mapstructure:"forbidden"`
}

type CalendarConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsPath string `mapstructure:"credentials_path"`
	TokenPath       string `mapstructure:"token_path"`
	CalendarID      string `mapstructure:"calendar_id"`
	Timezone        string `mapstructure:"timezone"`
	MaxResults      int    `mapstructure:"max_results"`
	DefaultDuration int    `mapstructure:"default_duration"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type TranscriptConfig struct {
	Path string `mapstructure:"path"`
}

type ControlConfig struct {
	Socket string `mapstructure:"socket"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" (tint) or "json"
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("assistant.name", "Sarah")
	v.SetDefault("assistant.system_prompt", "You are Sarah, a professional receptionist with Google Calendar access. "+
		"You can check and create appointments. "+
		"When booking, ask for date, time, and purpose if not provided. "+
		"Keep responses SHORT (1-2 sentences). Stay professional and helpful.")
	v.SetDefault("assistant.language", "en")
	v.SetDefault("assistant.greeting", "")
	v.SetDefault("assistant.farewell", "Goodbye! Have a great day!")
	v.SetDefault("assistant.turn_pause", time.Second)
	v.SetDefault("assistant.min_words", 2)

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.calibration", time.Second)
	v.SetDefault("audio.listen_timeout", 10*time.Second)
	v.SetDefault("audio.phrase_limit", 15*time.Second)
	v.SetDefault("audio.silence", 600*time.Millisecond)
	v.SetDefault("audio.cue_path", "")
	v.SetDefault("audio.artifact_dir", os.TempDir())
	v.SetDefault("audio.duck", false)
	v.SetDefault("audio.duck_factor", 0.3)

	v.SetDefault("stt.backend", "whisper")
	v.SetDefault("stt.model_path", "third_party/whisper.cpp/models/ggml-tiny.bin")
	v.SetDefault("stt.endpoint", "http://localhost:8000/v1/audio/transcriptions")
	v.SetDefault("stt.model", "whisper-1")
	v.SetDefault("stt.threads", 0)

	v.SetDefault("tts.backend", "openai")
	v.SetDefault("tts.model", "gpt-4o-mini-tts")
	v.SetDefault("tts.voice", "alloy")
	v.SetDefault("tts.piper.endpoint", "localhost:10200")

	v.SetDefault("llm.backend", "ollama")
	v.SetDefault("llm.endpoint", "http://localhost:11434/api/generate")
	v.SetDefault("llm.model", "phi3")
	v.SetDefault("llm.timeout", 10*time.Second)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.top_p", 0.7)
	v.SetDefault("llm.top_k", 20)
	v.SetDefault("llm.repeat_penalty", 1.2)
	v.SetDefault("llm.stop", []string{"\n\n", "User:", "Instruction", "Question", "Example"})
	v.SetDefault("llm.num_ctx", 512)
	v.SetDefault("llm.num_predict", 100)
	v.SetDefault("llm.max_words", 50)
	v.SetDefault("llm.forbidden", []string{
		"victorian", "elizabeth", "librarian", "patron", "thee", "thy",
		"dost", "hath", "instruction", "follow up", "user:", "example:",
		"solution:", "question:", "textbook",
	})

	v.SetDefault("calendar.enabled", true)
	v.SetDefault("calendar.credentials_path", "credentials.json")
	v.SetDefault("calendar.token_path", "token.json")
	v.SetDefault("calendar.calendar_id", "primary")
	v.SetDefault("calendar.timezone", "")
	v.SetDefault("calendar.max_results", 5)
	v.SetDefault("calendar.default_duration", 30)

	v.SetDefault("webhook.url", "http://localhost:5678/webhook/from-agent")
	v.SetDefault("webhook.timeout", 5*time.Second)

	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.addr", ":5000")

	v.SetDefault("transcript.path", "response_output.txt")
	v.SetDefault("control.socket", "/tmp/receptionist.sock")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("openai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("proxy", "")
}

// Load reads the configuration. When configFile is empty the standard search
// order applies: ./receptionist.yaml, ./configs/receptionist.yaml,
// /etc/receptionist/receptionist.yaml. Flags, when non-nil, override file and
// environment values for the keys they are bound to.
func Load(configFile string, flags *cli.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("receptionist")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/receptionist")
	}

	v.SetEnvPrefix("RECEPTIONIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bind := map[string]string{
			"logging.level": "log",
			"proxy":         "proxy",
		}
		for key, name := range bind {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		log.Debug("No config file found, using defaults and environment")
	} else {
		log.Debug("Loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.OpenAI.APIKey = resolveEnvRef(cfg.OpenAI.APIKey)
	cfg.Webhook.URL = resolveEnvRef(cfg.Webhook.URL)

	return &cfg, nil
}

// resolveEnvRef replaces a whole-value "${NAME}" with the environment value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// SetupLogging installs the default slog logger.
func SetupLogging(cfg LoggingConfig) {
	level, ok := logLevelMap[strings.ToLower(cfg.Level)]
	if !ok {
		level = log.LevelInfo
	}

	var handler log.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = log.NewJSONHandler(os.Stdout, &log.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}

	log.SetDefault(log.New(handler))
}
