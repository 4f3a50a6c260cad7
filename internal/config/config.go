// Package config loads the call engine settings from the environment, an
// optional .env file and an optional YAML tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/keshucs12345/voicecall/internal/audio"
	"github.com/keshucs12345/voicecall/internal/session"
	"github.com/keshucs12345/voicecall/internal/stt"
	"github.com/keshucs12345/voicecall/internal/tts"
	"github.com/keshucs12345/voicecall/internal/tutor"
	"github.com/keshucs12345/voicecall/internal/vad"
)

const (
	VendorOpenAI   = "openai"
	VendorDeepgram = "deepgram"
	VendorLocal    = "local"

	defaultMaxListen  = 60 * time.Second
	defaultRetryDelay = time.Second
)

// Tuning holds the timing and threshold numbers. The tuning file overrides
// the environment for every field it sets.
type Tuning struct {
	VADThreshold    float64       `yaml:"vad_threshold"`
	VADSilence      time.Duration `yaml:"vad_silence"`
	VADMinSpeech    time.Duration `yaml:"vad_min_speech"`
	VADInterval     time.Duration `yaml:"vad_interval"`
	StreamDebounce  time.Duration `yaml:"stream_debounce"`
	BatchMinBytes   int           `yaml:"batch_min_bytes"`
	MaxListen       time.Duration `yaml:"max_listen"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	SpeakerOffDelay time.Duration `yaml:"speaker_off_delay"`
}

// VAD converts the VAD numbers.
func (t Tuning) VAD() vad.Config {
	return vad.Config{
		Threshold: t.VADThreshold,
		Silence:   t.VADSilence,
		MinSpeech: t.VADMinSpeech,
		Interval:  t.VADInterval,
	}
}

type Config struct {
	DeepgramAPIKey string
	OpenAIAPIKey   string

	Language         string
	SampleRate       int
	StreamingEnabled bool
	BatchVendor      string
	TTSVendor        string
	LocalVoiceCmd    string
	TranslateTarget  string
	Greeting         bool

	DatabasePath string
	HistoryLimit int
	DeviceID     string

	MetricsAddr string
	LogLevel    string
	LogPretty   bool

	TuningFile string
	Tuning     Tuning
	Tutor      tutor.Settings
}

// tuningFile is the YAML layout of CALL_TUNING_FILE.
type tuningFile struct {
	Tuning `yaml:",inline"`
	Tutor  *tutor.Settings `yaml:"tutor"`
}

// Load reads .env when present, then the environment and the tuning file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and applies CALL_TUNING_FILE when set.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	cfg := &Config{
		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY"),
		OpenAIAPIKey:     getenv("OPENAI_API_KEY"),
		Language:         p.str("CALL_LANGUAGE", "en-US"),
		SampleRate:       p.intVal("CALL_SAMPLE_RATE", audio.DefaultSampleRate),
		StreamingEnabled: p.boolVal("STREAMING_ENABLED", true),
		BatchVendor:      strings.ToLower(p.str("BATCH_STT_VENDOR", VendorOpenAI)),
		TTSVendor:        strings.ToLower(p.str("TTS_VENDOR", VendorOpenAI)),
		LocalVoiceCmd:    p.str("LOCAL_VOICE_CMD", "espeak-ng"),
		TranslateTarget:  p.optional("TRANSLATE_TARGET", "ko"),
		Greeting:         p.boolVal("CALL_GREETING", false),
		DatabasePath:     p.str("DATABASE_PATH", "data/calls.db"),
		HistoryLimit:     p.intVal("HISTORY_LIMIT", session.DefaultHistoryLimit),
		DeviceID:         p.str("DEVICE_ID", hostname()),
		MetricsAddr:      getenv("METRICS_ADDR"),
		LogLevel:         p.str("LOG_LEVEL", "info"),
		LogPretty:        p.boolVal("LOG_PRETTY", true),
		TuningFile:       getenv("CALL_TUNING_FILE"),
		Tuning: Tuning{
			VADThreshold:    p.floatVal("VAD_THRESHOLD", vad.DefaultThreshold),
			VADSilence:      p.duration("VAD_SILENCE", vad.DefaultSilence),
			VADMinSpeech:    p.duration("VAD_MIN_SPEECH", vad.DefaultMinSpeech),
			VADInterval:     p.duration("VAD_INTERVAL", vad.DefaultInterval),
			StreamDebounce:  p.duration("STREAM_DEBOUNCE", stt.DefaultDebounce),
			BatchMinBytes:   p.intVal("BATCH_MIN_BYTES", stt.DefaultMinClipBytes),
			MaxListen:       p.duration("MAX_LISTEN", defaultMaxListen),
			RetryDelay:      p.duration("RETRY_DELAY", defaultRetryDelay),
			SpeakerOffDelay: p.duration("SPEAKER_OFF_DELAY", tts.DefaultSpeakerOffDelay),
		},
		Tutor: tutor.Settings{
			Accent: getenv("TUTOR_ACCENT"),
			Gender: getenv("TUTOR_GENDER"),
			Level:  getenv("TUTOR_LEVEL"),
			Topic:  getenv("TUTOR_TOPIC"),
			Style:  getenv("TUTOR_STYLE"),
			Speed:  getenv("TUTOR_SPEED"),
		},
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if cfg.TuningFile != "" {
		if err := cfg.applyTuningFile(cfg.TuningFile); err != nil {
			return nil, err
		}
	}
	cfg.Tutor = cfg.Tutor.Normalize()
	return cfg, nil
}

func (c *Config) applyTuningFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tuning file: %w", err)
	}
	f := tuningFile{Tuning: c.Tuning}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	c.Tuning = f.Tuning
	if f.Tutor != nil {
		c.Tutor = *f.Tutor
	}
	return nil
}

// Validate checks the keys required by the selected vendors and that every
// number is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required for AI replies"))
	}
	if c.StreamingEnabled && c.DeepgramAPIKey == "" {
		errs = append(errs, errors.New("DEEPGRAM_API_KEY is required when STREAMING_ENABLED is true"))
	}
	switch c.BatchVendor {
	case VendorOpenAI:
	case VendorDeepgram:
		if c.DeepgramAPIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required for BATCH_STT_VENDOR=deepgram"))
		}
	default:
		errs = append(errs, fmt.Errorf("BATCH_STT_VENDOR %q is not one of openai, deepgram", c.BatchVendor))
	}
	switch c.TTSVendor {
	case VendorOpenAI, VendorLocal:
	case VendorDeepgram:
		if c.DeepgramAPIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required for TTS_VENDOR=deepgram"))
		}
	default:
		errs = append(errs, fmt.Errorf("TTS_VENDOR %q is not one of openai, deepgram, local", c.TTSVendor))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("CALL_SAMPLE_RATE must be positive, got %d", c.SampleRate))
	}
	t := c.Tuning
	if t.VADThreshold < 0 || t.VADThreshold > 255 {
		errs = append(errs, fmt.Errorf("vad threshold %v outside 0..255", t.VADThreshold))
	}
	for name, d := range map[string]time.Duration{
		"vad silence":    t.VADSilence,
		"vad min speech": t.VADMinSpeech,
		"vad interval":   t.VADInterval,
		"max listen":     t.MaxListen,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	return errors.Join(errs...)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

// optional returns def when key is unset and "" when it is set to "off" or
// "none".
func (p *parser) optional(key, def string) string {
	v := strings.TrimSpace(p.getenv(key))
	switch strings.ToLower(v) {
	case "":
		return def
	case "off", "none":
		return ""
	}
	return v
}

func (p *parser) intVal(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) floatVal(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (p *parser) boolVal(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "local"
}
