//go:build !android
// +build !android

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/keshucs12345/voicecall/internal/ai"
	"github.com/keshucs12345/voicecall/internal/audio"
	"github.com/keshucs12345/voicecall/internal/audio/portaudio"
	"github.com/keshucs12345/voicecall/internal/call"
	"github.com/keshucs12345/voicecall/internal/config"
	"github.com/keshucs12345/voicecall/internal/logging"
	"github.com/keshucs12345/voicecall/internal/metrics"
	"github.com/keshucs12345/voicecall/internal/session"
	"github.com/keshucs12345/voicecall/internal/store"
	"github.com/keshucs12345/voicecall/internal/stt"
	"github.com/keshucs12345/voicecall/internal/stt/deepgram"
	"github.com/keshucs12345/voicecall/internal/stt/whisper"
	"github.com/keshucs12345/voicecall/internal/tts"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 2
	}

	// Initialize PortAudio (audio I/O)
	if err := portaudio.Init(log); err != nil {
		log.Error().Err(err).Msg("failed to init audio")
		return 1
	}
	defer portaudio.Shutdown(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("voicecall")
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	oa := openai.NewClient(cfg.OpenAIAPIKey)
	dg := deepgram.New(deepgram.Options{APIKey: cfg.DeepgramAPIKey}, log)

	params := audio.DefaultParams()
	params.SampleRate = cfg.SampleRate
	mic := portaudio.NewMicrophone(log)

	strategy := newStrategy(cfg, params, mic, oa, dg, m, log)
	synth := newSynthesizer(cfg, oa, m, log)

	var (
		sessStore session.Store
		history   session.History
		db        *store.Store
	)
	if db, err = store.Open(cfg.DatabasePath); err != nil {
		// persistence is best effort
		log.Warn().Err(err).Str("path", cfg.DatabasePath).Msg("session store unavailable")
	} else {
		defer db.Close()
		sessStore, history = db, db
	}
	recorder := session.NewRecorder(cfg.DeviceID, cfg.Tutor, sessStore, history, session.Options{HistoryLimit: cfg.HistoryLimit}, log)

	var translator call.Translator
	if cfg.TranslateTarget != "" {
		translator = ai.NewTranslator(oa, "", cfg.TranslateTarget)
	}

	ctrl := call.New(call.Deps{
		Strategy:   strategy,
		Responder:  ai.NewResponder(oa, "", log),
		Speaker:    synth,
		Translator: translator,
		Recorder:   recorder,
		Haptics:    call.LogHaptics{Log: log},
		Metrics:    m,
	}, call.Options{
		MaxListen:  cfg.Tuning.MaxListen,
		RetryDelay: cfg.Tuning.RetryDelay,
		Greeting:   cfg.Greeting,
		OnState: func(from, to call.State) {
			fmt.Printf("[%s]\n", strings.ToUpper(to.String()))
		},
		OnCaption: printCaption,
		OnManual: func() {
			fmt.Println("Continuous listening is unavailable. Press r then Enter when you finish speaking.")
		},
	}, log)

	if err := ctrl.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start call")
		return 1
	}
	fmt.Printf("Calling %s. Speak now... (m mute, s speaker, r stop recording, q hang up)\n", cfg.Tutor.Name())
	go readControls(ctrl, synth)

	err = ctrl.Wait()
	final := ctrl.Session()
	fmt.Printf("Call ended after %s: %d turns, %d words.\n", final.Duration().Round(time.Second), final.TurnCount, final.WordCount)
	if db != nil {
		printHistory(db, log)
	}
	if errors.Is(err, call.ErrNoAudioPath) {
		fmt.Fprintln(os.Stderr, "No microphone is available. Check the input device and its permissions.")
		return 1
	}
	return 0
}

func newStrategy(cfg *config.Config, params audio.Params, mic audio.Microphone, oa *openai.Client, dg *deepgram.Client, m *metrics.Metrics, log zerolog.Logger) stt.Strategy {
	var transcriber stt.Transcriber = whisper.New(oa, "", log)
	if cfg.BatchVendor == config.VendorDeepgram {
		transcriber = dg
	}
	batch := stt.NewBatch(mic, transcriber, stt.BatchConfig{
		Params:       params,
		Language:     cfg.Language,
		MinClipBytes: cfg.Tuning.BatchMinBytes,
		VAD:          cfg.Tuning.VAD(),
	}, log)

	var primary stt.Strategy
	if cfg.StreamingEnabled {
		primary = stt.NewStreaming(mic, dg, stt.StreamingConfig{
			Params:   params,
			Language: cfg.Language,
			Debounce: cfg.Tuning.StreamDebounce,
			VAD:      cfg.Tuning.VAD(),
		}, log)
	}
	sup := stt.NewSupervisor(primary, batch, log)
	sup.OnDemote = func(error) {
		m.RecordFailover()
		fmt.Println("Live transcription lost, switching to recorded clips.")
	}
	return sup
}

func newSynthesizer(cfg *config.Config, oa *openai.Client, m *metrics.Metrics, log zerolog.Logger) *tts.Synthesizer {
	var provider tts.Provider
	switch cfg.TTSVendor {
	case config.VendorOpenAI:
		provider = tts.NewOpenAI(oa, "")
	case config.VendorDeepgram:
		provider = tts.NewDeepgram(cfg.DeepgramAPIKey, "")
	}

	var local tts.LocalVoice
	if path, err := exec.LookPath(cfg.LocalVoiceCmd); err == nil {
		local = tts.Command{Path: path}
	} else {
		log.Warn().Str("command", cfg.LocalVoiceCmd).Msg("local voice not found, replies may be silent on synthesis failure")
	}

	synth := tts.New(provider, local, &portaudio.Player{}, tts.Config{
		Voice:           tts.VoiceFor(cfg.TTSVendor, cfg.Tutor),
		LocalVoice:      tts.VoiceFor(tts.VendorLocal, cfg.Tutor),
		SpeakerOffDelay: cfg.Tuning.SpeakerOffDelay,
	}, log)
	synth.OnFallback = func(error) { m.RecordFallback() }
	return synth
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// readControls maps keyboard lines to call controls until the call ends.
func readControls(ctrl *call.Controller, synth *tts.Synthesizer) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "m":
			muted := !ctrl.Muted()
			ctrl.SetMuted(muted)
			fmt.Printf("Microphone %s\n", onOff(!muted))
		case "s":
			on := !synth.SpeakerEnabled()
			ctrl.SetSpeakerEnabled(on)
			fmt.Printf("Speaker %s\n", onOff(on))
		case "r":
			ctrl.StopRecording()
		case "q":
			ctrl.Hangup()
			return
		}
	}
}

func printCaption(c call.Caption) {
	switch c.Kind {
	case call.CaptionPartial:
		fmt.Printf("  ... %s\n", c.Text)
	case call.CaptionUser:
		fmt.Printf("You: %s\n", c.Text)
	case call.CaptionAssistant:
		fmt.Printf("Tutor: %s\n", c.Text)
	case call.CaptionTranslation:
		fmt.Printf("       (%s)\n", c.Text)
	}
}

func printHistory(db *store.Store, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := db.Recent(ctx, 5)
	if err != nil {
		log.Warn().Err(err).Msg("read call history")
		return
	}
	fmt.Println("Recent calls:")
	for _, e := range entries {
		fmt.Printf("  %s  %3ds  %3d turns  %4d words  with %s\n",
			e.Timestamp.Format("2006-01-02 15:04"), e.DurationSeconds, e.TurnCount, e.Words, e.TutorName)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
