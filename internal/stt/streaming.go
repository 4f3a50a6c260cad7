package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/audio"
	"github.com/keshucs12345/voicecall/internal/vad"
)

// DefaultDebounce is the quiet period after the last final.
const DefaultDebounce = 1500 * time.Millisecond

// StreamOptions describe the audio sent over a streaming connection.
type StreamOptions struct {
	SampleRate int
	Channels   int
	Language   string
}

// Conn is an open streaming transcription connection.
type Conn interface {
	// Send writes one chunk of linear16 audio.
	Send(pcm []byte) error
	// Events is closed when the connection ends.
	Events() <-chan Event
	// Err is the reason Events was closed, or nil after Close.
	Err() error
	Close() error
}

// StreamDialer opens streaming transcription connections.
type StreamDialer interface {
	Dial(ctx context.Context, opts StreamOptions) (Conn, error)
}

// StreamingConfig configures the streaming strategy.
type StreamingConfig struct {
	Params   audio.Params
	Language string
	Debounce time.Duration
	VAD      vad.Config
}

// Streaming transcribes over one persistent connection per listening cycle.
type Streaming struct {
	mic    audio.Microphone
	dialer StreamDialer
	cfg    StreamingConfig
	log    zerolog.Logger
	cycles cycles
}

// NewStreaming returns a streaming strategy reading from mic.
func NewStreaming(mic audio.Microphone, dialer StreamDialer, cfg StreamingConfig, log zerolog.Logger) *Streaming {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Params.SampleRate == 0 {
		cfg.Params = audio.DefaultParams()
	}
	return &Streaming{
		mic:    mic,
		dialer: dialer,
		cfg:    cfg,
		log:    log.With().Str("component", "stt").Str("strategy", string(SourceStreaming)).Logger(),
	}
}

func (s *Streaming) Name() string { return string(SourceStreaming) }

// Finalize ends the running cycle with the finals and the latest partial.
func (s *Streaming) Finalize() { s.cycles.finalize() }

func (s *Streaming) Stop() error {
	s.cycles.stop()
	return nil
}

// Listen runs one cycle. Connection failures are returned wrapping
// ErrStreamFailed; microphone failures wrap audio.ErrAcquisition.
func (s *Streaming) Listen(ctx context.Context, h Hooks) (Utterance, error) {
	ctx, cy, err := s.cycles.begin(ctx)
	if err != nil {
		return Utterance{}, err
	}
	defer s.cycles.end(cy)

	stream, err := s.mic.Open(ctx, s.cfg.Params)
	if err != nil {
		return Utterance{}, fmt.Errorf("stt: open microphone: %w", err)
	}
	conn, err := s.dialer.Dial(ctx, StreamOptions{
		SampleRate: s.cfg.Params.SampleRate,
		Channels:   s.cfg.Params.Channels,
		Language:   s.cfg.Language,
	})
	if err != nil {
		_ = stream.Close()
		return Utterance{}, fmt.Errorf("%w: dial: %v", ErrStreamFailed, err)
	}
	s.log.Debug().Msg("streaming cycle started")

	var meter audio.Meter
	acc := NewAccumulator(s.cfg.Debounce)
	// the debounce alone ends a streaming cycle; VAD only reports speech start
	mon := vad.NewMonitor(s.cfg.VAD, s.log)
	mon.OnSpeechStart = h.speechStart

	pumpErr := make(chan error, 1)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for frame := range stream.Frames() {
			meter.Write(frame)
			if err := conn.Send(audio.Int16SliceToBytes(frame)); err != nil {
				pumpErr <- fmt.Errorf("%w: send: %v", ErrStreamFailed, err)
				return
			}
		}
		if err := stream.Err(); err != nil {
			pumpErr <- fmt.Errorf("%w: %v", audio.ErrAcquisition, err)
		}
	}()
	mon.Start(ctx, &meter)

	defer func() {
		mon.Stop()
		acc.Stop()
		_ = stream.Close()
		<-pumpDone
		_ = conn.Close()
		s.log.Debug().Msg("streaming cycle torn down")
	}()

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return Utterance{}, ctx.Err()

		case err := <-pumpErr:
			s.log.Warn().Err(err).Msg("audio pump failed")
			return Utterance{}, err

		case ev, ok := <-events:
			if !ok {
				cause := conn.Err()
				if cause == nil {
					cause = errors.New("connection closed by server")
				}
				s.log.Warn().Err(cause).Msg("streaming connection lost")
				return Utterance{}, fmt.Errorf("%w: %v", ErrStreamFailed, cause)
			}
			if ev.Time.IsZero() {
				ev.Time = time.Now()
			}
			acc.Add(ev)
			if strings.TrimSpace(ev.Text) == "" {
				continue
			}
			mon.MarkSpeech(ev.Time)
			if ev.Kind == Final {
				s.log.Debug().Str("text", ev.Text).Msg("final transcript")
				h.final(ev.Text)
			} else {
				h.partial(ev.Text)
			}

		case <-acc.Ready():
			text := acc.Take()
			s.log.Debug().Dur("debounce", s.cfg.Debounce).Str("text", text).Msg("debounce expired")
			return s.utterance(text), nil

		case <-cy.finalize:
			return s.utterance(acc.Flush()), nil
		}
	}
}

func (s *Streaming) utterance(text string) Utterance {
	return Utterance{Text: strings.TrimSpace(text), Source: SourceStreaming, At: time.Now()}
}
