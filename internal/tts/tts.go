// Package tts speaks assistant replies with a remote voice, falling back to a
// local voice when synthesis or playback fails.
package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/audio"
)

// ErrSynthesis is returned when neither the remote nor the local voice could
// speak.
var ErrSynthesis = errors.New("tts: synthesis failed")

// DefaultSpeakerOffDelay stands in for playback while the speaker is off.
const DefaultSpeakerOffDelay = time.Second

// Voice selects a vendor voice.
type Voice struct {
	Name  string
	Speed float64
}

// Audio is synthesized linear16 mono PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Provider synthesizes speech remotely.
type Provider interface {
	Synthesize(ctx context.Context, text string, v Voice) (Audio, error)
}

// LocalVoice speaks without a network dependency and returns when done.
type LocalVoice interface {
	Say(ctx context.Context, text string, v Voice) error
}

// PlaybackRequest is one Speak call. Audio stays nil until synthesis returns.
type PlaybackRequest struct {
	Text      string
	Audio     []byte
	Cancelled bool
}

// Config configures a Synthesizer.
type Config struct {
	Voice           Voice
	LocalVoice      Voice
	SpeakerOffDelay time.Duration
}

// Synthesizer plays at most one reply at a time.
type Synthesizer struct {
	provider Provider
	local    LocalVoice
	player   audio.Player
	cfg      Config
	log      zerolog.Logger

	// OnFallback is called when the local voice is used instead.
	OnFallback func(err error)

	mu      sync.Mutex
	speaker bool
	current *playback
}

type playback struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	req PlaybackRequest
}

// New returns a Synthesizer with the speaker on. provider and local may be nil.
func New(provider Provider, local LocalVoice, player audio.Player, cfg Config, log zerolog.Logger) *Synthesizer {
	if cfg.SpeakerOffDelay <= 0 {
		cfg.SpeakerOffDelay = DefaultSpeakerOffDelay
	}
	return &Synthesizer{
		provider: provider,
		local:    local,
		player:   player,
		cfg:      cfg,
		speaker:  true,
		log:      log.With().Str("component", "tts").Logger(),
	}
}

// Speak stops any reply in progress, then speaks text and returns when it has
// been heard. With the speaker off it waits SpeakerOffDelay instead, including
// when the speaker is switched off part way through.
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	p := s.begin(ctx, text)
	err := s.play(p, text)
	cut := err != nil && p.ctx.Err() != nil
	s.finish(p)
	if cut && ctx.Err() == nil && !s.SpeakerEnabled() {
		s.log.Debug().Dur("delay", s.cfg.SpeakerOffDelay).Msg("speaker switched off mid reply")
		return wait(ctx, s.cfg.SpeakerOffDelay)
	}
	return err
}

func (s *Synthesizer) play(p *playback, text string) error {
	if !s.SpeakerEnabled() {
		s.log.Debug().Dur("delay", s.cfg.SpeakerOffDelay).Msg("speaker off, skipping playback")
		return wait(p.ctx, s.cfg.SpeakerOffDelay)
	}

	var err error
	if s.provider == nil {
		err = errors.New("no remote voice configured")
	} else {
		var a Audio
		a, err = s.provider.Synthesize(p.ctx, text, s.cfg.Voice)
		if err == nil {
			p.setAudio(a.PCM)
			s.log.Debug().Int("bytes", len(a.PCM)).Int("sample_rate", a.SampleRate).Msg("playing reply")
			if err = s.player.Play(p.ctx, a.PCM, a.SampleRate); err == nil {
				return nil
			}
		}
	}
	if p.ctx.Err() != nil {
		return p.ctx.Err()
	}
	return s.fallback(p, text, err)
}

func (s *Synthesizer) fallback(p *playback, text string, cause error) error {
	s.log.Warn().Err(cause).Msg("remote voice failed, using local voice")
	if s.OnFallback != nil {
		s.OnFallback(cause)
	}
	if s.local == nil {
		return fmt.Errorf("%w: %v", ErrSynthesis, cause)
	}
	if err := s.local.Say(p.ctx, text, s.cfg.LocalVoice); err != nil {
		if p.ctx.Err() != nil {
			return p.ctx.Err()
		}
		return fmt.Errorf("%w: remote: %v, local: %v", ErrSynthesis, cause, err)
	}
	return nil
}

// Stop cancels the reply in progress and waits for it to end.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p != nil {
		p.stop()
	}
}

// SetSpeakerEnabled switches output. Switching it off cuts the current reply.
func (s *Synthesizer) SetSpeakerEnabled(on bool) {
	s.mu.Lock()
	s.speaker = on
	s.mu.Unlock()
	s.log.Info().Bool("speaker", on).Msg("speaker toggled")
	if !on {
		s.Stop()
	}
}

// SpeakerEnabled reports whether replies are played aloud.
func (s *Synthesizer) SpeakerEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker
}

// Current returns the reply in progress, if any.
func (s *Synthesizer) Current() (PlaybackRequest, bool) {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	if p == nil {
		return PlaybackRequest{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.req, true
}

// begin stops the previous reply and registers a new one.
func (s *Synthesizer) begin(ctx context.Context, text string) *playback {
	for {
		s.mu.Lock()
		prev := s.current
		if prev == nil {
			pctx, cancel := context.WithCancel(ctx)
			p := &playback{
				ctx:    pctx,
				cancel: cancel,
				done:   make(chan struct{}),
				req:    PlaybackRequest{Text: text},
			}
			s.current = p
			s.mu.Unlock()
			return p
		}
		s.mu.Unlock()
		s.log.Debug().Msg("discarding previous reply")
		prev.stop()
	}
}

func (s *Synthesizer) finish(p *playback) {
	s.mu.Lock()
	if s.current == p {
		s.current = nil
	}
	s.mu.Unlock()
	p.cancel()
	close(p.done)
}

func (p *playback) stop() {
	p.mu.Lock()
	p.req.Cancelled = true
	p.mu.Unlock()
	p.cancel()
	<-p.done
}

func (p *playback) setAudio(pcm []byte) {
	p.mu.Lock()
	p.req.Audio = pcm
	p.mu.Unlock()
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
