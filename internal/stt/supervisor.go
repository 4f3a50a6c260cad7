package stt

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/audio"
)

// Supervisor starts on a primary streaming strategy and demotes to the
// fallback on the first streaming or microphone failure. Demotion lasts for
// the life of the Supervisor.
type Supervisor struct {
	primary  Strategy
	fallback Strategy
	log      zerolog.Logger

	// OnDemote is called once, with the failure that caused it.
	OnDemote func(err error)

	mu      sync.Mutex
	demoted bool
}

// NewSupervisor returns a Supervisor. A nil primary starts demoted.
func NewSupervisor(primary, fallback Strategy, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		primary:  primary,
		fallback: fallback,
		demoted:  primary == nil,
		log:      log.With().Str("component", "stt").Logger(),
	}
}

// Name is the name of the active strategy.
func (s *Supervisor) Name() string { return s.active().Name() }

// Demoted reports whether the fallback is active.
func (s *Supervisor) Demoted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demoted
}

func (s *Supervisor) active() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.demoted {
		return s.fallback
	}
	return s.primary
}

// Listen runs a cycle on the active strategy. If the primary fails, the
// fallback runs in the same cycle once the primary has released the
// microphone.
func (s *Supervisor) Listen(ctx context.Context, h Hooks) (Utterance, error) {
	st := s.active()
	u, err := st.Listen(ctx, h)
	if err == nil || st != s.primary || ctx.Err() != nil {
		return u, err
	}
	if !errors.Is(err, ErrStreamFailed) && !errors.Is(err, audio.ErrAcquisition) {
		return u, err
	}

	s.mu.Lock()
	first := !s.demoted
	s.demoted = true
	s.mu.Unlock()
	if first {
		s.log.Warn().Err(err).Str("from", s.primary.Name()).Str("to", s.fallback.Name()).Msg("demoting transcription strategy")
		if s.OnDemote != nil {
			s.OnDemote(err)
		}
	}
	// primary is not reused
	_ = s.primary.Stop()
	return s.fallback.Listen(ctx, h)
}

// Finalize forwards to the active strategy.
func (s *Supervisor) Finalize() { s.active().Finalize() }

// Stop stops both strategies.
func (s *Supervisor) Stop() error {
	var errs []error
	if s.primary != nil {
		errs = append(errs, s.primary.Stop())
	}
	errs = append(errs, s.fallback.Stop())
	return errors.Join(errs...)
}
