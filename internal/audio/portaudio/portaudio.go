// Package portaudio implements the audio capabilities on the default
// PortAudio devices.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/audio"
)

// Init initializes PortAudio. Call Shutdown when done.
func Init(log zerolog.Logger) error {
	log.Info().Msg("initializing PortAudio")
	return portaudio.Initialize()
}

// Shutdown terminates PortAudio.
func Shutdown(log zerolog.Logger) {
	log.Info().Msg("terminating PortAudio")
	if err := portaudio.Terminate(); err != nil {
		log.Error().Err(err).Msg("terminate PortAudio")
	}
}

// Microphone opens the default input device.
type Microphone struct {
	log zerolog.Logger
}

// NewMicrophone returns a Microphone on the default input device.
func NewMicrophone(log zerolog.Logger) *Microphone {
	return &Microphone{log: log.With().Str("component", "audio").Logger()}
}

// Open implements audio.Microphone. PortAudio has no echo cancellation or noise
// suppression of its own, so those flags are only reported.
func (m *Microphone) Open(ctx context.Context, p audio.Params) (audio.Stream, error) {
	if p.FramesPerBuffer <= 0 {
		p.FramesPerBuffer = audio.DefaultFramesPerBuffer
	}
	buffer := make([]int16, p.FramesPerBuffer*p.Channels)

	stream, err := portaudio.OpenDefaultStream(p.Channels, 0, float64(p.SampleRate), p.FramesPerBuffer, &buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrAcquisition, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: %v", audio.ErrAcquisition, err)
	}
	m.log.Debug().
		Int("sample_rate", p.SampleRate).
		Bool("echo_cancellation", p.EchoCancellation).
		Bool("noise_suppression", p.NoiseSuppression).
		Bool("auto_gain", p.AutoGain).
		Msg("mic stream opened")

	s := &micStream{
		log:    m.log,
		stream: stream,
		buffer: buffer,
		frames: make(chan []int16, 32),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(ctx)
	return s, nil
}

type micStream struct {
	log    zerolog.Logger
	stream *portaudio.Stream
	buffer []int16
	frames chan []int16

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *micStream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.frames)
	defer func() {
		_ = s.stream.Stop()
		_ = s.stream.Close()
		s.log.Debug().Msg("mic stream closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			s.log.Error().Err(err).Msg("mic read error")
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}

		frame := make([]int16, len(s.buffer))
		copy(frame, s.buffer)

		select {
		case s.frames <- frame:
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *micStream) Frames() <-chan []int16 { return s.frames }

func (s *micStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the reader and waits until the device is released.
func (s *micStream) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// Player plays PCM on the default output device.
type Player struct {
	FramesPerBuffer int
}

// Play implements audio.Player.
func (p *Player) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	n := p.FramesPerBuffer
	if n <= 0 {
		n = audio.DefaultFramesPerBuffer
	}
	samples := audio.BytesToInt16Slice(pcm)
	buffer := make([]int16, n)

	stream, err := portaudio.OpenDefaultStream(0, audio.DefaultChannels, float64(sampleRate), len(buffer), &buffer)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return err
	}
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
	}()

	offset := 0
	for offset < len(samples) {
		if err := ctx.Err(); err != nil {
			return err
		}
		copied := copy(buffer, samples[offset:])
		for i := copied; i < len(buffer); i++ {
			buffer[i] = 0
		}
		offset += copied
		if err := stream.Write(); err != nil {
			return err
		}
	}
	return nil
}
