// Package audio defines the microphone and playback capabilities used by a call,
// plus the PCM helpers shared by the transcription and synthesis layers.
package audio

import (
	"context"
	"errors"
)

// ErrAcquisition is returned when a microphone stream cannot be opened, either
// because permission was denied or no input device is available.
var ErrAcquisition = errors.New("audio: input stream unavailable")

const (
	DefaultSampleRate      = 16000
	DefaultChannels        = 1
	DefaultFramesPerBuffer = 1024
)

// Params are the fixed capture parameters requested for a call.
type Params struct {
	SampleRate       int
	Channels         int
	FramesPerBuffer  int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// DefaultParams returns 16 kHz mono capture with the voice processing flags on.
func DefaultParams() Params {
	return Params{
		SampleRate:       DefaultSampleRate,
		Channels:         DefaultChannels,
		FramesPerBuffer:  DefaultFramesPerBuffer,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGain:         true,
	}
}

// BytesPerSecond is the linear16 byte rate for p.
func (p Params) BytesPerSecond() int {
	return p.SampleRate * p.Channels * 2
}

// Stream is an open capture stream. Frames is closed when the stream ends,
// either because Close was called or the device failed (see Err).
type Stream interface {
	Frames() <-chan []int16
	Err() error
	Close() error
}

// Microphone opens capture streams. Implementations must return an error
// wrapping ErrAcquisition when the device cannot be opened.
type Microphone interface {
	Open(ctx context.Context, p Params) (Stream, error)
}

// Player plays linear16 mono PCM and returns once playback has finished or
// ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}
