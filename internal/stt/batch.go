package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/audio"
	"github.com/keshucs12345/voicecall/internal/vad"
)

const (
	// DefaultMinClipBytes is a quarter second of 16 kHz mono linear16.
	DefaultMinClipBytes = 8000

	// frames kept from before VAD noticed speech
	preRollFrames = 3
)

// Transcriber transcribes one recorded clip. wav is a complete WAV file.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// BatchConfig configures the batch strategy.
type BatchConfig struct {
	Params       audio.Params
	Language     string
	MinClipBytes int
	VAD          vad.Config
	// Manual records from the start of each cycle until Finalize, with no VAD.
	Manual bool
}

// Batch records a clip per cycle and submits it as a single request.
type Batch struct {
	mic    audio.Microphone
	tr     Transcriber
	cfg    BatchConfig
	log    zerolog.Logger
	cycles cycles

	mu     sync.Mutex
	manual bool
	plain  bool
}

// NewBatch returns a batch strategy reading from mic.
func NewBatch(mic audio.Microphone, tr Transcriber, cfg BatchConfig, log zerolog.Logger) *Batch {
	if cfg.MinClipBytes <= 0 {
		cfg.MinClipBytes = DefaultMinClipBytes
	}
	if cfg.Params.SampleRate == 0 {
		cfg.Params = audio.DefaultParams()
	}
	return &Batch{
		mic:    mic,
		tr:     tr,
		cfg:    cfg,
		manual: cfg.Manual,
		log:    log.With().Str("component", "stt").Str("strategy", string(SourceBatch)).Logger(),
	}
}

func (b *Batch) Name() string { return string(SourceBatch) }

// Manual reports whether cycles end only on Finalize.
func (b *Batch) Manual() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.manual
}

// Finalize stops recording and submits the clip.
func (b *Batch) Finalize() { b.cycles.finalize() }

func (b *Batch) Stop() error {
	b.cycles.stop()
	return nil
}

// Listen records until VAD reports a complete utterance, or until Finalize in
// manual mode, then transcribes the clip. Clips under the size floor return an
// empty Utterance without a request.
func (b *Batch) Listen(ctx context.Context, h Hooks) (Utterance, error) {
	ctx, cy, err := b.cycles.begin(ctx)
	if err != nil {
		return Utterance{}, err
	}
	defer b.cycles.end(cy)

	stream, manual, err := b.open(ctx, h)
	if err != nil {
		return Utterance{}, err
	}
	b.log.Debug().Bool("manual", manual).Msg("batch cycle started")

	rec := &recorder{recording: manual}
	var meter audio.Meter
	var mon *vad.Monitor
	vadDone := make(chan struct{}, 1)
	if !manual {
		mon = vad.NewMonitor(b.cfg.VAD, b.log)
		mon.OnSpeechStart = func() {
			rec.start()
			h.speechStart()
		}
		mon.OnNoise = rec.discard
		mon.OnUtteranceComplete = func(time.Duration) { signal(vadDone) }
	}

	streamEnd := make(chan error, 1)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for frame := range stream.Frames() {
			meter.Write(frame)
			rec.write(frame)
		}
		streamEnd <- stream.Err()
	}()
	if mon != nil {
		mon.Start(ctx, &meter)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if mon != nil {
				mon.Stop()
			}
			_ = stream.Close()
			<-pumpDone
		})
	}
	defer release()

wait:
	for {
		select {
		case <-ctx.Done():
			return Utterance{}, ctx.Err()
		case <-vadDone:
			break wait
		case <-cy.finalize:
			break wait
		case err := <-streamEnd:
			if err != nil {
				return Utterance{}, fmt.Errorf("stt: %w: %v", audio.ErrAcquisition, err)
			}
			break wait
		}
	}

	// the microphone is released before the request goes out
	release()

	clip := rec.bytes()
	if len(clip) < b.cfg.MinClipBytes {
		b.log.Debug().Int("bytes", len(clip)).Int("min", b.cfg.MinClipBytes).Msg("clip below floor, discarded")
		return Utterance{Source: SourceBatch, At: time.Now()}, nil
	}

	wav := audio.EncodeWAV(clip, b.cfg.Params.SampleRate, b.cfg.Params.Channels)
	b.log.Debug().Int("bytes", len(clip)).Msg("submitting clip")
	text, err := b.tr.Transcribe(ctx, wav, b.cfg.Language)
	if err != nil {
		return Utterance{}, fmt.Errorf("stt: batch transcription: %w", err)
	}
	text = strings.TrimSpace(text)
	if text != "" {
		h.final(text)
	}
	return Utterance{Text: text, Source: SourceBatch, At: time.Now()}, nil
}

// open acquires the microphone. When the voice processing stream cannot be
// opened it retries once without it and switches to manual recording.
func (b *Batch) open(ctx context.Context, h Hooks) (audio.Stream, bool, error) {
	b.mu.Lock()
	manual, plain := b.manual, b.plain
	b.mu.Unlock()

	params := b.cfg.Params
	if plain {
		params = plainParams(params)
	}
	stream, err := b.mic.Open(ctx, params)
	if err == nil {
		return stream, manual, nil
	}
	if plain || !errors.Is(err, audio.ErrAcquisition) {
		return nil, manual, fmt.Errorf("stt: open microphone: %w", err)
	}

	b.log.Warn().Err(err).Msg("voice processing capture unavailable, falling back to manual recording")
	stream, err = b.mic.Open(ctx, plainParams(params))
	if err != nil {
		return nil, manual, fmt.Errorf("stt: open microphone: %w", err)
	}
	b.mu.Lock()
	b.manual, b.plain = true, true
	b.mu.Unlock()
	h.manual()
	return stream, true, nil
}

func plainParams(p audio.Params) audio.Params {
	p.EchoCancellation = false
	p.NoiseSuppression = false
	p.AutoGain = false
	return p
}

// recorder buffers frames while speech is active.
type recorder struct {
	mu        sync.Mutex
	recording bool
	preroll   [][]int16
	clip      []int16
}

func (r *recorder) write(frame []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		r.clip = append(r.clip, frame...)
		return
	}
	r.preroll = append(r.preroll, frame)
	if len(r.preroll) > preRollFrames {
		r.preroll = r.preroll[1:]
	}
}

func (r *recorder) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	for _, f := range r.preroll {
		r.clip = append(r.clip, f...)
	}
	r.preroll = nil
}

func (r *recorder) discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.clip = nil
}

func (r *recorder) bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return audio.Int16SliceToBytes(r.clip)
}
