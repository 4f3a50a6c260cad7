// Package whisper transcribes recorded clips with the OpenAI transcription API.
package whisper

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Transcriber implements stt.Transcriber.
type Transcriber struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

// New returns a Transcriber. An empty model uses whisper-1.
func New(client *openai.Client, model string, log zerolog.Logger) *Transcriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &Transcriber{
		client: client,
		model:  model,
		log:    log.With().Str("component", "stt").Str("vendor", "openai").Logger(),
	}
}

// Transcribe submits a WAV clip. language may be a BCP 47 tag such as en-US;
// only its primary subtag is sent.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: primaryLanguage(language),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	t.log.Debug().Int("bytes", len(wav)).Str("text", resp.Text).Msg("clip transcribed")
	return resp.Text, nil
}

func primaryLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
