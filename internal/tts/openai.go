package tts

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// openAIPCMRate is the fixed rate of the pcm response format.
const openAIPCMRate = 24000

// OpenAI synthesizes with the OpenAI speech endpoint.
type OpenAI struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewOpenAI returns an OpenAI provider. An empty model uses tts-1.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	m := openai.SpeechModel(model)
	if m == "" {
		m = openai.TTSModel1
	}
	return &OpenAI{client: client, model: m}
}

// Synthesize implements Provider.
func (o *OpenAI) Synthesize(ctx context.Context, text string, v Voice) (Audio, error) {
	req := openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          text,
		Voice:          openai.SpeechVoice(v.Name),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}
	if v.Speed > 0 {
		req.Speed = v.Speed
	}
	resp, err := o.client.CreateSpeech(ctx, req)
	if err != nil {
		return Audio{}, fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, fmt.Errorf("openai tts: read: %w", err)
	}
	return Audio{PCM: pcm, SampleRate: openAIPCMRate}, nil
}
