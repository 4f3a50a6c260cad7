package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/keshucs12345/voicecall/internal/audio"
)

// DefaultDeepgramSpeakURL is the Deepgram text to speech endpoint.
const DefaultDeepgramSpeakURL = "https://api.deepgram.com/v1/speak"

// Deepgram synthesizes with Deepgram Aura as raw linear16.
type Deepgram struct {
	apiKey     string
	endpoint   string
	sampleRate int
	client     *http.Client
}

// NewDeepgram returns a Deepgram provider. An empty endpoint uses the public API.
func NewDeepgram(apiKey, endpoint string) *Deepgram {
	if endpoint == "" {
		endpoint = DefaultDeepgramSpeakURL
	}
	return &Deepgram{
		apiKey:     apiKey,
		endpoint:   endpoint,
		sampleRate: audio.DefaultSampleRate,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

type deepgramSpeakPayload struct {
	Text string `json:"text"`
}

// Synthesize implements Provider.
func (d *Deepgram) Synthesize(ctx context.Context, text string, v Voice) (Audio, error) {
	body, err := json.Marshal(deepgramSpeakPayload{Text: text})
	if err != nil {
		return Audio{}, err
	}

	u, err := url.Parse(d.endpoint)
	if err != nil {
		return Audio{}, err
	}
	q := u.Query()
	if v.Name != "" {
		q.Set("model", v.Name)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.sampleRate))
	q.Set("container", "none")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/x-raw;encoding=linear16;rate="+strconv.Itoa(d.sampleRate)+";channels=1")

	resp, err := d.client.Do(req)
	if err != nil {
		return Audio{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return Audio{}, fmt.Errorf("deepgram TTS error: status %d: %s", resp.StatusCode, string(b))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, err
	}
	return Audio{PCM: pcm, SampleRate: d.sampleRate}, nil
}
