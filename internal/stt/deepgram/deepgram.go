// Package deepgram implements streaming and prerecorded transcription against
// the Deepgram listen API.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/stt"
)

const (
	DefaultStreamURL = "wss://api.deepgram.com/v1/listen"
	DefaultRESTURL   = "https://api.deepgram.com/v1/listen"
	DefaultModel     = "nova-2-general"

	writeTimeout = 5 * time.Second
)

// Options configure a Client. Empty URLs use the public endpoints.
type Options struct {
	APIKey    string
	Model     string
	StreamURL string
	RESTURL   string
	HTTP      *http.Client
}

// Client dials streaming connections and submits prerecorded clips.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// New returns a Client.
func New(opts Options, log zerolog.Logger) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.StreamURL == "" {
		opts.StreamURL = DefaultStreamURL
	}
	if opts.RESTURL == "" {
		opts.RESTURL = DefaultRESTURL
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("component", "stt").Str("vendor", "deepgram").Logger(),
	}
}

type resultsMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Dial implements stt.StreamDialer.
func (c *Client) Dial(ctx context.Context, opts stt.StreamOptions) (stt.Conn, error) {
	u, err := url.Parse(c.opts.StreamURL)
	if err != nil {
		return nil, fmt.Errorf("deepgram: stream url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.opts.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", strconv.Itoa(max(opts.Channels, 1)))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+c.opts.APIKey)

	c.log.Info().Str("url", u.Redacted()).Msg("connecting to Deepgram WebSocket")
	ws, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram: dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	conn := &streamConn{
		ws:     ws,
		log:    c.log,
		events: make(chan stt.Event, 32),
		done:   make(chan struct{}),
	}
	go conn.read()
	return conn, nil
}

type streamConn struct {
	ws     *websocket.Conn
	log    zerolog.Logger
	events chan stt.Event

	writeMu sync.Mutex

	mu      sync.Mutex
	err     error
	closing bool

	closeOnce sync.Once
	done      chan struct{}
}

func (s *streamConn) read() {
	defer close(s.events)
	for {
		msgType, msg, err := s.ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !s.closing {
				s.err = err
			}
			s.mu.Unlock()
			s.log.Debug().Err(err).Msg("deepgram reader stopped")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var res resultsMessage
		if err := json.Unmarshal(msg, &res); err != nil {
			s.log.Warn().Str("message", string(msg)).Msg("unable to parse Deepgram message")
			continue
		}
		if res.Type != "" && res.Type != "Results" {
			continue
		}
		if len(res.Channel.Alternatives) == 0 {
			continue
		}

		ev := stt.Event{Kind: stt.Partial, Text: res.Channel.Alternatives[0].Transcript, Time: time.Now()}
		if res.IsFinal {
			ev.Kind = stt.Final
		}
		s.log.Debug().Str("text", ev.Text).Bool("final", res.IsFinal).Msg("transcript from Deepgram")

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *streamConn) Send(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *streamConn) Events() <-chan stt.Event { return s.events }

func (s *streamConn) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close asks Deepgram to finish the stream and closes the socket.
func (s *streamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.done)

		s.log.Debug().Msg("closing Deepgram WebSocket")
		s.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = s.ws.SetWriteDeadline(deadline)
		_ = s.ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
		s.writeMu.Unlock()
		err = s.ws.Close()
	})
	return err
}

type prerecordedResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Transcriber with the prerecorded endpoint.
func (c *Client) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	u, err := url.Parse(c.opts.RESTURL)
	if err != nil {
		return "", fmt.Errorf("deepgram: rest url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.opts.Model)
	q.Set("smart_format", "true")
	if language != "" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(wav))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+c.opts.APIKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.opts.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram STT error: status %d: %s", resp.StatusCode, string(b))
	}

	var out prerecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return out.Results.Channels[0].Alternatives[0].Transcript, nil
}
