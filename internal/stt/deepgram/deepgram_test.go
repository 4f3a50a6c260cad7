package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/stt"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func nextEvent(t *testing.T, c stt.Conn) stt.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("events closed: %v", c.Err())
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return stt.Event{}
}

func TestDialStreamsResults(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAudio := make(chan int, 1)
	type handshake struct{ query, auth string }
	handshakes := make(chan handshake, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes <- handshake{r.URL.RawQuery, r.Header.Get("Authorization")}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		msgType, data, err := ws.ReadMessage()
		if err != nil || msgType != websocket.BinaryMessage {
			return
		}
		gotAudio <- len(data)

		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hello"}]}}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello there"}]}}`))
		// wait for the client to finish
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", StreamURL: wsURL(srv)}, zerolog.Nop())
	conn, err := c.Dial(t.Context(), stt.StreamOptions{SampleRate: 16000, Channels: 1, Language: "en-US"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(make([]byte, 320)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case n := <-gotAudio:
		if n != 320 {
			t.Fatalf("server got %d bytes", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server got no audio")
	}

	if ev := nextEvent(t, conn); ev.Kind != stt.Partial || ev.Text != "Hello" {
		t.Fatalf("first event = %+v", ev)
	}
	if ev := nextEvent(t, conn); ev.Kind != stt.Final || ev.Text != "Hello there" {
		t.Fatalf("second event = %+v", ev)
	}

	hs := <-handshakes
	if hs.auth != "Token k" {
		t.Fatalf("Authorization = %q", hs.auth)
	}
	for _, want := range []string{"encoding=linear16", "sample_rate=16000", "interim_results=true", "language=en-US", "model=nova-2-general"} {
		if !strings.Contains(hs.query, want) {
			t.Fatalf("query %q missing %q", hs.query, want)
		}
	}
}

func TestDroppedConnectionReportsError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer srv.Close()

	conn, err := New(Options{StreamURL: wsURL(srv)}, zerolog.Nop()).Dial(t.Context(), stt.StreamOptions{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events not closed")
	}
	if conn.Err() == nil {
		t.Fatal("Err() = nil after dropped connection")
	}
}

func TestDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(Options{StreamURL: wsURL(srv)}, zerolog.Nop()).Dial(t.Context(), stt.StreamOptions{SampleRate: 16000})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v", err)
	}
}

func TestTranscribe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"transcript", http.StatusOK, `{"results":{"channels":[{"alternatives":[{"transcript":"good morning"}]}]}}`, "good morning", false},
		{"no channels", http.StatusOK, `{"results":{"channels":[]}}`, "", false},
		{"server error", http.StatusBadGateway, `upstream`, "", true},
		{"bad json", http.StatusOK, `{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			type seen struct {
				contentType, lang string
				size              int
			}
			reqs := make(chan seen, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				reqs <- seen{r.Header.Get("Content-Type"), r.URL.Query().Get("language"), len(b)}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := New(Options{APIKey: "k", RESTURL: srv.URL}, zerolog.Nop())
			got, err := c.Transcribe(t.Context(), []byte("RIFFdata"), "en-US")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("text = %q, want %q", got, tt.want)
			}
			r := <-reqs
			if r.contentType != "audio/wav" || r.lang != "en-US" || r.size != 8 {
				t.Fatalf("request = %+v", r)
			}
		})
	}
}

func TestTranscribeCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Options{RESTURL: srv.URL}, zerolog.Nop()).Transcribe(ctx, nil, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
