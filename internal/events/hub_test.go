package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestPublish(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)

	// subscription registration races the publish; give the hub a beat
	time.Sleep(50 * time.Millisecond)

	hub.Publish(RecordingFinalized, map[string]int{"recording_id": 7})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got struct {
		Event string         `json:"event"`
		Data  map[string]int `json:"data"`
	}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Event != RecordingFinalized {
		t.Errorf("event = %q, want %q", got.Event, RecordingFinalized)
	}
	if got.Data["recording_id"] != 7 {
		t.Errorf("data = %v", got.Data)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))

	// must not panic or block
	hub.Publish(StreamDead, map[string]int{"camera_id": 1})
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	first := dialHub(t, srv)
	second := dialHub(t, srv)

	time.Sleep(50 * time.Millisecond)

	hub.Publish(StreamDead, nil)

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !strings.Contains(string(payload), StreamDead) {
			t.Errorf("payload = %s", payload)
		}
	}
}
