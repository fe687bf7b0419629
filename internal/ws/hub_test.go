package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"geminilegion/backend/internal/events"
	"geminilegion/backend/internal/observability"
	"geminilegion/backend/internal/store"
)

func TestHubBroadcastsBusEvents(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus, observability.NewLogger("test"), observability.NewMetrics(), nil, time.Second, time.Second)

	ts := httptest.NewServer(hub)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered synchronously in NewHub, but the client
	// has to finish the upgrade before the first publish.
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.MessageSent{Message: store.Message{ID: "msg-1", ChannelID: "general", Content: "hello"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame struct {
		Type    string `json:"type"`
		Payload struct {
			Message store.Message `json:"message"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != "message_sent" || frame.Payload.Message.ID != "msg-1" {
		t.Fatalf("frame mismatch: %s", raw)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus, observability.NewLogger("test"), observability.NewMetrics(), nil, time.Second, time.Second)

	ts := httptest.NewServer(hub)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never dropped, count=%d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
