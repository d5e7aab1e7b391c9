package notifier

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miradorstack/outage-watch/internal/models"
)

func dialHub(t *testing.T, h *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubHandshakeSubscribeAndBroadcast(t *testing.T) {
	h := NewHub(HubOptions{}, nil)
	conn, closeAll := dialHub(t, h)
	defer closeAll()

	if ev := readEvent(t, conn); ev["event"] != EventConnectionEstablished {
		t.Fatalf("expected connection_established, got %v", ev)
	}

	if err := conn.WriteJSON(map[string]any{"event": "subscribe", "data": map[string]string{"service": "google"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev["event"] != EventSubscribed {
		t.Fatalf("expected subscribed, got %v", ev)
	}

	waitForClients(t, h, 1)
	changes := []models.ChangeEvent{change("Google", models.ChangeNewOutage, models.StatusDown, 15000)}
	if err := h.Notify(context.Background(), changes, ""); err != nil {
		t.Fatalf("notify: %v", err)
	}
	ev := readEvent(t, conn)
	if ev["event"] != EventOutageUpdate || ev["count"] != float64(1) {
		t.Fatalf("unexpected broadcast: %v", ev)
	}
	list, ok := ev["changes"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("expected one change, got %v", ev["changes"])
	}
	if first := list[0].(map[string]any); first["service_name"] != "Google" || first["change_type"] != "new_outage" {
		t.Fatalf("unexpected change payload: %v", first)
	}
}

func TestHubNotifyWithoutClients(t *testing.T) {
	h := NewHub(HubOptions{}, nil)
	if err := h.Notify(context.Background(), []models.ChangeEvent{change("A", models.ChangeNewOutage, models.StatusDown, 1)}, ""); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	h := NewHub(HubOptions{}, nil)
	conn, closeAll := dialHub(t, h)
	defer closeAll()
	readEvent(t, conn)
	waitForClients(t, h, 1)

	_ = h.Close()
	if h.ClientCount() != 0 {
		t.Fatalf("expected no clients after close")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed")
	}
}
