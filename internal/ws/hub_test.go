package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/codesync-relay/internal/protocol"
	"github.com/manpreetbhatti/codesync-relay/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestHub(t *testing.T, opts ClientOptions) (*Hub, *httptest.Server) {
	log := testLogger()
	hub := NewHub(relay.NewEngine(log, relay.Options{}), log, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("user"))
	}))

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

// Simulates a browser tab talking to the relay
type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, server *httptest.Server, query string) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn}
	var greeting protocol.Connected
	c.expect(protocol.EventConnected, &greeting)
	c.id = greeting.ConnectionID
	return c
}

func (c *testClient) emit(event string, data any) {
	c.t.Helper()
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(map[string]any{"event": event, "data": json.RawMessage(raw)})
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.t.Fatalf("Write failed: %v", err)
	}
}

// Reads frames until one with the given event arrives
func (c *testClient) expect(event protocol.EventType, v any) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("Waiting for %s: %v", event, err)
		}
		env, err := protocol.DecodeEnvelope(frame)
		if err != nil {
			c.t.Fatalf("Invalid frame %s: %v", frame, err)
		}
		if env.Event != event {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(env.Data, v); err != nil {
				c.t.Fatalf("Decode %s failed: %v", event, err)
			}
		}
		return
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(relay.NewEngine(testLogger(), relay.Options{}), testLogger(), DefaultClientOptions())

	if hub.clients == nil {
		t.Error("Hub clients map should be initialized")
	}
	if hub.register == nil || hub.unregister == nil || hub.inbound == nil {
		t.Error("Hub channels should be initialized")
	}
	if stats := hub.Stats(); stats.Rooms != 0 || stats.Connections != 0 {
		t.Errorf("Expected empty hub, got %+v", stats)
	}
}

func TestClientSendDropsWhenFull(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}

	if !c.Send([]byte("first")) {
		t.Error("Expected first send to be queued")
	}
	if c.Send([]byte("second")) {
		t.Error("Expected second send to be dropped")
	}
}

func TestHubRelaysBetweenClients(t *testing.T) {
	hub, server := setupTestHub(t, DefaultClientOptions())

	alice := dial(t, server, "")
	bob := dial(t, server, "")

	alice.emit("join", map[string]any{"roomId": "r1", "displayName": "alice"})
	alice.expect(protocol.EventAdminStatus, nil)

	bob.emit("join", map[string]any{"roomId": "r1", "displayName": "bob"})
	var joined protocol.Joined
	bob.expect(protocol.EventJoined, &joined)
	if len(joined.Members) != 2 {
		t.Fatalf("Expected 2 members, got %d", len(joined.Members))
	}

	alice.emit("code-delta", map[string]any{"roomId": "r1", "delta": map[string]any{"insert": "hi"}})
	var delta protocol.DeltaBroadcast
	bob.expect(protocol.EventCodeDelta, &delta)
	if delta.SenderConnectionID != alice.id || delta.Version != 1 {
		t.Errorf("Unexpected delta %+v", delta)
	}

	waitFor(t, func() bool { return hub.Stats().Rooms == 1 && hub.Stats().Connections == 2 })

	summary, ok := hub.Room("r1")
	if !ok || summary.Members != 2 {
		t.Errorf("Expected r1 with 2 members, got %+v", summary)
	}
	if len(hub.Rooms()) != 1 {
		t.Errorf("Expected 1 room, got %d", len(hub.Rooms()))
	}
}

func TestHubDisconnectNotifiesRoom(t *testing.T) {
	hub, server := setupTestHub(t, DefaultClientOptions())

	alice := dial(t, server, "")
	bob := dial(t, server, "")
	alice.emit("join", map[string]any{"roomId": "r1", "displayName": "alice"})
	alice.expect(protocol.EventJoined, nil)
	bob.emit("join", map[string]any{"roomId": "r1", "displayName": "bob"})
	alice.expect(protocol.EventJoined, nil)

	alice.conn.Close()

	var gone protocol.Disconnected
	bob.expect(protocol.EventDisconnected, &gone)
	if gone.ConnectionID != alice.id || gone.DisplayName != "alice" {
		t.Errorf("Unexpected disconnected payload %+v", gone)
	}

	var status protocol.AdminStatus
	bob.expect(protocol.EventAdminStatus, &status)
	if !status.IsAdmin {
		t.Error("Expected bob to become admin")
	}

	waitFor(t, func() bool { return hub.Stats().Connections == 1 })
}

func TestHubIgnoresMalformedFrames(t *testing.T) {
	_, server := setupTestHub(t, DefaultClientOptions())

	alice := dial(t, server, "")
	alice.conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	alice.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"explode","data":{}}`))

	alice.emit("join", map[string]any{"roomId": "r1", "displayName": "alice"})
	var joined protocol.Joined
	alice.expect(protocol.EventJoined, &joined)
	if joined.JoinerConnectionID != alice.id {
		t.Error("Connection should survive malformed frames")
	}
}

func TestHubUsesVerifiedIdentity(t *testing.T) {
	_, server := setupTestHub(t, DefaultClientOptions())

	alice := dial(t, server, "?user=verified")
	alice.emit("join", map[string]any{"roomId": "r1", "displayName": "spoofed"})

	var joined protocol.Joined
	alice.expect(protocol.EventJoined, &joined)
	if joined.DisplayName != "verified" {
		t.Errorf("Expected verified name, got %s", joined.DisplayName)
	}
}

func TestHubRateLimitDropsExcess(t *testing.T) {
	hub, server := setupTestHub(t, ClientOptions{MessagesPerSecond: 0.001, MessageBurst: 1})

	alice := dial(t, server, "")
	alice.emit("join", map[string]any{"roomId": "r1", "displayName": "alice"})
	alice.expect(protocol.EventJoined, nil)

	for i := 0; i < 5; i++ {
		alice.emit("language-change", map[string]any{"roomId": "r1", "language": "go"})
	}

	time.Sleep(100 * time.Millisecond)
	if handled := hub.Stats().Handled; handled != 1 {
		t.Errorf("Expected only the join to be handled, got %d", handled)
	}
}

func TestHubStopClosesClients(t *testing.T) {
	log := testLogger()
	hub := NewHub(relay.NewEngine(log, relay.Options{}), log, DefaultClientOptions())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, "")
	}))
	defer server.Close()

	alice := dial(t, server, "")
	cancel()
	<-stopped

	alice.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := alice.conn.ReadMessage(); err != nil {
			break
		}
	}
}
