package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Subhi2911/LilYapper-backend/internal/auth"
	"github.com/Subhi2911/LilYapper-backend/internal/chat"
	"github.com/Subhi2911/LilYapper-backend/internal/codec"
	"github.com/Subhi2911/LilYapper-backend/internal/db"
	"github.com/Subhi2911/LilYapper-backend/internal/models"
	"github.com/Subhi2911/LilYapper-backend/internal/presence"
)

func newTestWSHandler(origins ...string) *WSHandler {
	verifier := auth.NewVerifier("gateway-test-secret-0123456789abcdef", "lilyapper-auth")
	return NewWSHandler(nil, presence.NewTracker(), verifier, origins)
}

func TestCheckOriginSchemeAndHostValidation(t *testing.T) {
	h := newTestWSHandler("https://chat.example.com")

	allowedReq := httptest.NewRequest("GET", "http://localhost/ws", nil)
	allowedReq.Header.Set("Origin", "https://chat.example.com")
	if !h.checkOrigin(allowedReq) {
		t.Fatalf("expected matching https origin to be allowed")
	}

	disallowedReq := httptest.NewRequest("GET", "http://localhost/ws", nil)
	disallowedReq.Header.Set("Origin", "http://chat.example.com")
	if h.checkOrigin(disallowedReq) {
		t.Fatalf("expected http origin to be rejected when https origin is configured")
	}
}

func TestCheckOriginRequiresExactMatch(t *testing.T) {
	h := newTestWSHandler("https://chat.example.com")

	wrongHostReq := httptest.NewRequest("GET", "http://localhost/ws", nil)
	wrongHostReq.Header.Set("Origin", "https://sub.example.com")
	if h.checkOrigin(wrongHostReq) {
		t.Fatalf("expected non-configured host to be rejected")
	}

	bareHostReq := httptest.NewRequest("GET", "http://localhost/ws", nil)
	bareHostReq.Header.Set("Origin", "chat.example.com")
	if h.checkOrigin(bareHostReq) {
		t.Fatalf("expected non-origin bare host value to be rejected")
	}

	noOriginReq := httptest.NewRequest("GET", "http://localhost/ws", nil)
	if h.checkOrigin(noOriginReq) {
		t.Fatalf("expected missing origin header to be rejected")
	}
}

func TestHandleWebSocketRejectsBeforeUpgrade(t *testing.T) {
	h := newTestWSHandler("https://chat.example.com")

	// No credential at all.
	req := httptest.NewRequest("GET", "http://localhost/ws", nil)
	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, req)
	if rec.Code != 401 {
		t.Fatalf("missing token: status = %d, want 401", rec.Code)
	}

	// A garbage token fails verification.
	req = httptest.NewRequest("GET", "http://localhost/ws?token=not-a-jwt", nil)
	rec = httptest.NewRecorder()
	h.HandleWebSocket(rec, req)
	if rec.Code != 401 {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestHandleWebSocketConnectionCap(t *testing.T) {
	h := newTestWSHandler("https://chat.example.com")
	for i := 0; i < MaxConnsPerUser; i++ {
		h.Presence.Connect("alice")
	}

	token, err := h.Verifier.Mint(auth.Identity{UserID: "alice", Username: "alice"}, time.Minute)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	req := httptest.NewRequest("GET", "http://localhost/ws?token="+token, nil)
	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, req)
	if rec.Code != 429 {
		t.Fatalf("status = %d, want 429 at the connection cap", rec.Code)
	}
}

func dialWS(t *testing.T, server *httptest.Server, h *WSHandler, userID string) *websocket.Conn {
	t.Helper()
	token, err := h.Verifier.Mint(auth.Identity{UserID: userID, Username: userID}, time.Minute)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	headers := http.Header{"Origin": {server.URL}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, headers)
	if err != nil {
		t.Fatalf("failed to dial websocket as %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEventOfType reads frames until one of the wanted type arrives.
func readEventOfType(t *testing.T, conn *websocket.Conn, evType string) models.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q event: %v", evType, err)
		}
		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unparseable server event: %v", err)
		}
		if ev.Type == evType {
			return ev
		}
	}
}

func TestWebSocketPresenceLifecycle(t *testing.T) {
	h := newTestWSHandler()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	server := httptest.NewServer(mux)
	defer server.Close()
	h.allowedOrigins = []string{server.URL}

	alice := dialWS(t, server, h, "alice")
	readEventOfType(t, alice, models.EvConnected)
	readEventOfType(t, alice, models.EvOnlineStatus)

	// A second user coming online is announced to everyone connected.
	bob := dialWS(t, server, h, "bob")
	readEventOfType(t, bob, models.EvConnected)

	ev := readEventOfType(t, alice, models.EvOnlineStatus)
	var status models.OnlineStatusPayload
	if err := json.Unmarshal(ev.Data, &status); err != nil {
		t.Fatalf("bad online-status payload: %v", err)
	}
	if !reflect.DeepEqual(status.Online, []string{"alice", "bob"}) {
		t.Fatalf("online set = %v, want [alice bob]", status.Online)
	}

	// Malformed and unknown events are dropped without closing the socket.
	if err := alice.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := alice.WriteJSON(models.Event{Type: "no-such-event"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// Typing for a conversation this socket never joined is dropped too.
	if err := alice.WriteJSON(models.Event{
		Type: models.EvTyping,
		Data: mustMarshal(models.ConversationRef{ConversationID: "conv-1"}),
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Bob going offline is announced to alice, proving her socket survived.
	bob.Close()
	ev = readEventOfType(t, alice, models.EvOnlineStatus)
	if err := json.Unmarshal(ev.Data, &status); err != nil {
		t.Fatalf("bad online-status payload: %v", err)
	}
	if !reflect.DeepEqual(status.Online, []string{"alice"}) {
		t.Fatalf("online set = %v, want [alice]", status.Online)
	}
}

func TestMessageRecipients(t *testing.T) {
	members := []string{"alice", "bob", "carol"}

	// Regular messages exclude the sender's own sockets.
	got := messageRecipients(members, "alice", false, nil)
	want := []string{"bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("regular: got %v, want %v", got, want)
	}

	// System messages reach every member, the actor included.
	got = messageRecipients(members, "alice", true, nil)
	if !reflect.DeepEqual(got, members) {
		t.Errorf("system: got %v, want %v", got, members)
	}

	// A requested list narrows the member set but cannot widen it.
	got = messageRecipients(members, "alice", false, []string{"carol", "mallory", "alice"})
	want = []string{"carol"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("narrowed: got %v, want %v", got, want)
	}
}

func TestClientRoomTracking(t *testing.T) {
	c := &WSClient{Rooms: make(map[string]bool)}

	if c.inRoom("conv-1") {
		t.Fatal("fresh client should not be in any room")
	}
	c.joinRoom("conv-1")
	if !c.inRoom("conv-1") {
		t.Fatal("client should be in conv-1 after join")
	}
	c.leaveRoom("conv-1")
	if c.inRoom("conv-1") {
		t.Fatal("client should have left conv-1")
	}
}

type stubDirectory struct{}

func (stubDirectory) Lookup(_ context.Context, userID string) (models.UserRef, error) {
	return models.UserRef{ID: userID, Username: userID}, nil
}

func (stubDirectory) AreContacts(context.Context, string, string) (bool, error) {
	return true, nil
}

// newLiveGateway wires a real engine behind the websocket handler so tests
// can exercise full event round trips.
func newLiveGateway(t *testing.T) (*WSHandler, *chat.Engine, *httptest.Server) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	c, err := codec.New("gateway-test-secret-0123456789abcdef")
	if err != nil {
		t.Fatalf("failed to build codec: %v", err)
	}
	engine := chat.NewEngine(database, stubDirectory{}, c, nil)

	verifier := auth.NewVerifier("gateway-test-secret-0123456789abcdef", "lilyapper-auth")
	h := NewWSHandler(engine, presence.NewTracker(), verifier, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	h.allowedOrigins = []string{server.URL}
	return h, engine, server
}

// assertNoEventOfType drains the connection briefly and fails if an event of
// the given type arrives.
func assertNoEventOfType(t *testing.T, conn *websocket.Conn, evType string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unparseable server event: %v", err)
		}
		if ev.Type == evType {
			t.Fatalf("received unexpected %q event", evType)
		}
	}
}

func TestReadReceiptExcludesReader(t *testing.T) {
	h, engine, server := newLiveGateway(t)
	ctx := context.Background()

	conv, err := engine.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	m, _, err := engine.SendMessage(ctx, models.UserRef{ID: "alice", Username: "alice"}, conv.ID, "read me", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	alice := dialWS(t, server, h, "alice")
	readEventOfType(t, alice, models.EvConnected)
	bob := dialWS(t, server, h, "bob")
	readEventOfType(t, bob, models.EvConnected)

	if err := bob.WriteJSON(models.Event{
		Type: models.EvMarkRead,
		Data: mustMarshal(models.MarkReadPayload{ConversationID: conv.ID, MessageID: m.ID}),
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The other member hears about the read.
	ev := readEventOfType(t, alice, models.EvMessageRead)
	var receipt chat.ReadReceipt
	if err := json.Unmarshal(ev.Data, &receipt); err != nil {
		t.Fatalf("bad receipt payload: %v", err)
	}
	if receipt.UserID != "bob" || receipt.MessageID != m.ID || receipt.ConversationID != conv.ID {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	// The reader does not get their own receipt echoed back.
	assertNoEventOfType(t, bob, models.EvMessageRead)
}

func TestNewMessageNotificationCarriesContent(t *testing.T) {
	h, engine, server := newLiveGateway(t)

	conv, err := engine.CreateDirect(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}

	alice := dialWS(t, server, h, "alice")
	readEventOfType(t, alice, models.EvConnected)
	bob := dialWS(t, server, h, "bob")
	readEventOfType(t, bob, models.EvConnected)

	if err := alice.WriteJSON(models.Event{
		Type: models.EvSendMessage,
		Data: mustMarshal(models.SendMessagePayload{ConversationID: conv.ID, Content: "lunch at noon?"}),
	}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ev := readEventOfType(t, bob, models.EvNewMessage)
	var m models.Message
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		t.Fatalf("bad message payload: %v", err)
	}
	if m.Content != "lunch at noon?" {
		t.Fatalf("message content = %q", m.Content)
	}

	ev = readEventOfType(t, bob, models.EvNotification)
	var n models.Notification
	if err := json.Unmarshal(ev.Data, &n); err != nil {
		t.Fatalf("bad notification payload: %v", err)
	}
	if n.Message != "lunch at noon?" {
		t.Errorf("notification message = %q, want the message text", n.Message)
	}
	if n.RecipientID != "bob" || n.SenderID != "alice" || n.ConversationID != conv.ID {
		t.Errorf("unexpected notification: %+v", n)
	}

	// The sender's own sockets stay quiet.
	assertNoEventOfType(t, alice, models.EvNewMessage)
}
