package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Subhi2911/LilYapper-backend/internal/auth"
	"github.com/Subhi2911/LilYapper-backend/internal/chat"
	"github.com/Subhi2911/LilYapper-backend/internal/config"
	"github.com/Subhi2911/LilYapper-backend/internal/metrics"
	"github.com/Subhi2911/LilYapper-backend/internal/middleware"
	"github.com/Subhi2911/LilYapper-backend/internal/models"
	"github.com/Subhi2911/LilYapper-backend/internal/presence"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 16384
	MaxConnsPerUser = 5
	sendBufferSize  = 256
)

type WSClient struct {
	ConnID   string
	Conn     *websocket.Conn
	UserID   string
	Username string
	Rooms    map[string]bool
	roomsMu  sync.RWMutex
	Send     chan []byte
}

func (c *WSClient) joinRoom(conversationID string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.Rooms[conversationID] = true
}

func (c *WSClient) leaveRoom(conversationID string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	delete(c.Rooms, conversationID)
}

func (c *WSClient) inRoom(conversationID string) bool {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	return c.Rooms[conversationID]
}

// WSHandler is the realtime gateway: it authenticates connections, tracks
// which sockets have a conversation open, and routes events to the right
// recipients.
type WSHandler struct {
	Engine   *chat.Engine
	Presence *presence.Tracker
	Verifier *auth.Verifier

	Clients        map[string]*WSClient
	mu             sync.RWMutex
	allowedOrigins []string
}

func NewWSHandler(engine *chat.Engine, tracker *presence.Tracker, verifier *auth.Verifier, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		Engine:         engine,
		Presence:       tracker,
		Verifier:       verifier,
		Clients:        make(map[string]*WSClient),
		allowedOrigins: allowedOrigins,
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.allowedOrigins) == 0 || origin == "" {
		return false
	}

	normalized, ok := config.NormalizeOrigin(origin)
	if !ok {
		return false
	}

	for _, allowed := range h.allowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), normalized) {
			return true
		}
	}
	return false
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw := middleware.BearerToken(r)
	if raw == "" {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	id, err := h.Verifier.Verify(raw)
	if err != nil {
		slog.Warn("WebSocket token verification failed", "error", err)
		http.Error(w, "Token expired or invalid", http.StatusUnauthorized)
		return
	}

	cameOnline, ok := h.Presence.ConnectIfBelow(id.UserID, MaxConnsPerUser)
	if !ok {
		slog.Warn("WebSocket connection limit exceeded", "user_id", id.UserID, "username", id.Username)
		http.Error(w, "Maximum connections exceeded", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade error", "error", err)
		h.Presence.Disconnect(id.UserID)
		return
	}

	client := &WSClient{
		ConnID:   uuid.New().String(),
		Conn:     conn,
		UserID:   id.UserID,
		Username: id.Username,
		Rooms:    make(map[string]bool),
		Send:     make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.Clients[client.ConnID] = client
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
	metrics.OnlineUsers.Set(float64(len(h.Presence.Online())))
	slog.Info("WebSocket connected", "conn_id", client.ConnID, "user_id", client.UserID, "username", client.Username)

	go h.writePump(client)

	h.sendEvent(client, models.Event{Type: models.EvConnected, Data: mustMarshal(map[string]string{
		"userId":   client.UserID,
		"username": client.Username,
	})})
	if cameOnline {
		h.broadcastOnlineStatus()
	} else {
		// Only the new socket needs the current picture.
		h.sendEvent(client, onlineStatusEvent(h.Presence.Online()))
	}

	h.readPump(client)
}

func (h *WSHandler) readPump(client *WSClient) {
	defer func() {
		h.mu.Lock()
		delete(h.Clients, client.ConnID)
		h.mu.Unlock()
		close(client.Send)
		client.Conn.Close()

		wentOffline := h.Presence.Disconnect(client.UserID)
		metrics.ActiveConnections.Dec()
		metrics.OnlineUsers.Set(float64(len(h.Presence.Online())))
		slog.Info("WebSocket disconnected", "conn_id", client.ConnID, "user_id", client.UserID, "username", client.Username)
		if wentOffline {
			h.broadcastOnlineStatus()
		}
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			break
		}

		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			slog.Warn("Malformed websocket event", "user_id", client.UserID, "error", err)
			continue
		}

		ctx := context.Background()
		switch ev.Type {
		case models.EvJoinConversation:
			h.handleJoinConversation(ctx, client, ev.Data)
		case models.EvTyping, models.EvStopTyping:
			h.handleTyping(client, ev.Type, ev.Data)
		case models.EvSendMessage:
			h.handleSendMessage(ctx, client, ev.Data)
		case models.EvMarkRead:
			h.handleMarkRead(ctx, client, ev.Data)
		case models.EvChangeWallpaper:
			h.handleChangeWallpaper(ctx, client, ev.Data)
		default:
			slog.Warn("Unknown websocket event type", "user_id", client.UserID, "type", ev.Type)
		}
	}
}

func (h *WSHandler) handleJoinConversation(ctx context.Context, client *WSClient, data json.RawMessage) {
	var ref models.ConversationRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.ConversationID == "" {
		slog.Warn("Malformed join-conversation payload", "user_id", client.UserID)
		return
	}

	// Only members may keep a conversation open on a socket.
	if _, err := h.Engine.Get(ctx, ref.ConversationID, client.UserID); err != nil {
		slog.Warn("Unauthorized conversation join attempt", "conversation_id", ref.ConversationID, "user_id", client.UserID, "error", err)
		h.sendError(client, "cannot join conversation")
		return
	}

	client.joinRoom(ref.ConversationID)
	slog.Debug("Socket joined conversation", "conversation_id", ref.ConversationID, "user_id", client.UserID)
}

func (h *WSHandler) handleTyping(client *WSClient, evType string, data json.RawMessage) {
	var ref models.ConversationRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.ConversationID == "" {
		slog.Warn("Malformed typing payload", "user_id", client.UserID, "type", evType)
		return
	}
	if !client.inRoom(ref.ConversationID) {
		slog.Warn("Typing signal for conversation not joined", "user_id", client.UserID, "conversation_id", ref.ConversationID)
		return
	}

	ref.UserID = client.UserID
	h.broadcastToRoom(ref.ConversationID, models.Event{Type: evType, Data: mustMarshal(ref)}, client.UserID)
}

func (h *WSHandler) handleSendMessage(ctx context.Context, client *WSClient, data json.RawMessage) {
	var payload models.SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" {
		slog.Warn("Malformed send-message payload", "user_id", client.UserID)
		return
	}

	// The connection identity wins over whatever the client claims.
	sender := payload.Sender
	sender.ID = client.UserID
	if sender.Username == "" {
		sender.Username = client.Username
	}

	view, conv, err := h.Engine.SendMessage(ctx, sender, payload.ConversationID, payload.Content, "", payload.IsSystem)
	if err != nil {
		slog.Warn("Rejected websocket message", "conversation_id", payload.ConversationID, "user_id", client.UserID, "error", err)
		h.sendError(client, "message rejected")
		return
	}
	metrics.MessagesStoredTotal.WithLabelValues(messageKind(payload.IsSystem)).Inc()

	recipients := messageRecipients(conv.MemberIDs(), client.UserID, payload.IsSystem, payload.RecipientIDs)
	ev := models.Event{Type: models.EvNewMessage, Data: mustMarshal(view)}
	for _, userID := range recipients {
		h.sendToUser(userID, ev)
	}

	if payload.IsSystem {
		return
	}
	for _, userID := range recipients {
		h.sendToUser(userID, models.Event{Type: models.EvNotification, Data: mustMarshal(models.Notification{
			ID:             uuid.New().String(),
			RecipientID:    userID,
			SenderID:       sender.ID,
			SenderUsername: sender.Username,
			Type:           models.NotifyNewMessage,
			ConversationID: conv.ID,
			Message:        view.Content,
			CreatedAt:      time.Now().UTC(),
		})})
	}
}

func (h *WSHandler) handleMarkRead(ctx context.Context, client *WSClient, data json.RawMessage) {
	var payload models.MarkReadPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" || payload.MessageID == "" {
		slog.Warn("Malformed mark-read payload", "user_id", client.UserID)
		return
	}

	receipt, err := h.Engine.MarkRead(ctx, payload.ConversationID, client.UserID, payload.MessageID)
	if err != nil {
		slog.Warn("Rejected mark-read", "conversation_id", payload.ConversationID, "user_id", client.UserID, "error", err)
		h.sendError(client, "cannot mark message read")
		return
	}

	h.deliverToConversation(ctx, receipt.ConversationID, models.Event{Type: models.EvMessageRead, Data: mustMarshal(receipt)}, client.UserID)
}

func (h *WSHandler) handleChangeWallpaper(ctx context.Context, client *WSClient, data json.RawMessage) {
	var payload models.ChangeWallpaperPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ConversationID == "" {
		slog.Warn("Malformed change-wallpaper payload", "user_id", client.UserID)
		return
	}

	res, err := h.Engine.ChangeWallpaper(ctx, payload.ConversationID, client.UserID, payload.Wallpaper, payload.ActorName)
	if err != nil {
		slog.Warn("Rejected wallpaper change", "conversation_id", payload.ConversationID, "user_id", client.UserID, "error", err)
		h.sendError(client, "cannot change wallpaper")
		return
	}

	out := models.Event{Type: models.EvWallpaperUpdated, Data: mustMarshal(models.ChangeWallpaperPayload{
		ConversationID: payload.ConversationID,
		Wallpaper:      res.Conversation.Wallpaper,
		ActorName:      payload.ActorName,
	})}
	for _, userID := range res.Conversation.MemberIDs() {
		h.sendToUser(userID, out)
	}
	h.FanOutSystemMessage(res.Conversation, res.SystemMessage)
}

// FanOutSystemMessage delivers a persisted system message to every member,
// the actor included.
func (h *WSHandler) FanOutSystemMessage(conv *models.Conversation, m *models.Message) {
	if conv == nil || m == nil {
		return
	}
	ev := models.Event{Type: models.EvNewMessage, Data: mustMarshal(m)}
	for _, userID := range conv.MemberIDs() {
		h.sendToUser(userID, ev)
	}
}

// NotifyUsers pushes persisted notifications to any online recipients.
func (h *WSHandler) NotifyUsers(notifications []models.Notification) {
	for i := range notifications {
		n := notifications[i]
		h.sendToUser(n.RecipientID, models.Event{Type: models.EvNotification, Data: mustMarshal(n)})
	}
}

// BroadcastReceipt announces a read receipt to the other members of the
// conversation. The reader already knows what they read.
func (h *WSHandler) BroadcastReceipt(ctx context.Context, evType string, receipt *chat.ReadReceipt) {
	if receipt == nil {
		return
	}
	h.deliverToConversation(ctx, receipt.ConversationID, models.Event{Type: evType, Data: mustMarshal(receipt)}, receipt.UserID)
}

func (h *WSHandler) writePump(client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendEvent(client *WSClient, ev models.Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal websocket event", "type", ev.Type, "error", err)
		return
	}
	select {
	case client.Send <- message:
		metrics.EventsDeliveredTotal.WithLabelValues(ev.Type).Inc()
	default:
		metrics.EventsDroppedTotal.WithLabelValues(ev.Type).Inc()
	}
}

func (h *WSHandler) sendError(client *WSClient, message string) {
	h.sendEvent(client, models.Event{Type: models.EvError, Data: mustMarshal(models.ErrorPayload{Message: message})})
}

// sendToUser delivers an event to every connection of the user.
func (h *WSHandler) sendToUser(userID string, ev models.Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal websocket user event", "user_id", userID, "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.Clients {
		if client.UserID != userID {
			continue
		}
		select {
		case client.Send <- message:
			metrics.EventsDeliveredTotal.WithLabelValues(ev.Type).Inc()
		default:
			metrics.EventsDroppedTotal.WithLabelValues(ev.Type).Inc()
		}
	}
}

// broadcastToRoom delivers an event to every socket that has the
// conversation open, excluding all of the sender's sockets.
func (h *WSHandler) broadcastToRoom(conversationID string, ev models.Event, senderID string) {
	message, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal websocket room event", "conversation_id", conversationID, "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.Clients {
		if client.UserID == senderID {
			continue
		}
		if !client.inRoom(conversationID) {
			continue
		}
		select {
		case client.Send <- message:
			metrics.EventsDeliveredTotal.WithLabelValues(ev.Type).Inc()
		default:
			metrics.EventsDroppedTotal.WithLabelValues(ev.Type).Inc()
		}
	}
}

// deliverToConversation resolves the member set from storage and delivers
// to every member's connections, excluding excludeUserID when non-empty.
func (h *WSHandler) deliverToConversation(ctx context.Context, conversationID string, ev models.Event, excludeUserID string) {
	members, err := h.Engine.Members(ctx, conversationID)
	if err != nil {
		slog.Warn("Failed to resolve conversation members for delivery", "conversation_id", conversationID, "type", ev.Type, "error", err)
		return
	}
	for _, userID := range members {
		if userID == excludeUserID {
			continue
		}
		h.sendToUser(userID, ev)
	}
}

func (h *WSHandler) broadcastOnlineStatus() {
	ev := onlineStatusEvent(h.Presence.Online())
	message, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.Clients {
		select {
		case client.Send <- message:
			metrics.EventsDeliveredTotal.WithLabelValues(ev.Type).Inc()
		default:
			metrics.EventsDroppedTotal.WithLabelValues(ev.Type).Inc()
		}
	}
}

func onlineStatusEvent(online []string) models.Event {
	return models.Event{Type: models.EvOnlineStatus, Data: mustMarshal(models.OnlineStatusPayload{Online: online})}
}

// messageRecipients computes the delivery set for a chat message: system
// messages reach every member, regular messages everyone but the sender. A
// client-supplied recipient list can only narrow the member set, never
// widen it.
func messageRecipients(memberIDs []string, senderID string, isSystem bool, requested []string) []string {
	allowed := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		allowed[id] = true
	}

	var out []string
	if len(requested) > 0 {
		for _, id := range requested {
			if allowed[id] && (isSystem || id != senderID) {
				out = append(out, id)
				allowed[id] = false
			}
		}
		return out
	}

	for _, id := range memberIDs {
		if isSystem || id != senderID {
			out = append(out, id)
		}
	}
	return out
}

func messageKind(isSystem bool) string {
	if isSystem {
		return "system"
	}
	return "chat"
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON", "error", err)
		return []byte("null")
	}
	return data
}
