package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Subhi2911/LilYapper-backend/internal/auth"
	"github.com/Subhi2911/LilYapper-backend/internal/chat"
	"github.com/Subhi2911/LilYapper-backend/internal/metrics"
	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

// MessageHandler serves message send, history, read and edit endpoints.
type MessageHandler struct {
	Engine *chat.Engine
	WS     *WSHandler
}

func NewMessageHandler(engine *chat.Engine, ws *WSHandler) *MessageHandler {
	return &MessageHandler{Engine: engine, WS: ws}
}

func (h *MessageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Send)
	r.Get("/{chatID}", h.History)
	r.Put("/read/{chatID}", h.MarkAllRead)
	r.Put("/{messageID}", h.Edit)
	r.Delete("/{messageID}", h.Delete)
	return r
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
		ReplyToID      string `json:"replyToId"`
		Avatar         string `json:"avatar"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sender := models.UserRef{ID: id.UserID, Username: id.Username, Avatar: req.Avatar}
	view, conv, err := h.Engine.SendMessage(r.Context(), sender, req.ConversationID, req.Content, req.ReplyToID, false)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.MessagesStoredTotal.WithLabelValues("chat").Inc()

	h.fanOutNewMessage(view, conv, id)
	writeJSON(w, http.StatusCreated, view)
}

func (h *MessageHandler) fanOutNewMessage(view *models.Message, conv *models.Conversation, sender auth.Identity) {
	ev := models.Event{Type: models.EvNewMessage, Data: mustMarshal(view)}
	for _, userID := range conv.MemberIDs() {
		if userID == sender.UserID {
			continue
		}
		h.WS.sendToUser(userID, ev)
		h.WS.sendToUser(userID, models.Event{Type: models.EvNotification, Data: mustMarshal(models.Notification{
			ID:             uuid.New().String(),
			RecipientID:    userID,
			SenderID:       sender.UserID,
			SenderUsername: sender.Username,
			Type:           models.NotifyNewMessage,
			ConversationID: conv.ID,
			Message:        view.Content,
			CreatedAt:      time.Now().UTC(),
		})})
	}
}

func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	messages, err := h.Engine.History(r.Context(), chi.URLParam(r, "chatID"), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	receipt, err := h.Engine.MarkAllRead(r.Context(), chi.URLParam(r, "chatID"), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.BroadcastReceipt(r.Context(), models.EvChatRead, receipt)
	writeJSON(w, http.StatusOK, receipt)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.Engine.EditMessage(r.Context(), id.UserID, chi.URLParam(r, "messageID"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.deliverToConversation(r.Context(), m.ConversationID, models.Event{Type: models.EvMessageEdited, Data: mustMarshal(m)}, id.UserID)
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	messageID := chi.URLParam(r, "messageID")
	conversationID, err := h.Engine.DeleteMessage(r.Context(), id.UserID, messageID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.deliverToConversation(r.Context(), conversationID, models.Event{Type: models.EvMessageDeleted, Data: mustMarshal(map[string]string{
		"messageId":      messageID,
		"conversationId": conversationID,
	})}, id.UserID)
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
