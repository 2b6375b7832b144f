package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Subhi2911/LilYapper-backend/internal/chat"
	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

// ChatHandler serves the conversation lifecycle endpoints. Mutations go
// through the engine first; only after durable success does anything reach
// the realtime gateway.
type ChatHandler struct {
	Engine *chat.Engine
	WS     *WSHandler
}

func NewChatHandler(engine *chat.Engine, ws *WSHandler) *ChatHandler {
	return &ChatHandler{Engine: engine, WS: ws}
}

func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateDirect)
	r.Post("/group", h.CreateGroup)
	r.Route("/{chatID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Put("/rename", h.Rename)
		r.Put("/add", h.AddMembers)
		r.Put("/remove", h.RemoveMembers)
		r.Put("/promote", h.Promote)
		r.Put("/permissions", h.UpdatePermissions)
		r.Put("/wallpaper", h.ChangeWallpaper)
	})
	return r
}

func (h *ChatHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		OtherUserID string `json:"otherUserId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.Engine.CreateDirect(r.Context(), id.UserID, req.OtherUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Name      string   `json:"name"`
		Avatar    string   `json:"avatar"`
		MemberIDs []string `json:"memberIds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Engine.CreateGroup(r.Context(), id.UserID, req.MemberIDs, req.Name, req.Avatar)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.NotifyUsers(res.Notifications)
	writeJSON(w, http.StatusCreated, res.Conversation)
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	conv, err := h.Engine.Get(r.Context(), chi.URLParam(r, "chatID"), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.Engine.SoftDelete(r.Context(), chi.URLParam(r, "chatID"), id.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *ChatHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Engine.Rename(r.Context(), chi.URLParam(r, "chatID"), id.UserID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.FanOutSystemMessage(res.Conversation, res.SystemMessage)
	writeJSON(w, http.StatusOK, res.Conversation)
}

func (h *ChatHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		MemberIDs []string `json:"memberIds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Engine.AddMembers(r.Context(), chi.URLParam(r, "chatID"), id.UserID, req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.FanOutSystemMessage(res.Conversation, res.SystemMessage)
	h.WS.NotifyUsers(res.Notifications)
	writeJSON(w, http.StatusOK, res.Conversation)
}

func (h *ChatHandler) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		MemberIDs []string `json:"memberIds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Engine.RemoveMembers(r.Context(), chi.URLParam(r, "chatID"), id.UserID, req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.FanOutSystemMessage(res.Conversation, res.SystemMessage)
	// Removed members no longer appear in the member set, so tell them
	// directly.
	if res.SystemMessage != nil {
		ev := models.Event{Type: models.EvNewMessage, Data: mustMarshal(res.SystemMessage)}
		for _, userID := range res.Removed {
			h.WS.sendToUser(userID, ev)
		}
	}
	writeJSON(w, http.StatusOK, res.Conversation)
}

func (h *ChatHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"userId"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Engine.PromoteAdmin(r.Context(), chi.URLParam(r, "chatID"), id.UserID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.FanOutSystemMessage(res.Conversation, res.SystemMessage)
	writeJSON(w, http.StatusOK, res.Conversation)
}

func (h *ChatHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req chat.PermissionsPatch
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Engine.UpdatePermissions(r.Context(), chi.URLParam(r, "chatID"), id.UserID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Conversation)
}

func (h *ChatHandler) ChangeWallpaper(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		Wallpaper models.Wallpaper `json:"wallpaper"`
		ActorName string           `json:"actorName"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Engine.ChangeWallpaper(r.Context(), chi.URLParam(r, "chatID"), id.UserID, req.Wallpaper, req.ActorName)
	if err != nil {
		writeError(w, err)
		return
	}

	h.WS.FanOutSystemMessage(res.Conversation, res.SystemMessage)
	writeJSON(w, http.StatusOK, res.Conversation)
}
