package models

import "encoding/json"

// Inbound real-time event kinds. Anything else is dropped at the gateway.
const (
	EvJoinConversation = "join-conversation"
	EvTyping           = "typing"
	EvStopTyping       = "stop-typing"
	EvSendMessage      = "send-message"
	EvMarkRead         = "mark-read"
	EvChangeWallpaper  = "change-wallpaper"
)

// Outbound real-time event kinds.
const (
	EvConnected        = "connected"
	EvNewMessage       = "newMessage"
	EvNotification     = "notification"
	EvMessageRead      = "message-read"
	EvMessageEdited    = "message-edited"
	EvMessageDeleted   = "message-deleted"
	EvChatRead         = "chat-read"
	EvWallpaperUpdated = "wallpaper-updated"
	EvOnlineStatus     = "user-online-status"
	EvError            = "error"
)

// Event is the wire envelope for every real-time message in both directions.
// Data is decoded into the payload type keyed by Type.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ConversationRef is the payload for join-conversation, typing and
// stop-typing. UserID is filled in server-side from the connection identity.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

// SendMessagePayload is the client relay request for an already-persisted
// message. Recipients are recomputed from the member set server-side;
// RecipientIDs, when present, only narrows that set.
type SendMessagePayload struct {
	ConversationID string   `json:"conversationId"`
	Content        string   `json:"content"`
	Sender         UserRef  `json:"senderInfo"`
	IsSystem       bool     `json:"isSystem,omitempty"`
	RecipientIDs   []string `json:"recipientIds,omitempty"`
}

// MarkReadPayload records that the acting user has read up to MessageID.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId,omitempty"`
}

// ChangeWallpaperPayload persists a new wallpaper and announces it.
type ChangeWallpaperPayload struct {
	ConversationID string    `json:"conversationId"`
	Wallpaper      Wallpaper `json:"wallpaper"`
	ActorName      string    `json:"actorName,omitempty"`
}

// OnlineStatusPayload carries the full online set on any presence change.
type OnlineStatusPayload struct {
	Online []string `json:"online"`
}

// ErrorPayload is sent to a connection whose request could not be served.
type ErrorPayload struct {
	Message string `json:"message"`
}
