package models

import "time"

// ConversationKind discriminates one-on-one chats from groups.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Policy controls who may perform a permission-gated group action.
type Policy string

const (
	PolicyAdmin Policy = "admin"
	PolicyAll   Policy = "all"
)

// Permissions holds the per-action policy of a group conversation.
type Permissions struct {
	Rename       Policy `json:"rename"`
	AddMember    Policy `json:"addMember"`
	RemoveMember Policy `json:"removeMember"`
}

// DefaultPermissions is the policy set applied to new groups.
func DefaultPermissions() Permissions {
	return Permissions{
		Rename:       PolicyAdmin,
		AddMember:    PolicyAdmin,
		RemoveMember: PolicyAdmin,
	}
}

// Wallpaper is the per-conversation chat background and bubble theme.
type Wallpaper struct {
	URL            string `json:"url"`
	SenderBubble   string `json:"senderBubble"`
	ReceiverBubble string `json:"receiverBubble"`
	SenderText     string `json:"senderText"`
	ReceiverText   string `json:"receiverText"`
}

// DefaultWallpaper mirrors the defaults clients render before any change.
func DefaultWallpaper() Wallpaper {
	return Wallpaper{
		URL:            "/wallpapers/ChatBg.png",
		SenderBubble:   "#52357B",
		ReceiverBubble: "white",
		SenderText:     "white",
		ReceiverText:   "black",
	}
}

// Member is a user's association with a conversation, carrying the admin
// flag, the per-viewer soft-delete marker and the last-read bookmark.
type Member struct {
	UserID            string    `json:"userId"`
	IsAdmin           bool      `json:"isAdmin"`
	Deleted           bool      `json:"-"`
	LastReadMessageID string    `json:"lastReadMessageId,omitempty"`
	JoinedAt          time.Time `json:"joinedAt"`
}

// Conversation is the unit of membership and permission scope.
type Conversation struct {
	ID              string           `json:"id"`
	Kind            ConversationKind `json:"kind"`
	Name            string           `json:"name,omitempty"`
	Avatar          string           `json:"avatar,omitempty"`
	Members         []Member         `json:"members"`
	LatestMessageID string           `json:"latestMessageId,omitempty"`
	LatestMessage   *Message         `json:"latestMessage,omitempty"`
	Wallpaper       Wallpaper        `json:"wallpaper"`
	Permissions     Permissions      `json:"permissions"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// MemberIDs returns the ids of all current members.
func (c *Conversation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// AdminIDs returns the ids of the admin set.
func (c *Conversation) AdminIDs() []string {
	var ids []string
	for _, m := range c.Members {
		if m.IsAdmin {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

func (c *Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) HasAdmin(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m.IsAdmin
		}
	}
	return false
}

// UserRef is the slim sender view attached to messages on read paths.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Message is a unit of conversation content. SenderID is empty for
// system-generated messages. Content is encrypted at rest; read paths
// return it decrypted.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId,omitempty"`
	Sender         *UserRef  `json:"sender,omitempty"`
	Content        string    `json:"content"`
	IsSystem       bool      `json:"isSystem"`
	ReplyToID      string    `json:"replyToId,omitempty"`
	ReplyTo        *Message  `json:"replyTo,omitempty"`
	ReadBy         []string  `json:"readBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NotificationType enumerates the cross-cutting notification kinds.
type NotificationType string

const (
	NotifyFriendRequest   NotificationType = "friend_request"
	NotifyRequestAccepted NotificationType = "request_accepted"
	NotifyGroupAdded      NotificationType = "group_added"
	NotifyNewMessage      NotificationType = "new_message"
)

// Notification is delivered to a single target user's channel and persisted
// through the notification sink.
type Notification struct {
	ID             string           `json:"id"`
	RecipientID    string           `json:"recipientId"`
	SenderID       string           `json:"senderId,omitempty"`
	SenderUsername string           `json:"senderUsername,omitempty"`
	Type           NotificationType `json:"type"`
	ConversationID string           `json:"conversationId,omitempty"`
	Message        string           `json:"message,omitempty"`
	IsRead         bool             `json:"isRead"`
	CreatedAt      time.Time        `json:"createdAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
