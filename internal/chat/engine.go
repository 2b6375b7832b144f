// Package chat holds the membership and permission engine: every
// conversation mutation goes through here, is serialized per conversation,
// and comes back as a structured result the delivery layer turns into
// fan-out events. Nothing in this package touches a socket.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Subhi2911/LilYapper-backend/internal/codec"
	"github.com/Subhi2911/LilYapper-backend/internal/db"
	"github.com/Subhi2911/LilYapper-backend/internal/directory"
	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

const (
	minGroupNameLen  = 3
	maxGroupNameLen  = 30
	maxMessageLen    = 500
	minGroupInvitees = 2
)

type Engine struct {
	store *db.Database
	dir   directory.Directory
	codec *codec.Codec
	sink  directory.NotificationSink

	locks sync.Map // conversation id -> *sync.Mutex
}

func NewEngine(store *db.Database, dir directory.Directory, c *codec.Codec, sink directory.NotificationSink) *Engine {
	return &Engine{store: store, dir: dir, codec: c, sink: sink}
}

// Result is what a conversation mutation hands to the delivery router.
// SystemMessage, when set, is already persisted and decrypted for display.
type Result struct {
	Conversation  *models.Conversation
	SystemMessage *models.Message
	Added         []string
	Removed       []string
	Promoted      string
	Notifications []models.Notification
}

// ReadReceipt is the outcome of a mark-read, ready for broadcast.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	MessageID      string `json:"messageId,omitempty"`
}

// lock serializes read-modify-write cycles on one conversation. Two
// concurrent removals must not both compute an admin handover from the same
// stale admin set.
func (e *Engine) lock(key string) func() {
	v, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreateDirect returns the one-on-one conversation between the two users,
// creating it on first access. Idempotent for the requester: an existing
// chat is returned unless the requester has soft-deleted it.
func (e *Engine) CreateDirect(ctx context.Context, userID, otherID string) (*models.Conversation, error) {
	if userID == "" || otherID == "" || userID == otherID {
		return nil, fmt.Errorf("%w: need two distinct user ids", ErrInvalidArgument)
	}

	mutual, err := e.dir.AreContacts(ctx, userID, otherID)
	if err != nil {
		return nil, fmt.Errorf("contact check: %w", err)
	}
	if !mutual {
		return nil, fmt.Errorf("%w: you can only chat with approved contacts", ErrForbidden)
	}

	// Key on the user pair so two first-access calls cannot create twins.
	a, b := userID, otherID
	if b < a {
		a, b = b, a
	}
	unlock := e.lock("direct:" + a + ":" + b)
	defer unlock()

	existing, err := e.store.FindDirectConversation(ctx, userID, otherID)
	if err == nil {
		return e.decorate(ctx, existing), nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	conv := &models.Conversation{
		ID:   uuid.New().String(),
		Kind: models.KindDirect,
		Members: []models.Member{
			{UserID: userID},
			{UserID: otherID},
		},
		Wallpaper:   models.DefaultWallpaper(),
		Permissions: models.DefaultPermissions(),
	}
	if err := e.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	slog.Info("Direct conversation created", "conversation_id", conv.ID, "users", []string{userID, otherID})
	return conv, nil
}

// CreateGroup creates a group chat with the creator as sole initial admin.
func (e *Engine) CreateGroup(ctx context.Context, creatorID string, memberIDs []string, name, avatar string) (*Result, error) {
	name = strings.TrimSpace(name)
	if len(name) < minGroupNameLen || len(name) > maxGroupNameLen {
		return nil, fmt.Errorf("%w: group name must be %d-%d characters", ErrInvalidArgument, minGroupNameLen, maxGroupNameLen)
	}

	invited := dedupe(memberIDs, creatorID)
	if len(invited) < minGroupInvitees {
		return nil, fmt.Errorf("%w: at least %d members required", ErrInvalidArgument, minGroupInvitees)
	}

	// Every invited id must resolve to a real user before anything persists.
	if _, err := e.resolveUsers(ctx, invited); err != nil {
		return nil, err
	}
	for _, id := range invited {
		mutual, err := e.dir.AreContacts(ctx, creatorID, id)
		if err != nil {
			return nil, fmt.Errorf("contact check: %w", err)
		}
		if !mutual {
			return nil, fmt.Errorf("%w: all invited members must be approved contacts", ErrForbidden)
		}
	}

	creator, err := e.dir.Lookup(ctx, creatorID)
	if err != nil {
		return nil, mapLookupErr(err)
	}

	conv := &models.Conversation{
		ID:          uuid.New().String(),
		Kind:        models.KindGroup,
		Name:        name,
		Avatar:      avatar,
		Wallpaper:   models.DefaultWallpaper(),
		Permissions: models.DefaultPermissions(),
		Members:     []models.Member{{UserID: creatorID, IsAdmin: true}},
	}
	for _, id := range invited {
		conv.Members = append(conv.Members, models.Member{UserID: id})
	}
	if err := e.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	res := &Result{Conversation: conv, Added: invited}
	for _, id := range invited {
		res.Notifications = append(res.Notifications, e.notify(ctx, models.Notification{
			RecipientID:    id,
			SenderID:       creatorID,
			SenderUsername: creator.Username,
			Type:           models.NotifyGroupAdded,
			ConversationID: conv.ID,
			Message:        fmt.Sprintf("%s added you to %s", creator.Username, name),
		}))
	}

	slog.Info("Group created", "conversation_id", conv.ID, "creator", creatorID, "members", len(conv.Members))
	return res, nil
}

// Rename changes a group's display name, gated by the rename policy.
func (e *Engine) Rename(ctx context.Context, conversationID, requesterID, newName string) (*Result, error) {
	newName = strings.TrimSpace(newName)
	if len(newName) < minGroupNameLen || len(newName) > maxGroupNameLen {
		return nil, fmt.Errorf("%w: group name must be %d-%d characters", ErrInvalidArgument, minGroupNameLen, maxGroupNameLen)
	}

	unlock := e.lock(conversationID)
	defer unlock()

	conv, err := e.requireGroupAction(ctx, conversationID, requesterID, func(p models.Permissions) models.Policy { return p.Rename })
	if err != nil {
		return nil, err
	}

	if err := e.store.RenameConversation(ctx, conversationID, newName); err != nil {
		return nil, err
	}
	conv.Name = newName
	return &Result{Conversation: conv}, nil
}

// AddMembers adds contacts of the requester to a group. Already-present ids
// are filtered out; an empty remainder is an error.
func (e *Engine) AddMembers(ctx context.Context, conversationID, requesterID string, newIDs []string) (*Result, error) {
	unlock := e.lock(conversationID)
	defer unlock()

	conv, err := e.requireGroupAction(ctx, conversationID, requesterID, func(p models.Permissions) models.Policy { return p.AddMember })
	if err != nil {
		return nil, err
	}

	var added []string
	for _, id := range dedupe(newIDs, "") {
		if !conv.HasMember(id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil, fmt.Errorf("%w: everyone listed is already a member", ErrInvalidArgument)
	}

	names, err := e.resolveUsers(ctx, added)
	if err != nil {
		return nil, err
	}
	for _, id := range added {
		mutual, err := e.dir.AreContacts(ctx, requesterID, id)
		if err != nil {
			return nil, fmt.Errorf("contact check: %w", err)
		}
		if !mutual {
			return nil, fmt.Errorf("%w: all new members must be approved contacts", ErrForbidden)
		}
	}

	requester, err := e.dir.Lookup(ctx, requesterID)
	if err != nil {
		return nil, mapLookupErr(err)
	}

	if err := e.store.AddMembers(ctx, conversationID, added); err != nil {
		return nil, err
	}

	sys, err := e.appendSystem(ctx, conversationID,
		fmt.Sprintf("%s added %s", requester.Username, joinNames(names)))
	if err != nil {
		return nil, err
	}

	conv, err = e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	res := &Result{Conversation: conv, SystemMessage: sys, Added: added}
	for _, id := range added {
		res.Notifications = append(res.Notifications, e.notify(ctx, models.Notification{
			RecipientID:    id,
			SenderID:       requesterID,
			SenderUsername: requester.Username,
			Type:           models.NotifyGroupAdded,
			ConversationID: conversationID,
			Message:        fmt.Sprintf("%s added you to %s", requester.Username, conv.Name),
		}))
	}
	return res, nil
}

// RemoveMembers removes members from a group. A member may always remove
// themself (leave); removing others is policy-gated. If the sole admin goes,
// a random remaining member is promoted in the same store transaction.
func (e *Engine) RemoveMembers(ctx context.Context, conversationID, requesterID string, targetIDs []string) (*Result, error) {
	targets := dedupe(targetIDs, "")
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no members to remove", ErrInvalidArgument)
	}

	unlock := e.lock(conversationID)
	defer unlock()

	selfLeave := len(targets) == 1 && targets[0] == requesterID

	var conv *models.Conversation
	var err error
	if selfLeave {
		conv, err = e.memberConversation(ctx, conversationID, requesterID)
	} else {
		conv, err = e.requireGroupAction(ctx, conversationID, requesterID, func(p models.Permissions) models.Policy { return p.RemoveMember })
	}
	if err != nil {
		return nil, err
	}
	if conv.Kind != models.KindGroup {
		return nil, fmt.Errorf("%w: not a group conversation", ErrInvalidArgument)
	}

	for _, id := range targets {
		if !conv.HasMember(id) {
			return nil, fmt.Errorf("%w: %s is not a member", ErrInvalidArgument, id)
		}
	}

	names, err := e.resolveUsers(ctx, targets)
	if err != nil {
		return nil, err
	}
	requester, err := e.dir.Lookup(ctx, requesterID)
	if err != nil {
		return nil, mapLookupErr(err)
	}

	promoted, err := e.store.RemoveMembers(ctx, conversationID, targets)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("%s removed %s", requester.Username, joinNames(names))
	if selfLeave {
		text = fmt.Sprintf("%s left the group", requester.Username)
	}
	sys, err := e.appendSystem(ctx, conversationID, text)
	if err != nil {
		return nil, err
	}

	conv, err = e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if promoted != "" {
		slog.Info("Admin handover", "conversation_id", conversationID, "promoted", promoted)
	}
	return &Result{Conversation: conv, SystemMessage: sys, Removed: targets, Promoted: promoted}, nil
}

// PromoteAdmin grants admin to an existing member. Admin-only regardless of
// policy.
func (e *Engine) PromoteAdmin(ctx context.Context, conversationID, requesterID, targetID string) (*Result, error) {
	unlock := e.lock(conversationID)
	defer unlock()

	conv, err := e.memberConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != models.KindGroup {
		return nil, fmt.Errorf("%w: not a group conversation", ErrInvalidArgument)
	}
	if !conv.HasAdmin(requesterID) {
		return nil, fmt.Errorf("%w: only an admin can promote", ErrForbidden)
	}
	if !conv.HasMember(targetID) {
		return nil, fmt.Errorf("%w: target is not a member", ErrInvalidArgument)
	}
	if conv.HasAdmin(targetID) {
		return nil, fmt.Errorf("%w: target is already an admin", ErrConflict)
	}

	if err := e.store.PromoteAdmin(ctx, conversationID, targetID); err != nil {
		return nil, err
	}
	conv, err = e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &Result{Conversation: conv, Promoted: targetID}, nil
}

// PermissionsPatch merges over the existing policy; nil fields are left
// untouched.
type PermissionsPatch struct {
	Rename       *models.Policy `json:"rename,omitempty"`
	AddMember    *models.Policy `json:"addMember,omitempty"`
	RemoveMember *models.Policy `json:"removeMember,omitempty"`
}

// UpdatePermissions merges a partial policy over the current one. Admin-only.
func (e *Engine) UpdatePermissions(ctx context.Context, conversationID, requesterID string, patch PermissionsPatch) (*Result, error) {
	unlock := e.lock(conversationID)
	defer unlock()

	conv, err := e.memberConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != models.KindGroup {
		return nil, fmt.Errorf("%w: not a group conversation", ErrInvalidArgument)
	}
	if !conv.HasAdmin(requesterID) {
		return nil, fmt.Errorf("%w: only an admin can change permissions", ErrForbidden)
	}

	next := conv.Permissions
	for _, f := range []struct {
		val *models.Policy
		dst *models.Policy
	}{
		{patch.Rename, &next.Rename},
		{patch.AddMember, &next.AddMember},
		{patch.RemoveMember, &next.RemoveMember},
	} {
		if f.val == nil {
			continue
		}
		if *f.val != models.PolicyAdmin && *f.val != models.PolicyAll {
			return nil, fmt.Errorf("%w: policy must be %q or %q", ErrInvalidArgument, models.PolicyAdmin, models.PolicyAll)
		}
		*f.dst = *f.val
	}

	if err := e.store.UpdatePermissions(ctx, conversationID, next); err != nil {
		return nil, err
	}
	conv.Permissions = next
	return &Result{Conversation: conv}, nil
}

// ChangeWallpaper persists a new wallpaper theme and announces it with a
// system message. Any member may change it.
func (e *Engine) ChangeWallpaper(ctx context.Context, conversationID, requesterID string, w models.Wallpaper, actorName string) (*Result, error) {
	if w.URL == "" {
		return nil, fmt.Errorf("%w: wallpaper url is required", ErrInvalidArgument)
	}

	unlock := e.lock(conversationID)
	defer unlock()

	conv, err := e.memberConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}

	if actorName == "" {
		if ref, err := e.dir.Lookup(ctx, requesterID); err == nil {
			actorName = ref.Username
		} else {
			actorName = requesterID
		}
	}

	if err := e.store.UpdateWallpaper(ctx, conversationID, w); err != nil {
		return nil, err
	}
	sys, err := e.appendSystem(ctx, conversationID, fmt.Sprintf("%s changed the wallpaper", actorName))
	if err != nil {
		return nil, err
	}

	conv.Wallpaper = w
	return &Result{Conversation: conv, SystemMessage: sys}, nil
}

// Members returns the current member id set of a conversation, for
// delivery fan-out.
func (e *Engine) Members(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return conv.MemberIDs(), nil
}

// SoftDelete hides the conversation for the requester only.
func (e *Engine) SoftDelete(ctx context.Context, conversationID, requesterID string) error {
	if _, err := e.memberConversation(ctx, conversationID, requesterID); err != nil {
		return err
	}
	return e.store.SetDeleted(ctx, conversationID, requesterID, true)
}

// Get returns the conversation view for a member.
func (e *Engine) Get(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	conv, err := e.memberConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	return e.decorate(ctx, conv), nil
}

// SendMessage encrypts and persists a message, updating the latest-message
// reference durably before the caller fans anything out.
func (e *Engine) SendMessage(ctx context.Context, sender models.UserRef, conversationID, content, replyToID string, isSystem bool) (*models.Message, *models.Conversation, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxMessageLen {
		return nil, nil, fmt.Errorf("%w: message content must be 1-%d characters", ErrInvalidArgument, maxMessageLen)
	}

	conv, err := e.memberConversation(ctx, conversationID, sender.ID)
	if err != nil {
		return nil, nil, err
	}

	var replyTo *models.Message
	if replyToID != "" {
		parent, err := e.store.GetMessage(ctx, replyToID)
		if err != nil {
			return nil, nil, mapStoreErr(err)
		}
		if parent.ConversationID != conversationID {
			return nil, nil, fmt.Errorf("%w: reply target is in another conversation", ErrInvalidArgument)
		}
		parent.Content = e.codec.Decrypt(parent.Content)
		replyTo = parent
	}

	encrypted, err := e.codec.Encrypt(content)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt message: %w", err)
	}

	m := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       sender.ID,
		Content:        encrypted,
		IsSystem:       isSystem,
		ReplyToID:      replyToID,
	}
	if err := e.store.InsertMessage(ctx, m); err != nil {
		return nil, nil, err
	}

	view := *m
	view.Content = content
	view.ReadBy = []string{sender.ID}
	view.Sender = &sender
	view.ReplyTo = replyTo
	conv.LatestMessageID = m.ID
	return &view, conv, nil
}

// EditMessage rewrites a message's content in place. Only the original
// sender may edit, and only within the conversation they still belong to.
func (e *Engine) EditMessage(ctx context.Context, requesterID, messageID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxMessageLen {
		return nil, fmt.Errorf("%w: message content must be 1-%d characters", ErrInvalidArgument, maxMessageLen)
	}

	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if m.SenderID != requesterID {
		return nil, fmt.Errorf("%w: only the sender may edit a message", ErrForbidden)
	}
	if _, err := e.memberConversation(ctx, m.ConversationID, requesterID); err != nil {
		return nil, err
	}

	encrypted, err := e.codec.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	if err := e.store.EditMessage(ctx, messageID, requesterID, encrypted); err != nil {
		return nil, mapStoreErr(err)
	}

	m.Content = content
	return m, nil
}

// DeleteMessage removes a message for everyone. Sender-only. Returns the
// conversation id so the caller can announce the removal.
func (e *Engine) DeleteMessage(ctx context.Context, requesterID, messageID string) (string, error) {
	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", mapStoreErr(err)
	}
	if m.SenderID != requesterID {
		return "", fmt.Errorf("%w: only the sender may delete a message", ErrForbidden)
	}
	if err := e.store.DeleteMessage(ctx, messageID, requesterID); err != nil {
		return "", mapStoreErr(err)
	}
	return m.ConversationID, nil
}

// History returns a member's view of a conversation: everything decrypted,
// unread messages marked read for the reader, replies materialized one
// level.
func (e *Engine) History(ctx context.Context, conversationID, requesterID string) ([]models.Message, error) {
	if _, err := e.memberConversation(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	if err := e.store.MarkConversationRead(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	messages, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]int, len(messages))
	for i := range messages {
		messages[i].Content = e.codec.Decrypt(messages[i].Content)
		byID[messages[i].ID] = i
	}
	for i := range messages {
		if messages[i].ReplyToID == "" {
			continue
		}
		if j, ok := byID[messages[i].ReplyToID]; ok {
			parent := messages[j]
			parent.ReplyTo = nil // one level of resolution is enough for display
			messages[i].ReplyTo = &parent
		}
	}
	return messages, nil
}

// MarkRead records that the user has read up to the given message and
// returns the receipt to broadcast. Serialized with membership mutations so
// a marker in flight cannot land after its user has been removed.
func (e *Engine) MarkRead(ctx context.Context, conversationID, requesterID, messageID string) (*ReadReceipt, error) {
	unlock := e.lock(conversationID)
	defer unlock()

	if _, err := e.memberConversation(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if m.ConversationID != conversationID {
		return nil, fmt.Errorf("%w: message belongs to another conversation", ErrInvalidArgument)
	}

	if err := e.store.MarkMessageRead(ctx, messageID, requesterID); err != nil {
		return nil, err
	}
	if err := e.store.SetLastRead(ctx, conversationID, requesterID, messageID); err != nil {
		return nil, err
	}
	return &ReadReceipt{ConversationID: conversationID, UserID: requesterID, MessageID: messageID}, nil
}

// MarkAllRead appends the reader to every message's readBy set and advances
// the last-read bookmark to the latest message.
func (e *Engine) MarkAllRead(ctx context.Context, conversationID, requesterID string) (*ReadReceipt, error) {
	unlock := e.lock(conversationID)
	defer unlock()

	conv, err := e.memberConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}

	if err := e.store.MarkConversationRead(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}
	if conv.LatestMessageID != "" {
		if err := e.store.SetLastRead(ctx, conversationID, requesterID, conv.LatestMessageID); err != nil {
			return nil, err
		}
	}
	return &ReadReceipt{ConversationID: conversationID, UserID: requesterID, MessageID: conv.LatestMessageID}, nil
}

// memberConversation loads a conversation and verifies the requester is a
// member.
func (e *Engine) memberConversation(ctx context.Context, conversationID, requesterID string) (*models.Conversation, error) {
	if conversationID == "" || requesterID == "" {
		return nil, fmt.Errorf("%w: conversation and requester ids are required", ErrInvalidArgument)
	}
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !conv.HasMember(requesterID) {
		return nil, fmt.Errorf("%w: not a member of this conversation", ErrForbidden)
	}
	return conv, nil
}

// requireGroupAction loads the conversation and enforces the per-action
// policy: "all" admits any member, "admin" requires the requester in the
// admin set.
func (e *Engine) requireGroupAction(ctx context.Context, conversationID, requesterID string, pick func(models.Permissions) models.Policy) (*models.Conversation, error) {
	conv, err := e.memberConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != models.KindGroup {
		return nil, fmt.Errorf("%w: not a group conversation", ErrInvalidArgument)
	}
	if pick(conv.Permissions) != models.PolicyAll && !conv.HasAdmin(requesterID) {
		return nil, fmt.Errorf("%w: this action is restricted to admins", ErrForbidden)
	}
	return conv, nil
}

// appendSystem persists a system message (encrypted at rest like any other
// content) and returns the decrypted view. System messages always carry the
// conversation reference.
func (e *Engine) appendSystem(ctx context.Context, conversationID, text string) (*models.Message, error) {
	encrypted, err := e.codec.Encrypt(text)
	if err != nil {
		return nil, fmt.Errorf("encrypt system message: %w", err)
	}
	m := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Content:        encrypted,
		IsSystem:       true,
	}
	if err := e.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	view := *m
	view.Content = text
	return &view, nil
}

// notify persists a notification best-effort and returns it for delivery.
// A sink failure must not fail the mutation that produced it.
func (e *Engine) notify(ctx context.Context, n models.Notification) models.Notification {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()
	if e.sink != nil {
		if err := e.sink.Save(ctx, &n); err != nil {
			slog.Warn("Failed to persist notification", "recipient", n.RecipientID, "type", n.Type, "error", err)
		}
	}
	return n
}

// decorate attaches the decrypted latest message to a conversation view.
func (e *Engine) decorate(ctx context.Context, conv *models.Conversation) *models.Conversation {
	if conv.LatestMessageID == "" {
		return conv
	}
	m, err := e.store.GetMessage(ctx, conv.LatestMessageID)
	if err != nil {
		slog.Warn("Failed to load latest message", "conversation_id", conv.ID, "error", err)
		return conv
	}
	m.Content = e.codec.Decrypt(m.Content)
	conv.LatestMessage = m
	return conv
}

func (e *Engine) resolveUsers(ctx context.Context, ids []string) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		ref, err := e.dir.Lookup(ctx, id)
		if err != nil {
			return nil, mapLookupErr(err)
		}
		names = append(names, ref.Username)
	}
	return names, nil
}

func mapLookupErr(err error) error {
	if errors.Is(err, directory.ErrUserNotFound) {
		return fmt.Errorf("%w: one or more user ids do not exist", ErrNotFound)
	}
	return err
}

func mapStoreErr(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: conversation or message does not exist", ErrNotFound)
	}
	return err
}

func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
