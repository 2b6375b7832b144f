package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Subhi2911/LilYapper-backend/internal/codec"
	"github.com/Subhi2911/LilYapper-backend/internal/db"
	"github.com/Subhi2911/LilYapper-backend/internal/directory"
	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

type fakeDirectory struct {
	users    map[string]models.UserRef
	contacts map[string]bool
}

func newFakeDirectory(userIDs ...string) *fakeDirectory {
	d := &fakeDirectory{
		users:    make(map[string]models.UserRef),
		contacts: make(map[string]bool),
	}
	for _, id := range userIDs {
		d.users[id] = models.UserRef{ID: id, Username: id}
	}
	// All known users are mutual contacts unless a test severs them.
	for _, a := range userIDs {
		for _, b := range userIDs {
			if a != b {
				d.contacts[pairKey(a, b)] = true
			}
		}
	}
	return d
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (d *fakeDirectory) sever(a, b string) {
	d.contacts[pairKey(a, b)] = false
}

func (d *fakeDirectory) Lookup(_ context.Context, userID string) (models.UserRef, error) {
	u, ok := d.users[userID]
	if !ok {
		return models.UserRef{}, directory.ErrUserNotFound
	}
	return u, nil
}

func (d *fakeDirectory) AreContacts(_ context.Context, userID, otherID string) (bool, error) {
	return d.contacts[pairKey(userID, otherID)], nil
}

type memorySink struct {
	saved []models.Notification
}

func (s *memorySink) Save(_ context.Context, n *models.Notification) error {
	s.saved = append(s.saved, *n)
	return nil
}

func newTestEngine(t *testing.T, userIDs ...string) (*Engine, *fakeDirectory, *memorySink, *db.Database) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	c, err := codec.New("engine-test-secret-0123456789abcdef")
	if err != nil {
		t.Fatalf("failed to build codec: %v", err)
	}

	dir := newFakeDirectory(userIDs...)
	sink := &memorySink{}
	return NewEngine(database, dir, c, sink), dir, sink, database
}

func createTestGroup(t *testing.T, e *Engine, creator string, members ...string) *models.Conversation {
	t.Helper()
	res, err := e.CreateGroup(context.Background(), creator, members, "weekend plans", "")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	return res.Conversation
}

func TestCreateDirectIdempotent(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	first, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	if first.Kind != models.KindDirect || len(first.Members) != 2 {
		t.Fatalf("unexpected conversation: %+v", first)
	}

	second, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("second CreateDirect failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the same conversation back, got %q and %q", first.ID, second.ID)
	}

	// The other member's first access also lands on the same conversation.
	third, err := e.CreateDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("CreateDirect from bob failed: %v", err)
	}
	if third.ID != first.ID {
		t.Errorf("bob got a twin conversation: %q vs %q", third.ID, first.ID)
	}
}

func TestCreateDirectRequiresContact(t *testing.T) {
	e, dir, _, _ := newTestEngine(t, "alice", "bob")
	dir.sever("alice", "bob")

	if _, err := e.CreateDirect(context.Background(), "alice", "bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateDirectSelf(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice")

	if _, err := e.CreateDirect(context.Background(), "alice", "alice"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "carol")
	ctx := context.Background()

	if _, err := e.CreateGroup(ctx, "alice", []string{"bob", "carol"}, "ab", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("short name: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := e.CreateGroup(ctx, "alice", []string{"bob", "carol"}, strings.Repeat("x", 31), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("long name: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := e.CreateGroup(ctx, "alice", []string{"bob"}, "weekend plans", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("one invitee: expected ErrInvalidArgument, got %v", err)
	}
	// The creator in the invite list does not count towards the minimum.
	if _, err := e.CreateGroup(ctx, "alice", []string{"alice", "bob"}, "weekend plans", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("creator self-invite: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := e.CreateGroup(ctx, "alice", []string{"bob", "ghost"}, "weekend plans", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown invitee: expected ErrNotFound, got %v", err)
	}
}

func TestCreateGroupCreatorSoleAdmin(t *testing.T) {
	e, _, sink, _ := newTestEngine(t, "alice", "bob", "carol")

	conv := createTestGroup(t, e, "alice", "bob", "carol")
	if len(conv.Members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(conv.Members))
	}
	admins := conv.AdminIDs()
	if len(admins) != 1 || admins[0] != "alice" {
		t.Errorf("admins = %v, want [alice]", admins)
	}

	// Every invitee gets a persisted group_added notification.
	if len(sink.saved) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(sink.saved))
	}
	for _, n := range sink.saved {
		if n.Type != models.NotifyGroupAdded || n.ConversationID != conv.ID {
			t.Errorf("unexpected notification: %+v", n)
		}
	}
}

func TestRenamePolicy(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "carol")
	ctx := context.Background()
	conv := createTestGroup(t, e, "alice", "bob", "carol")

	// Default policy is admin-only.
	if _, err := e.Rename(ctx, conv.ID, "bob", "new group name"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin rename, got %v", err)
	}

	res, err := e.Rename(ctx, conv.ID, "alice", "new group name")
	if err != nil {
		t.Fatalf("admin rename failed: %v", err)
	}
	if res.Conversation.Name != "new group name" {
		t.Errorf("name = %q", res.Conversation.Name)
	}

	// Opening the policy admits regular members.
	all := models.PolicyAll
	if _, err := e.UpdatePermissions(ctx, conv.ID, "alice", PermissionsPatch{Rename: &all}); err != nil {
		t.Fatalf("UpdatePermissions failed: %v", err)
	}
	if _, err := e.Rename(ctx, conv.ID, "bob", "bob was here"); err != nil {
		t.Fatalf("member rename under open policy failed: %v", err)
	}
}

func TestUpdatePermissionsValidation(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "carol")
	ctx := context.Background()
	conv := createTestGroup(t, e, "alice", "bob", "carol")

	bad := models.Policy("everyone")
	if _, err := e.UpdatePermissions(ctx, conv.ID, "alice", PermissionsPatch{Rename: &bad}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad policy value: expected ErrInvalidArgument, got %v", err)
	}

	all := models.PolicyAll
	if _, err := e.UpdatePermissions(ctx, conv.ID, "bob", PermissionsPatch{Rename: &all}); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin: expected ErrForbidden, got %v", err)
	}

	// Nil fields leave the current policy untouched.
	res, err := e.UpdatePermissions(ctx, conv.ID, "alice", PermissionsPatch{AddMember: &all})
	if err != nil {
		t.Fatalf("UpdatePermissions failed: %v", err)
	}
	if res.Conversation.Permissions.Rename != models.PolicyAdmin {
		t.Errorf("rename policy changed unexpectedly to %q", res.Conversation.Permissions.Rename)
	}
	if res.Conversation.Permissions.AddMember != models.PolicyAll {
		t.Errorf("addMember policy = %q, want %q", res.Conversation.Permissions.AddMember, models.PolicyAll)
	}
}

func TestAddMembersFiltersExisting(t *testing.T) {
	e, _, sink, _ := newTestEngine(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()
	conv := createTestGroup(t, e, "alice", "bob", "carol")
	sink.saved = nil

	if _, err := e.AddMembers(ctx, conv.ID, "alice", []string{"bob", "carol"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("all already members: expected ErrInvalidArgument, got %v", err)
	}

	res, err := e.AddMembers(ctx, conv.ID, "alice", []string{"bob", "dave"})
	if err != nil {
		t.Fatalf("AddMembers failed: %v", err)
	}
	if len(res.Added) != 1 || res.Added[0] != "dave" {
		t.Errorf("added = %v, want [dave]", res.Added)
	}
	if !res.Conversation.HasMember("dave") {
		t.Error("dave should be a member now")
	}
	if res.SystemMessage == nil || !strings.Contains(res.SystemMessage.Content, "added") {
		t.Errorf("unexpected system message: %+v", res.SystemMessage)
	}
	if len(sink.saved) != 1 || sink.saved[0].RecipientID != "dave" {
		t.Errorf("expected one notification for dave, got %+v", sink.saved)
	}
}

func TestAddMembersPolicy(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()
	conv := createTestGroup(t, e, "alice", "bob", "carol")

	if _, err := e.AddMembers(ctx, conv.ID, "bob", []string{"dave"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden under admin-only policy, got %v", err)
	}

	all := models.PolicyAll
	if _, err := e.UpdatePermissions(ctx, conv.ID, "alice", PermissionsPatch{AddMember: &all}); err != nil {
		t.Fatalf("UpdatePermissions failed: %v", err)
	}
	if _, err := e.AddMembers(ctx, conv.ID, "bob", []string{"dave"}); err != nil {
		t.Fatalf("member add under open policy failed: %v", err)
	}
}

func TestRemoveMembersSelfLeaveAndHandover(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "carol")
	ctx := context.Background()
	conv := createTestGroup(t, e, "alice", "bob", "carol")

	// Self-leave needs no policy grant even for non-admins.
	res, err := e.RemoveMembers(ctx, conv.ID, "bob", []string{"bob"})
	if err != nil {
		t.Fatalf("self-leave failed: %v", err)
	}
	if res.Promoted != "" {
		t.Errorf("no handover expected, admin still present, got %q", res.Promoted)
	}
	if res.SystemMessage == nil || !strings.Contains(res.SystemMessage.Content, "left the group") {
		t.Errorf("unexpected system message: %+v", res.SystemMessage)
	}

	// The sole admin leaving hands admin to a remaining member.
	res, err = e.RemoveMembers(ctx, conv.ID, "alice", []string{"alice"})
	if err != nil {
		t.Fatalf("admin self-leave failed: %v", err)
	}
	if res.Promoted != "carol" {
		t.Errorf("promoted = %q, want carol (only member left)", res.Promoted)
	}
	if len(res.Conversation.AdminIDs()) == 0 {
		t.Error("group must keep at least one admin")
	}
}

func TestRemoveMembersPolicy(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "carol")
	ctx := context.Background()
	conv := createTestGroup(t, e, "alice", "bob", "carol")

	if _, err := e.RemoveMembers(ctx, conv.ID, "bob", []string{"carol"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin removal, got %v", err)
	}
	if _, err := e.RemoveMembers(ctx, conv.ID, "alice", []string{"ghost"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for non-member target, got %v", err)
	}
}

func TestPromoteAdmin(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "carol")
	ctx := context.Background()
	conv := createTestGroup(t, e, "alice", "bob", "carol")

	if _, err := e.PromoteAdmin(ctx, conv.ID, "bob", "carol"); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin promote: expected ErrForbidden, got %v", err)
	}
	if _, err := e.PromoteAdmin(ctx, conv.ID, "alice", "ghost"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("non-member target: expected ErrInvalidArgument, got %v", err)
	}

	res, err := e.PromoteAdmin(ctx, conv.ID, "alice", "bob")
	if err != nil {
		t.Fatalf("PromoteAdmin failed: %v", err)
	}
	if !res.Conversation.HasAdmin("bob") {
		t.Error("bob should be admin after promotion")
	}

	if _, err := e.PromoteAdmin(ctx, conv.ID, "alice", "bob"); !errors.Is(err, ErrConflict) {
		t.Errorf("repeat promote: expected ErrConflict, got %v", err)
	}
}

func TestSendMessageEncryptsAtRest(t *testing.T) {
	e, _, _, database := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	conv, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}

	view, _, err := e.SendMessage(ctx, models.UserRef{ID: "alice", Username: "alice"}, conv.ID, "secret plans", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if view.Content != "secret plans" {
		t.Errorf("view content = %q, want plaintext", view.Content)
	}
	if len(view.ReadBy) != 1 || view.ReadBy[0] != "alice" {
		t.Errorf("readBy = %v, want [alice]", view.ReadBy)
	}

	stored, err := database.GetMessage(ctx, view.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if stored.Content == "secret plans" {
		t.Error("message stored in plaintext")
	}
	if !strings.Contains(stored.Content, ":") {
		t.Errorf("stored content %q is not an iv:ciphertext token", stored.Content)
	}
}

func TestSendMessageValidation(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "mallory")
	ctx := context.Background()

	conv, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}

	alice := models.UserRef{ID: "alice", Username: "alice"}
	if _, _, err := e.SendMessage(ctx, alice, conv.ID, "   ", "", false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("blank content: expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := e.SendMessage(ctx, alice, conv.ID, strings.Repeat("x", 501), "", false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("oversized content: expected ErrInvalidArgument, got %v", err)
	}

	mallory := models.UserRef{ID: "mallory", Username: "mallory"}
	if _, _, err := e.SendMessage(ctx, mallory, conv.ID, "hello", "", false); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member sender: expected ErrForbidden, got %v", err)
	}
}

func TestHistoryDecryptsAndMarksRead(t *testing.T) {
	e, _, _, database := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	conv, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	alice := models.UserRef{ID: "alice", Username: "alice"}
	first, _, err := e.SendMessage(ctx, alice, conv.ID, "hello bob", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, _, err := e.SendMessage(ctx, alice, conv.ID, "are you there?", "", false); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	messages, err := e.History(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "hello bob" || messages[1].Content != "are you there?" {
		t.Errorf("history not decrypted oldest-first: %q, %q", messages[0].Content, messages[1].Content)
	}

	// Fetching history marks everything read for the reader.
	stored, err := database.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	readBy := map[string]bool{}
	for _, id := range stored.ReadBy {
		readBy[id] = true
	}
	if !readBy["alice"] || !readBy["bob"] {
		t.Errorf("readBy = %v, want sender and reader", stored.ReadBy)
	}
}

func TestHistoryResolvesReplies(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	conv, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	alice := models.UserRef{ID: "alice", Username: "alice"}
	bob := models.UserRef{ID: "bob", Username: "bob"}

	parent, _, err := e.SendMessage(ctx, alice, conv.ID, "lunch?", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, _, err := e.SendMessage(ctx, bob, conv.ID, "sure", parent.ID, false); err != nil {
		t.Fatalf("reply failed: %v", err)
	}

	messages, err := e.History(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	reply := messages[1]
	if reply.ReplyTo == nil || reply.ReplyTo.ID != parent.ID {
		t.Fatalf("reply target not resolved: %+v", reply.ReplyTo)
	}
	if reply.ReplyTo.Content != "lunch?" {
		t.Errorf("reply target content = %q, want decrypted parent", reply.ReplyTo.Content)
	}
	if reply.ReplyTo.ReplyTo != nil {
		t.Error("reply resolution should stop at one level")
	}
}

func TestReplyAcrossConversations(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob", "carol")
	ctx := context.Background()

	convAB, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	convAC, err := e.CreateDirect(ctx, "alice", "carol")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}

	alice := models.UserRef{ID: "alice", Username: "alice"}
	parent, _, err := e.SendMessage(ctx, alice, convAB.ID, "original", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if _, _, err := e.SendMessage(ctx, alice, convAC.ID, "cross reply", parent.ID, false); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for cross-conversation reply, got %v", err)
	}
}

func TestMarkRead(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	conv, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	alice := models.UserRef{ID: "alice", Username: "alice"}
	m, _, err := e.SendMessage(ctx, alice, conv.ID, "read me", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	receipt, err := e.MarkRead(ctx, conv.ID, "bob", m.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if receipt.UserID != "bob" || receipt.MessageID != m.ID {
		t.Errorf("unexpected receipt: %+v", receipt)
	}

	if _, err := e.MarkRead(ctx, conv.ID, "mallory", m.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member mark-read: expected ErrForbidden, got %v", err)
	}
}

func TestEditAndDeleteMessage(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	conv, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	alice := models.UserRef{ID: "alice", Username: "alice"}
	m, _, err := e.SendMessage(ctx, alice, conv.ID, "tpyo", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if _, err := e.EditMessage(ctx, "bob", m.ID, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-sender edit: expected ErrForbidden, got %v", err)
	}

	edited, err := e.EditMessage(ctx, "alice", m.ID, "typo")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if edited.Content != "typo" {
		t.Errorf("content = %q, want %q", edited.Content, "typo")
	}

	if _, err := e.DeleteMessage(ctx, "bob", m.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-sender delete: expected ErrForbidden, got %v", err)
	}
	convID, err := e.DeleteMessage(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if convID != conv.ID {
		t.Errorf("conversation id = %q, want %q", convID, conv.ID)
	}
}

func TestSoftDeleteHidesForViewerOnly(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	conv, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}

	if err := e.SoftDelete(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	// Bob's view is untouched.
	if _, err := e.Get(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("bob lost access after alice's soft delete: %v", err)
	}
}

func TestMarkReadRejectsRemovedMember(t *testing.T) {
	e, _, _, database := newTestEngine(t, "alice", "bob", "carol")
	ctx := context.Background()

	conv := createTestGroup(t, e, "alice", "bob", "carol")
	view, _, err := e.SendMessage(ctx, models.UserRef{ID: "alice", Username: "alice"}, conv.ID, "hi all", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if _, err := e.RemoveMembers(ctx, conv.ID, "alice", []string{"bob"}); err != nil {
		t.Fatalf("RemoveMembers failed: %v", err)
	}

	// A late read marker from the removed member must neither succeed nor
	// re-create his membership row.
	if _, err := e.MarkRead(ctx, conv.ID, "bob", view.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for removed member, got %v", err)
	}

	got, err := database.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.HasMember("bob") {
		t.Error("bob should stay removed after his read marker")
	}
}

func TestDeleteLatestMessageKeepsConversationLoadable(t *testing.T) {
	e, _, _, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	conv, err := e.CreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreateDirect failed: %v", err)
	}
	m, _, err := e.SendMessage(ctx, models.UserRef{ID: "alice", Username: "alice"}, conv.ID, "fleeting", "", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, err := e.DeleteMessage(ctx, "alice", m.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}

	got, err := e.Get(ctx, conv.ID, "bob")
	if err != nil {
		t.Fatalf("Get failed after deleting the latest message: %v", err)
	}
	if got.LatestMessageID != "" || got.LatestMessage != nil {
		t.Errorf("latest message should be cleared, got id=%q", got.LatestMessageID)
	}
}
