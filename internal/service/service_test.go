package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"e2ee-chat/internal/cryptocore"
	"e2ee-chat/internal/db"
	"e2ee-chat/internal/domain"
	"e2ee-chat/internal/dto"
	"e2ee-chat/internal/fanout"
	"e2ee-chat/internal/keystore"
	"e2ee-chat/internal/presence"
	"e2ee-chat/internal/service"
	"e2ee-chat/internal/store"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []presence.NewMessagePayload
	reads    []string
}

func (r *recordingNotifier) BroadcastNewMessage(_ string, msg presence.NewMessagePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingNotifier) BroadcastRead(_, messageID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, messageID+"/"+userID)
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type env struct {
	svc      *service.Service
	store    *store.Store
	db       *gorm.DB
	notifier *recordingNotifier
}

func setupService(t *testing.T) env {
	t.Helper()
	gdb, err := db.OpenGorm(db.Config{
		Driver: db.DriverSQLite,
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	st := store.New(gdb)
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	n := &recordingNotifier{}
	clock := &stepClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc := service.New(st, fanout.NewEncryptor(keystore.New(nil), 4),
		service.WithNotifier(n),
		service.WithClock(clock.Now),
		service.WithMaxMessageLength(200),
	)
	return env{svc: svc, store: st, db: gdb, notifier: n}
}

var (
	keysOnce sync.Once
	keyPool  []*keystore.Keypair
)

// user is a participant with an identity keypair from a shared pool.
type user struct {
	id  string
	kp  *keystore.Keypair
	pem string
}

func newUser(t *testing.T, idx int) user {
	t.Helper()
	keysOnce.Do(func() {
		for i := 0; i < 4; i++ {
			kp, err := keystore.GenerateKeypair()
			if err != nil {
				panic(err)
			}
			keyPool = append(keyPool, kp)
		}
	})
	kp := keyPool[idx%len(keyPool)]
	pem, err := keystore.ExportPublic(kp.Public)
	if err != nil {
		t.Fatalf("ExportPublic: %v", err)
	}
	return user{id: uuid.NewString(), kp: kp, pem: pem}
}

func publish(t *testing.T, e env, users ...user) {
	t.Helper()
	for _, u := range users {
		if err := e.svc.SetPublicKey(context.Background(), u.id, "", u.pem); err != nil {
			t.Fatalf("SetPublicKey: %v", err)
		}
	}
}

func createConversation(t *testing.T, e env, kind string, creator user, others ...user) string {
	t.Helper()
	ids := make([]string, 0, len(others))
	for _, o := range others {
		ids = append(ids, o.id)
	}
	conv, err := e.svc.CreateConversation(context.Background(), creator.id, "", dto.CreateConversationRequest{Type: kind, ParticipantUserIDs: ids})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conv.ID
}

func count(t *testing.T, e env, model any) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func decrypt(t *testing.T, v dto.MessageView, u user) string {
	t.Helper()
	if v.Envelope == nil {
		t.Fatalf("message %s has no envelope", v.ID)
	}
	pt, err := cryptocore.OpenEnvelope(v.Envelope.WrappedContent, v.Envelope.WrappedKey, u.kp.Private)
	if err != nil {
		t.Fatalf("OpenEnvelope: %v", err)
	}
	return string(pt)
}

func TestAliceSendsBobReads(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob := newUser(t, 0), newUser(t, 1)
	publish(t, e, alice, bob)
	convID := createConversation(t, e, "direct", alice, bob)

	resp, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "Hello Bob"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Recipients != 2 {
		t.Fatalf("expected 2 envelopes, got %d", resp.Recipients)
	}
	if got := count(t, e, &domain.MessageEnvelope{}); got != 2 {
		t.Fatalf("envelope rows: %d", got)
	}
	if got := count(t, e, &domain.DeliveryRecord{}); got != 1 {
		t.Fatalf("delivery rows: %d", got)
	}
	if len(e.notifier.messages) != 1 || e.notifier.messages[0].ID != resp.MessageID || e.notifier.messages[0].SenderID != alice.id {
		t.Fatalf("unexpected notifications: %+v", e.notifier.messages)
	}

	bobView, err := e.svc.GetMessages(ctx, convID, bob.id, 0, "")
	if err != nil {
		t.Fatalf("GetMessages(bob): %v", err)
	}
	if len(bobView.Messages) != 1 {
		t.Fatalf("bob sees %d messages", len(bobView.Messages))
	}
	if got := decrypt(t, bobView.Messages[0], bob); got != "Hello Bob" {
		t.Fatalf("bob decrypted %q", got)
	}

	aliceView, err := e.svc.GetMessages(ctx, convID, alice.id, 0, "")
	if err != nil {
		t.Fatalf("GetMessages(alice): %v", err)
	}
	if got := decrypt(t, aliceView.Messages[0], alice); got != "Hello Bob" {
		t.Fatalf("alice decrypted %q", got)
	}
	if aliceView.Messages[0].Envelope.WrappedKey == bobView.Messages[0].Envelope.WrappedKey {
		t.Fatalf("callers must receive their own envelope")
	}
	be := bobView.Messages[0].Envelope
	if _, err := cryptocore.OpenEnvelope(be.WrappedContent, be.WrappedKey, alice.kp.Private); !errors.Is(err, cryptocore.ErrUnwrapFailed) {
		t.Fatalf("alice must not open bob's envelope: %v", err)
	}

	msgID, _ := uuid.Parse(resp.MessageID)
	bobID, _ := uuid.Parse(bob.id)
	rec, err := e.store.Deliveries().Get(ctx, msgID, bobID)
	if err != nil {
		t.Fatalf("delivery: %v", err)
	}
	if rec.DeliveredAt == nil || rec.ReadAt != nil {
		t.Fatalf("fetch should mark delivered only: %+v", rec)
	}
	delivered := *rec.DeliveredAt

	if err := e.svc.MarkRead(ctx, resp.MessageID, bob.id); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	rec, _ = e.store.Deliveries().Get(ctx, msgID, bobID)
	if rec.ReadAt == nil || !rec.DeliveredAt.Equal(delivered) {
		t.Fatalf("unexpected record after read: %+v", rec)
	}
	if len(e.notifier.reads) != 1 || e.notifier.reads[0] != resp.MessageID+"/"+bob.id {
		t.Fatalf("unexpected read notifications: %v", e.notifier.reads)
	}

	if err := e.svc.MarkRead(ctx, resp.MessageID, alice.id); err != nil {
		t.Fatalf("MarkRead(sender): %v", err)
	}
	if len(e.notifier.reads) != 1 {
		t.Fatalf("sender mark-read should not broadcast")
	}
}

func TestMissingRecipientKeyStoresNothing(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob, carol := newUser(t, 0), newUser(t, 1), newUser(t, 2)
	publish(t, e, alice, bob)
	convID := createConversation(t, e, "group", alice, bob, carol)

	_, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "hi all"})
	if !errors.Is(err, service.ErrMissingRecipientKey) {
		t.Fatalf("expected ErrMissingRecipientKey, got %v", err)
	}
	if !strings.Contains(err.Error(), carol.id) {
		t.Fatalf("error should name carol: %v", err)
	}
	if count(t, e, &domain.Message{}) != 0 || count(t, e, &domain.MessageEnvelope{}) != 0 || count(t, e, &domain.DeliveryRecord{}) != 0 {
		t.Fatalf("nothing may be stored on failure")
	}
	if len(e.notifier.messages) != 0 {
		t.Fatalf("no broadcast on failure")
	}
}

func TestMalformedStoredKeyAbortsFanout(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob := newUser(t, 0), newUser(t, 1)
	publish(t, e, alice, bob)
	convID := createConversation(t, e, "direct", alice, bob)

	bobID, _ := uuid.Parse(bob.id)
	if err := e.store.Users().SetPublicKey(ctx, bobID, "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n", time.Now()); err != nil {
		t.Fatalf("corrupt key: %v", err)
	}
	_, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "hi"})
	if !errors.Is(err, fanout.ErrFanoutEncryptionFailed) {
		t.Fatalf("expected ErrFanoutEncryptionFailed, got %v", err)
	}
	if count(t, e, &domain.Message{}) != 0 || count(t, e, &domain.MessageEnvelope{}) != 0 {
		t.Fatalf("nothing may be stored on failure")
	}
}

func TestStorageFailureRollsBackWholeSend(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob := newUser(t, 0), newUser(t, 1)
	publish(t, e, alice, bob)
	convID := createConversation(t, e, "direct", alice, bob)

	diskFull := errors.New("disk full")
	err := e.db.Callback().Create().Before("gorm:create").Register("test:fail_deliveries", func(tx *gorm.DB) {
		if tx.Statement.Table == (domain.DeliveryRecord{}).TableName() {
			_ = tx.AddError(diskFull)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "hi"})
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if count(t, e, &domain.Message{}) != 0 || count(t, e, &domain.MessageEnvelope{}) != 0 || count(t, e, &domain.DeliveryRecord{}) != 0 {
		t.Fatalf("partial send persisted")
	}
	if len(e.notifier.messages) != 0 {
		t.Fatalf("no broadcast on failure")
	}
}

func TestSendValidation(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob, mallory := newUser(t, 0), newUser(t, 1), newUser(t, 3)
	publish(t, e, alice, bob, mallory)
	convID := createConversation(t, e, "direct", alice, bob)

	cases := []struct {
		name string
		in   service.SendInput
		want error
	}{
		{"suspicious", service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "<script>x</script>"}, service.ErrSuspiciousContent},
		{"too long", service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: strings.Repeat("a", 201)}, service.ErrContentTooLong},
		{"empty", service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "   "}, service.ErrInvalidRequest},
		{"bad type", service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "x", Type: "video"}, service.ErrInvalidRequest},
		{"bad conversation id", service.SendInput{ConversationID: "nope", SenderID: alice.id, Plaintext: "x"}, service.ErrInvalidRequest},
		{"outsider", service.SendInput{ConversationID: convID, SenderID: mallory.id, Plaintext: "x"}, service.ErrNotAuthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.svc.SendMessage(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := e.svc.GetMessages(ctx, convID, mallory.id, 10, ""); !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("outsider read: expected ErrNotAuthorized, got %v", err)
	}
	if count(t, e, &domain.Message{}) != 0 {
		t.Fatalf("rejected sends must not store anything")
	}
}

func TestSanitizedContentIsEncrypted(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob := newUser(t, 0), newUser(t, 1)
	publish(t, e, alice, bob)
	convID := createConversation(t, e, "direct", alice, bob)

	if _, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "<b>bold</b> <strong>ok</strong>"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	view, err := e.svc.GetMessages(ctx, convID, bob.id, 1, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if got := decrypt(t, view.Messages[0], bob); got != "bold <strong>ok</strong>" {
		t.Fatalf("unexpected sanitized plaintext %q", got)
	}
}

func TestGetMessagesPaging(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob := newUser(t, 0), newUser(t, 1)
	publish(t, e, alice, bob)
	convID := createConversation(t, e, "direct", alice, bob)

	var ids []string
	for i := 0; i < 5; i++ {
		resp, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "m"})
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		ids = append(ids, resp.MessageID)
	}

	page, err := e.svc.GetMessages(ctx, convID, bob.id, 2, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].ID != ids[4] || page.Messages[1].ID != ids[3] {
		t.Fatalf("unexpected first page")
	}
	page, err = e.svc.GetMessages(ctx, convID, bob.id, 2, page.Messages[1].ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].ID != ids[2] || page.Messages[1].ID != ids[1] {
		t.Fatalf("unexpected second page")
	}

	page, err = e.svc.GetMessages(ctx, convID, bob.id, 1000, uuid.NewString())
	if err != nil {
		t.Fatalf("GetMessages(unknown cursor): %v", err)
	}
	if len(page.Messages) != 5 {
		t.Fatalf("unknown cursor should not filter, got %d", len(page.Messages))
	}

	unread, err := e.svc.UnreadCount(ctx, convID, bob.id)
	if err != nil || unread.Unread != 5 {
		t.Fatalf("unread: %+v %v", unread, err)
	}
	if err := e.svc.MarkRead(ctx, ids[0], bob.id); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	unread, _ = e.svc.UnreadCount(ctx, convID, bob.id)
	if unread.Unread != 4 {
		t.Fatalf("unread after read: %d", unread.Unread)
	}
}

func TestLateJoinerAndLeaver(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob, dave := newUser(t, 0), newUser(t, 1), newUser(t, 2)
	publish(t, e, alice, bob, dave)
	convID := createConversation(t, e, "group", alice, bob)

	if _, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "before dave"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := e.svc.AddParticipant(ctx, convID, alice.id, dave.id); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	view, err := e.svc.GetMessages(ctx, convID, dave.id, 10, "")
	if err != nil {
		t.Fatalf("GetMessages(dave): %v", err)
	}
	if len(view.Messages) != 1 || view.Messages[0].Envelope != nil {
		t.Fatalf("late joiner should see metadata without an envelope: %+v", view.Messages)
	}

	if err := e.svc.LeaveConversation(ctx, convID, bob.id); err != nil {
		t.Fatalf("LeaveConversation: %v", err)
	}
	resp, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "after bob"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Recipients != 2 {
		t.Fatalf("expected alice and dave only, got %d", resp.Recipients)
	}
	if _, err := e.svc.GetMessages(ctx, convID, bob.id, 10, ""); !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("leaver read: expected ErrNotAuthorized, got %v", err)
	}
	if err := e.svc.LeaveConversation(ctx, convID, bob.id); !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("second leave: expected ErrNotAuthorized, got %v", err)
	}
}

func TestSendEnvelopes(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob := newUser(t, 0), newUser(t, 1)
	publish(t, e, alice, bob)
	convID := createConversation(t, e, "direct", alice, bob)

	enc := fanout.NewEncryptor(keystore.New(nil), 2)
	envs, err := enc.EncryptForRecipients(ctx, []byte("client side"), []fanout.Recipient{
		{ID: alice.id, PublicKey: alice.pem},
		{ID: bob.id, PublicKey: bob.pem},
	})
	if err != nil {
		t.Fatalf("EncryptForRecipients: %v", err)
	}
	toDTO := func(envs []fanout.Envelope) []dto.EnvelopeIn {
		out := make([]dto.EnvelopeIn, 0, len(envs))
		for _, e := range envs {
			out = append(out, dto.EnvelopeIn{RecipientID: e.RecipientID, WrappedContent: e.WrappedContent, WrappedKey: e.WrappedKey})
		}
		return out
	}

	_, err = e.svc.SendEnvelopes(ctx, service.EnvelopeInput{ConversationID: convID, SenderID: alice.id, Envelopes: toDTO(envs[:1])})
	if !errors.Is(err, service.ErrEnvelopeSetMismatch) {
		t.Fatalf("expected ErrEnvelopeSetMismatch, got %v", err)
	}
	bad := toDTO(envs)
	bad[1].WrappedKey = "!!"
	if _, err := e.svc.SendEnvelopes(ctx, service.EnvelopeInput{ConversationID: convID, SenderID: alice.id, Envelopes: bad}); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	resp, err := e.svc.SendEnvelopes(ctx, service.EnvelopeInput{ConversationID: convID, SenderID: alice.id, Envelopes: toDTO(envs)})
	if err != nil {
		t.Fatalf("SendEnvelopes: %v", err)
	}
	view, err := e.svc.GetMessages(ctx, convID, bob.id, 10, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(view.Messages) != 1 || view.Messages[0].ID != resp.MessageID {
		t.Fatalf("unexpected messages: %+v", view.Messages)
	}
	if got := decrypt(t, view.Messages[0], bob); got != "client side" {
		t.Fatalf("bob decrypted %q", got)
	}
}

func TestDeleteMessage(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob := newUser(t, 0), newUser(t, 1)
	publish(t, e, alice, bob)
	convID := createConversation(t, e, "direct", alice, bob)
	resp, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: convID, SenderID: alice.id, Plaintext: "oops"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := e.svc.DeleteMessage(ctx, resp.MessageID, bob.id); !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := e.svc.DeleteMessage(ctx, uuid.NewString(), alice.id); !errors.Is(err, service.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
	if err := e.svc.DeleteMessage(ctx, resp.MessageID, alice.id); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	view, err := e.svc.GetMessages(ctx, convID, bob.id, 10, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if !view.Messages[0].IsDeleted || view.Messages[0].Envelope != nil {
		t.Fatalf("deleted message should carry no envelope: %+v", view.Messages[0])
	}
	if count(t, e, &domain.MessageEnvelope{}) != 2 {
		t.Fatalf("soft delete keeps envelopes")
	}
}

func TestMarkReadUnknownMessage(t *testing.T) {
	e := setupService(t)
	if err := e.svc.MarkRead(context.Background(), uuid.NewString(), uuid.NewString()); !errors.Is(err, service.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestPublicKeyDirectory(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice := newUser(t, 0)

	if err := e.svc.SetPublicKey(ctx, alice.id, "Alice", "not a key"); !errors.Is(err, service.ErrInvalidKeyFormat) {
		t.Fatalf("expected ErrInvalidKeyFormat, got %v", err)
	}
	if _, err := e.svc.GetPublicKey(ctx, alice.id); !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := e.svc.SetPublicKey(ctx, alice.id, "Alice", alice.pem); err != nil {
		t.Fatalf("SetPublicKey: %v", err)
	}
	got, err := e.svc.GetPublicKey(ctx, alice.id)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	if got.PublicKey == nil || *got.PublicKey != alice.pem || got.UpdatedAt == nil {
		t.Fatalf("unexpected key response: %+v", got)
	}

	keys, err := e.svc.GetPublicKeys(ctx, nil)
	if err != nil || keys.Keys == nil || len(keys.Keys) != 0 {
		t.Fatalf("empty lookup: %+v %v", keys, err)
	}
	keys, err = e.svc.GetPublicKeys(ctx, []string{alice.id, uuid.NewString()})
	if err != nil || len(keys.Keys) != 1 || keys.Keys[0].UserID != alice.id {
		t.Fatalf("lookup: %+v %v", keys, err)
	}
}

func TestConversationManagement(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	alice, bob, carol := newUser(t, 0), newUser(t, 1), newUser(t, 2)
	publish(t, e, alice, bob, carol)

	if _, err := e.svc.CreateConversation(ctx, alice.id, "", dto.CreateConversationRequest{Type: "direct", ParticipantUserIDs: []string{bob.id, carol.id}}); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("direct with two others: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := e.svc.CreateConversation(ctx, alice.id, "", dto.CreateConversationRequest{Type: "group", ParticipantUserIDs: []string{alice.id}}); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("self-only conversation: expected ErrInvalidRequest, got %v", err)
	}

	first := createConversation(t, e, "direct", alice, bob)
	second := createConversation(t, e, "group", alice, bob, carol)
	if _, err := e.svc.SendMessage(ctx, service.SendInput{ConversationID: first, SenderID: bob.id, Plaintext: "bump"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	list, err := e.svc.ListConversations(ctx, alice.id)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list.Conversations) != 2 || list.Conversations[0].ID != first || list.Conversations[1].ID != second {
		t.Fatalf("conversations should be ordered by activity: %+v", list.Conversations)
	}

	parts, err := e.svc.Participants(ctx, second, carol.id)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(parts.Participants) != 3 {
		t.Fatalf("unexpected participants: %+v", parts.Participants)
	}
	for _, p := range parts.Participants {
		if p.IsAdmin != (p.UserID == alice.id) {
			t.Fatalf("only the creator is admin: %+v", p)
		}
		if p.PublicKey == nil {
			t.Fatalf("participant %s should carry a key", p.UserID)
		}
	}
	if err := e.svc.AddParticipant(ctx, first, alice.id, carol.id); !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("adding to direct: expected ErrInvalidRequest, got %v", err)
	}

	ok, err := e.svc.CanJoin(ctx, carol.id, second)
	if err != nil || !ok {
		t.Fatalf("carol should be able to join: %v %v", ok, err)
	}
	ok, err = e.svc.CanJoin(ctx, carol.id, first)
	if err != nil || ok {
		t.Fatalf("carol is not a participant of the direct conversation: %v %v", ok, err)
	}
}
