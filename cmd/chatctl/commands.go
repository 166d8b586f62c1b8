package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"e2ee-chat/internal/dto"
	"e2ee-chat/internal/jwtsigner"
	"e2ee-chat/internal/keystore"
	"e2ee-chat/internal/presence"
	"e2ee-chat/pkg/msgclient"
)

func (a args) client() (*msgclient.Client, error) {
	if strings.TrimSpace(a.User) == "" {
		return nil, errors.New("--user is required")
	}
	if strings.TrimSpace(a.Token) == "" {
		return nil, errors.New("--token is required")
	}
	return msgclient.NewClient(a.Server, a.User, a.Token), nil
}

func (a args) openKeys() (*keystore.KeyStore, func(), error) {
	if a.Passphrase == "" {
		return nil, nil, errors.New("--passphrase is required to open the local key store")
	}
	bs, err := keystore.OpenBadger(a.KeyDir, a.Passphrase)
	if err != nil {
		return nil, nil, err
	}
	return keystore.New(bs), func() { _ = bs.Close() }, nil
}

func runKeygen(ctx context.Context, a args) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	ks, closeKeys, err := a.openKeys()
	if err != nil {
		return err
	}
	defer closeKeys()

	existing, err := ks.LoadPrivate(ctx, a.User)
	if err != nil {
		return err
	}
	if existing != nil && !a.Keygen.Rotate {
		return errors.New("a private key already exists for this user; pass --rotate to replace it")
	}
	kp, err := keystore.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	pem, err := keystore.ExportPublic(kp.Public)
	if err != nil {
		return err
	}
	if err := ks.PersistPrivate(ctx, a.User, kp.Private); err != nil {
		return fmt.Errorf("store private key: %w", err)
	}
	res, err := c.PublishKey(ctx, pem)
	if err != nil {
		return fmt.Errorf("publish public key: %w", err)
	}
	fmt.Printf("public key published for %s", res.UserID)
	if res.UpdatedAt != nil {
		fmt.Printf(" at %s", res.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func runToken(a args) error {
	ttl, err := time.ParseDuration(a.Mint.TTL)
	if err != nil {
		return fmt.Errorf("invalid --ttl: %w", err)
	}
	user := a.User
	if user == "" {
		user = uuid.NewString()
	}
	signer, err := jwtsigner.NewFromBase64(a.Mint.SigningKey, "dev", a.Mint.Issuer)
	if err != nil {
		return err
	}
	tok, err := signer.SignSession(user, a.Mint.Name, ttl)
	if err != nil {
		return err
	}
	if a.Mint.SigningKey == "" {
		fmt.Println("signing key (CHAT_SIGNING_KEY):", signer.PrivateKeyBase64())
		fmt.Println("public key (CHAT_AUTH_ED25519_PUBLIC_KEY):", signer.PublicKeyBase64())
	}
	fmt.Println("user:", user)
	fmt.Println("token:", tok)
	return nil
}

func runCreate(ctx context.Context, a args) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	req := dto.CreateConversationRequest{Type: a.Create.Type, ParticipantUserIDs: a.Create.Participants}
	if a.Create.Name != "" {
		req.Name = &a.Create.Name
	}
	conv, err := c.CreateConversation(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(conv.ID)
	return nil
}

func runSend(ctx context.Context, a args) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	var res dto.SendMessageResponse
	if a.Send.ServerSide {
		res, err = c.Send(ctx, a.Send.Conversation, dto.SendMessageRequest{Content: a.Send.Message})
	} else {
		res, err = c.SendEncrypted(ctx, a.Send.Conversation, a.Send.Message)
	}
	if err != nil {
		return err
	}
	fmt.Printf("sent %s to %d recipients\n", res.MessageID, res.Recipients)
	return nil
}

func runRead(ctx context.Context, a args) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	ks, closeKeys, err := a.openKeys()
	if err != nil {
		return err
	}
	defer closeKeys()

	msgs, err := msgclient.NewReader(ks, c).Fetch(ctx, a.Read.Conversation, a.Read.Limit, a.Read.Before)
	if err != nil {
		return err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		text := m.Text()
		if m.Message.IsDeleted {
			text = "(deleted)"
		}
		fmt.Printf("%s  %s  %s: %s\n", m.Message.CreatedAt.Local().Format("2006-01-02 15:04"), m.Message.ID, m.Message.SenderID, text)
	}
	return nil
}

func runMarkRead(ctx context.Context, a args) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	return c.MarkRead(ctx, a.MarkRead.Message)
}

func runListen(ctx context.Context, a args) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	return c.Listen(ctx, a.Listen.Conversations, func(ev presence.Event) {
		switch ev.Type {
		case presence.KindNewMessage:
			name := ev.UserID
			if ev.Message != nil && ev.Message.SenderName != "" {
				name = ev.Message.SenderName
			}
			fmt.Printf("[%s] new message %s from %s\n", ev.ConversationID, ev.MessageID, name)
		case presence.KindMessageRead:
			fmt.Printf("[%s] %s read %s\n", ev.ConversationID, ev.UserID, ev.MessageID)
		default:
			fmt.Printf("[%s] %s %s\n", ev.ConversationID, ev.UserID, ev.Type)
		}
	})
}
