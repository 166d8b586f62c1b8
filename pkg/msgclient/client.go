// Package msgclient is the client side of the chat API: a typed HTTP client,
// a live event listener, local fan-out for client-encrypted sends and the
// reader that turns envelopes back into plaintext.
package msgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"e2ee-chat/internal/dto"
	"e2ee-chat/internal/fanout"
	"e2ee-chat/internal/keystore"
)

var ErrMissingRecipientKey = errors.New("msgclient: recipient has no public key")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("msgclient: server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("msgclient: %s (%d): %s", e.Code, e.Status, e.Message)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithEncryptor(enc *fanout.Encryptor) Option { return func(c *Client) { c.enc = enc } }

type Client struct {
	baseURL string
	userID  string
	token   string
	http    *http.Client
	enc     *fanout.Encryptor
}

func NewClient(baseURL, userID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		userID:  userID,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.enc == nil {
		c.enc = fanout.NewEncryptor(keystore.New(nil), fanout.DefaultConcurrency)
	}
	return c
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
			if apiErr.Message == "" {
				apiErr.Message = resp.Status
			}
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) PublishKey(ctx context.Context, publicKey string) (dto.PublicKeyResponse, error) {
	var res dto.PublicKeyResponse
	err := c.do(ctx, http.MethodPost, "/v1/keys", dto.SetPublicKeyRequest{PublicKey: publicKey}, &res)
	return res, err
}

func (c *Client) PublicKey(ctx context.Context, userID string) (dto.PublicKeyResponse, error) {
	var res dto.PublicKeyResponse
	err := c.do(ctx, http.MethodGet, "/v1/keys/"+url.PathEscape(userID), nil, &res)
	return res, err
}

func (c *Client) LookupKeys(ctx context.Context, userIDs []string) (dto.PublicKeysResponse, error) {
	var res dto.PublicKeysResponse
	err := c.do(ctx, http.MethodPost, "/v1/keys/lookup", dto.PublicKeysRequest{UserIDs: userIDs}, &res)
	return res, err
}

func (c *Client) CreateConversation(ctx context.Context, req dto.CreateConversationRequest) (dto.ConversationResponse, error) {
	var res dto.ConversationResponse
	err := c.do(ctx, http.MethodPost, "/v1/conversations", req, &res)
	return res, err
}

func (c *Client) Conversations(ctx context.Context) (dto.ConversationsResponse, error) {
	var res dto.ConversationsResponse
	err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &res)
	return res, err
}

func (c *Client) Participants(ctx context.Context, conversationID string) (dto.ParticipantsResponse, error) {
	var res dto.ParticipantsResponse
	err := c.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(conversationID)+"/participants", nil, &res)
	return res, err
}

func (c *Client) AddParticipant(ctx context.Context, conversationID, userID string) error {
	return c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/participants", dto.AddParticipantRequest{UserID: userID}, nil)
}

func (c *Client) Leave(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/conversations/"+url.PathEscape(conversationID)+"/participants/me", nil, nil)
}

// Send posts plaintext for server-side fan-out.
func (c *Client) Send(ctx context.Context, conversationID string, req dto.SendMessageRequest) (dto.SendMessageResponse, error) {
	var res dto.SendMessageResponse
	err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages", req, &res)
	return res, err
}

func (c *Client) SendEnvelopes(ctx context.Context, conversationID string, req dto.SendEnvelopesRequest) (dto.SendMessageResponse, error) {
	var res dto.SendMessageResponse
	err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/envelopes", req, &res)
	return res, err
}

// SendEncrypted encrypts plaintext locally for every active participant and
// posts only the envelopes, so the server never sees the plaintext.
func (c *Client) SendEncrypted(ctx context.Context, conversationID, plaintext string) (dto.SendMessageResponse, error) {
	parts, err := c.Participants(ctx, conversationID)
	if err != nil {
		return dto.SendMessageResponse{}, err
	}
	var missing []string
	recipients := make([]fanout.Recipient, 0, len(parts.Participants))
	for _, p := range parts.Participants {
		if p.PublicKey == nil || *p.PublicKey == "" {
			missing = append(missing, p.UserID)
			continue
		}
		recipients = append(recipients, fanout.Recipient{ID: p.UserID, PublicKey: *p.PublicKey})
	}
	if len(missing) > 0 {
		return dto.SendMessageResponse{}, fmt.Errorf("%w: %s", ErrMissingRecipientKey, strings.Join(missing, ", "))
	}
	envs, err := c.enc.EncryptForRecipients(ctx, []byte(plaintext), recipients)
	if err != nil {
		return dto.SendMessageResponse{}, err
	}
	req := dto.SendEnvelopesRequest{Envelopes: make([]dto.EnvelopeIn, 0, len(envs))}
	for _, e := range envs {
		req.Envelopes = append(req.Envelopes, dto.EnvelopeIn{RecipientID: e.RecipientID, WrappedContent: e.WrappedContent, WrappedKey: e.WrappedKey})
	}
	return c.SendEnvelopes(ctx, conversationID, req)
}

func (c *Client) Messages(ctx context.Context, conversationID string, limit int, before string) (dto.MessagesResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var res dto.MessagesResponse
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	return res, err
}

func (c *Client) Unread(ctx context.Context, conversationID string) (dto.UnreadCountResponse, error) {
	var res dto.UnreadCountResponse
	err := c.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(conversationID)+"/unread", nil, &res)
	return res, err
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(messageID), nil, nil)
}
