// Package presence tracks who is live in which conversation and pushes
// content-free notifications to their connections.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"e2ee-chat/internal/observability/metrics"
)

var ErrNotAuthorized = errors.New("presence: not a participant")

const DefaultSendBuffer = 32

// Authorizer decides whether a user may join a conversation's live set.
type Authorizer interface {
	CanJoin(ctx context.Context, userID, conversationID string) (bool, error)
}

type AuthorizerFunc func(ctx context.Context, userID, conversationID string) (bool, error)

func (f AuthorizerFunc) CanJoin(ctx context.Context, userID, conversationID string) (bool, error) {
	return f(ctx, userID, conversationID)
}

type Option func(*Hub)

func WithAuthorizer(a Authorizer) Option { return func(h *Hub) { h.authorizer = a } }

func WithRelay(r Relay) Option { return func(h *Hub) { h.relay = r } }

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.log = l } }

// Hub owns both registries: user -> connections and conversation -> users.
// Every read and write of either goes through mu.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	users  map[string]map[*Client]struct{}
	convs  map[string]map[string]struct{}

	authorizer Authorizer
	relay      Relay
	sendBuffer int
	log        *slog.Logger
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		users:      make(map[string]map[*Client]struct{}),
		convs:      make(map[string]map[string]struct{}),
		sendBuffer: DefaultSendBuffer,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start subscribes the hub to its relay, if any. Events published before
// Start returns may be missed.
func (h *Hub) Start(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Subscribe(ctx, h.deliver)
}

// Register adds an authenticated connection for userID and starts its writer.
func (h *Hub) Register(userID string, t Transport) *Client {
	h.mu.Lock()
	h.nextID++
	c := newClient(h.nextID, userID, t, h.sendBuffer)
	set, ok := h.users[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.users[userID] = set
	}
	set[c] = struct{}{}
	c.state.Store(int32(StateRegistered))
	h.mu.Unlock()

	metrics.PresenceConnections.Inc()
	go c.writeLoop(h.fail)
	return c
}

// Disconnect drops c. The user's live memberships are removed and user_left
// is sent to the rest of each conversation.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	set, ok := h.users[c.userID]
	if !ok {
		h.mu.Unlock()
		c.close()
		return
	}
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		c.close()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, c.userID)
	}
	var left []string
	for convID, members := range h.convs {
		if _, ok := members[c.userID]; !ok {
			continue
		}
		delete(members, c.userID)
		if len(members) == 0 {
			delete(h.convs, convID)
		}
		left = append(left, convID)
	}
	h.mu.Unlock()

	c.close()
	metrics.PresenceConnections.Dec()
	sort.Strings(left)
	for _, convID := range left {
		h.publish(convID, c.userID, UserLeftEvent(convID, c.userID))
	}
}

// Join adds userID to the conversation's live set. Repeated joins are no-ops
// and broadcast nothing.
func (h *Hub) Join(ctx context.Context, userID, conversationID string) error {
	if h.authorizer != nil {
		ok, err := h.authorizer.CanJoin(ctx, userID, conversationID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAuthorized
		}
	}
	h.mu.Lock()
	members, ok := h.convs[conversationID]
	if !ok {
		members = make(map[string]struct{})
		h.convs[conversationID] = members
	}
	_, already := members[userID]
	members[userID] = struct{}{}
	h.mu.Unlock()

	if !already {
		h.publish(conversationID, userID, UserJoinedEvent(conversationID, userID))
	}
	return nil
}

func (h *Hub) Leave(userID, conversationID string) {
	h.mu.Lock()
	members, ok := h.convs[conversationID]
	if ok {
		_, ok = members[userID]
		delete(members, userID)
		if len(members) == 0 {
			delete(h.convs, conversationID)
		}
	}
	h.mu.Unlock()

	if ok {
		h.publish(conversationID, userID, UserLeftEvent(conversationID, userID))
	}
}

func (h *Hub) Typing(userID, conversationID string) {
	h.publish(conversationID, userID, UserTypingEvent(conversationID, userID))
}

func (h *Hub) StopTyping(userID, conversationID string) {
	h.publish(conversationID, userID, UserStoppedTypingEvent(conversationID, userID))
}

// BroadcastNewMessage notifies every live connection of every live member,
// the sender's own connections included.
func (h *Hub) BroadcastNewMessage(conversationID string, msg NewMessagePayload) {
	h.publish(conversationID, "", NewMessageEvent(conversationID, msg))
}

// BroadcastRead notifies every live member except the reader.
func (h *Hub) BroadcastRead(conversationID, messageID, userID string) {
	h.publish(conversationID, userID, MessageReadEvent(conversationID, messageID, userID))
}

func (h *Hub) ConnectedUsers() []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.users))
	for u := range h.users {
		out = append(out, u)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}

func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.users[userID]
	return ok
}

// Members returns the users currently live in a conversation.
func (h *Hub) Members(conversationID string) []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.convs[conversationID]))
	for u := range h.convs[conversationID] {
		out = append(out, u)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}

// HandleInbound applies one frame received from c. Unknown or malformed
// frames are ignored.
func (h *Hub) HandleInbound(ctx context.Context, c *Client, raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.ConversationID == "" {
		h.log.Debug("ignoring inbound frame", "user_id", c.userID)
		return
	}
	switch msg.Type {
	case InboundJoin:
		if err := h.Join(ctx, c.userID, msg.ConversationID); err != nil {
			h.log.Warn("join rejected", "user_id", c.userID, "conversation_id", msg.ConversationID, "err", err)
		}
	case InboundLeave:
		h.Leave(c.userID, msg.ConversationID)
	case InboundTyping:
		h.Typing(c.userID, msg.ConversationID)
	case InboundStopTyping:
		h.StopTyping(c.userID, msg.ConversationID)
	default:
		h.log.Debug("ignoring inbound frame", "user_id", c.userID, "type", msg.Type)
	}
}

// Close disconnects every registered client.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.users {
		for c := range set {
			all = append(all, c)
		}
	}
	h.users = make(map[string]map[*Client]struct{})
	h.convs = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close()
		metrics.PresenceConnections.Dec()
	}
}

func (h *Hub) publish(conversationID, exclude string, ev Event) {
	if h.relay == nil {
		h.deliver(Relayed{ConversationID: conversationID, Exclude: exclude, Event: ev})
		return
	}
	if err := h.relay.Publish(context.Background(), Relayed{ConversationID: conversationID, Exclude: exclude, Event: ev}); err != nil {
		h.log.Warn("relay publish failed, delivering locally", "conversation_id", conversationID, "type", ev.Type, "err", err)
		h.deliver(Relayed{ConversationID: conversationID, Exclude: exclude, Event: ev})
	}
}

// deliver queues the event on every local connection of every live member
// except the excluded user. Targets are snapshotted under the lock and
// written outside it. A connection whose queue is full misses the event but
// stays registered; only a failed write prunes it.
func (h *Hub) deliver(r Relayed) {
	h.mu.Lock()
	var targets []*Client
	for userID := range h.convs[r.ConversationID] {
		if userID == r.Exclude {
			continue
		}
		for c := range h.users[userID] {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(r.Event) {
			h.log.Debug("send queue full, dropping event", "user_id", c.userID, "type", r.Event.Type)
			metrics.PresenceDroppedTotal.Inc()
			continue
		}
		metrics.PresenceEventsTotal.WithLabelValues(string(r.Event.Type)).Inc()
	}
}

func (h *Hub) fail(c *Client, err error) {
	h.log.Warn("pruning connection", "user_id", c.userID, "err", err)
	metrics.PresencePrunedTotal.Inc()
	h.Disconnect(c)
}
