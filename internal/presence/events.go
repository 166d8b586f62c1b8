package presence

import "time"

// Kind is the closed set of outbound event types.
type Kind string

const (
	KindNewMessage        Kind = "new_message"
	KindMessageRead       Kind = "message_read"
	KindUserTyping        Kind = "user_typing"
	KindUserStoppedTyping Kind = "user_stopped_typing"
	KindUserJoined        Kind = "user_joined"
	KindUserLeft          Kind = "user_left"
)

// NewMessagePayload describes a stored message without any of its content.
type NewMessagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName,omitempty"`
	Type           string    `json:"type"`
	ReplyToID      *string   `json:"replyToMessageId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Event is one outbound socket frame. Build it with the constructors below.
type Event struct {
	Type           Kind               `json:"type"`
	ConversationID string             `json:"conversationId"`
	UserID         string             `json:"userId,omitempty"`
	MessageID      string             `json:"messageId,omitempty"`
	Message        *NewMessagePayload `json:"message,omitempty"`
}

func NewMessageEvent(conversationID string, msg NewMessagePayload) Event {
	return Event{Type: KindNewMessage, ConversationID: conversationID, UserID: msg.SenderID, MessageID: msg.ID, Message: &msg}
}

func MessageReadEvent(conversationID, messageID, userID string) Event {
	return Event{Type: KindMessageRead, ConversationID: conversationID, MessageID: messageID, UserID: userID}
}

func UserTypingEvent(conversationID, userID string) Event {
	return Event{Type: KindUserTyping, ConversationID: conversationID, UserID: userID}
}

func UserStoppedTypingEvent(conversationID, userID string) Event {
	return Event{Type: KindUserStoppedTyping, ConversationID: conversationID, UserID: userID}
}

func UserJoinedEvent(conversationID, userID string) Event {
	return Event{Type: KindUserJoined, ConversationID: conversationID, UserID: userID}
}

func UserLeftEvent(conversationID, userID string) Event {
	return Event{Type: KindUserLeft, ConversationID: conversationID, UserID: userID}
}

// Inbound frame types a client may send.
const (
	InboundJoin       = "join_conversation"
	InboundLeave      = "leave_conversation"
	InboundTyping     = "typing"
	InboundStopTyping = "stop_typing"
)

type InboundMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}
