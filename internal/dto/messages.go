package dto

import "time"

type SendMessageRequest struct {
	Content          string  `json:"content"`
	Type             string  `json:"type,omitempty"`
	ReplyToMessageID *string `json:"replyToMessageId,omitempty"`
	Metadata         *string `json:"metadata,omitempty"`
}

// EnvelopeIn is one recipient envelope produced by a client-side fan-out.
type EnvelopeIn struct {
	RecipientID    string `json:"recipientId"`
	WrappedContent string `json:"wrappedContent"`
	WrappedKey     string `json:"wrappedKey"`
}

type SendEnvelopesRequest struct {
	Type             string       `json:"type,omitempty"`
	ReplyToMessageID *string      `json:"replyToMessageId,omitempty"`
	Metadata         *string      `json:"metadata,omitempty"`
	Envelopes        []EnvelopeIn `json:"envelopes"`
}

type SendMessageResponse struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
	Recipients     int       `json:"recipients"`
}

// EnvelopeView is the caller's own envelope.
type EnvelopeView struct {
	WrappedContent string `json:"wrappedContent"`
	WrappedKey     string `json:"wrappedKey"`
}

type MessageView struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Type           string        `json:"type"`
	ReplyToID      *string       `json:"replyToMessageId,omitempty"`
	Metadata       *string       `json:"metadata,omitempty"`
	IsEdited       bool          `json:"isEdited"`
	IsDeleted      bool          `json:"isDeleted"`
	CreatedAt      time.Time     `json:"createdAt"`
	Envelope       *EnvelopeView `json:"envelope"`
}

type MessagesResponse struct {
	Messages []MessageView `json:"messages"`
}
