package dto

import "time"

type CreateConversationRequest struct {
	Type               string   `json:"type"`
	Name               *string  `json:"name,omitempty"`
	Description        *string  `json:"description,omitempty"`
	ParticipantUserIDs []string `json:"participantUserIds"`
}

type ConversationResponse struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Name            *string   `json:"name,omitempty"`
	Description     *string   `json:"description,omitempty"`
	CreatedByUserID string    `json:"createdByUserId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type ConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

type ParticipantResponse struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	PublicKey   *string   `json:"publicKey"`
	IsAdmin     bool      `json:"isAdmin"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type ParticipantsResponse struct {
	Participants []ParticipantResponse `json:"participants"`
}

type AddParticipantRequest struct {
	UserID string `json:"userId"`
}

type UnreadCountResponse struct {
	ConversationID string `json:"conversationId"`
	Unread         int64  `json:"unread"`
}
