package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// User is the public-key directory entry. Identity itself is owned by the
// external auth system.
type User struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DisplayName        string     `gorm:"type:text;not null;default:''"`
	PublicKey          *string    `gorm:"type:text"`
	PublicKeyUpdatedAt *time.Time
	CreatedAt          time.Time  `gorm:"not null;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"not null;autoUpdateTime"`
}

func (User) TableName() string { return "users" }

type Conversation struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Type            ConversationType `gorm:"type:text;not null"`
	Name            *string          `gorm:"type:text"`
	Description     *string          `gorm:"type:text"`
	CreatedByUserID uuid.UUID        `gorm:"type:uuid;not null"`
	CreatedAt       time.Time        `gorm:"not null;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"not null;autoUpdateTime"`
}

func (Conversation) TableName() string { return "conversations" }

// Participant is active while LeftAt is nil.
type Participant struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_participant_conv_user"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_participant_conv_user;index"`
	JoinedAt       time.Time  `gorm:"not null"`
	LeftAt         *time.Time
	IsAdmin        bool       `gorm:"not null;default:false"`
}

func (Participant) TableName() string { return "conversation_participants" }

// Message holds metadata only. Content lives in per-recipient envelopes.
type Message struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID   `gorm:"type:uuid;not null;index:idx_message_conv_created,priority:1"`
	SenderID       uuid.UUID   `gorm:"type:uuid;not null"`
	Type           MessageType `gorm:"type:text;not null"`
	ReplyToID      *uuid.UUID  `gorm:"type:uuid"`
	Metadata       *string     `gorm:"type:text"`
	IsEdited       bool        `gorm:"not null;default:false"`
	IsDeleted      bool        `gorm:"not null;default:false"`
	CreatedAt      time.Time   `gorm:"not null;index:idx_message_conv_created,priority:2"`
	UpdatedAt      time.Time   `gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

type MessageEnvelope struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_envelope_msg_recipient"`
	RecipientID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_envelope_msg_recipient"`
	WrappedContent string    `gorm:"type:text;not null"`
	WrappedKey     string    `gorm:"type:text;not null"`
}

func (MessageEnvelope) TableName() string { return "message_envelopes" }

// DeliveryRecord moves forward only: unset, delivered, read.
type DeliveryRecord struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	MessageID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_delivery_msg_user"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_delivery_msg_user;index"`
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

func (DeliveryRecord) TableName() string { return "message_delivery_records" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Conversation{},
		&Participant{},
		&Message{},
		&MessageEnvelope{},
		&DeliveryRecord{},
	}
}
