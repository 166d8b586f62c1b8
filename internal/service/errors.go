package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNotAuthorized        = errors.New("not authorized for this conversation")
	ErrMissingRecipientKey  = errors.New("recipient has no public key")
	ErrInvalidKeyFormat     = errors.New("invalid public key format")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrSuspiciousContent    = errors.New("message content contains potentially dangerous elements")
	ErrContentTooLong       = errors.New("message content too long")
	ErrEnvelopeSetMismatch  = errors.New("envelopes do not match the active participants")
	ErrParticipantsChanged  = errors.New("participants changed during send")
)
