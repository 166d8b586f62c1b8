package dto

import "time"

type SetPublicKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

type PublicKeyResponse struct {
	UserID    string     `json:"userId"`
	PublicKey *string    `json:"publicKey"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type PublicKeysRequest struct {
	UserIDs []string `json:"userIds"`
}

type PublicKeysResponse struct {
	Keys []PublicKeyResponse `json:"keys"`
}
