package models

import "time"

// Credential is a persisted key/value pair in the local state database.
// The bearer token is stored under CredentialTokenKey.
type Credential struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// CredentialTokenKey is the well-known key holding the bearer token.
const CredentialTokenKey = "token"
