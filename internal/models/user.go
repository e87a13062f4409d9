package models

import "time"

// User represents a registered account in the system
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Not serialized
	APIKey       *APIKey   `json:"apiKey,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIKey is an optional per-user key with a usage budget.
// No request flow consumes it yet; it is provisioned on demand.
type APIKey struct {
	Key      string `json:"key"`
	Usages   int    `json:"usages"`
	Capacity int    `json:"capacity"`
}
