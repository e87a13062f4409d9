package models

import "time"

// Form is a named submission target owned by a user.
// The formId is caller-supplied and globally unique.
type Form struct {
	FormID    string    `json:"formId"`
	UserID    int64     `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
