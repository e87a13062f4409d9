package models

// Credential carries a login or registration request body.
// It is consumed once and never persisted.
type Credential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
