package models

import "time"

// Owner is the authenticated principal refresh tokens belong to.
type Owner struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
