package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered player. Registration and authentication live
// outside this service; the coordinator only resolves usernames to IDs.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
