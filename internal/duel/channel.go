package duel

import "github.com/google/uuid"

// Channel is one bidirectional client connection as the coordinator sees it.
// The transport (WebSocket upgrade, pumps, deadlines) is owned by the gateway;
// the coordinator only sends events and closes channels it rejects.
type Channel interface {
	// ID is the connection-scoped correlation key, stable for the lifetime
	// of the underlying connection.
	ID() string
	Send(ev *Event) error
	Close() error
}

// Identity links a channel to a registered user, resolved by the gateway
// before the connect event reaches the coordinator.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// Resolved reports whether the identity maps to a registered user. An
// unresolved identity still plays; it just cannot be persisted against.
func (i Identity) Resolved() bool {
	return i.UserID != uuid.Nil
}
