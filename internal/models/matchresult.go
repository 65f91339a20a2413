package models

import (
	"time"

	"github.com/google/uuid"
)

// Winner labels the outcome of a duel.
type Winner string

const (
	WinnerSlot1 Winner = "Slot1"
	WinnerSlot2 Winner = "Slot2"
	WinnerTie   Winner = "Tie"
)

// MatchResult is the persisted record of one completed duel. The game ID is
// the idempotency key: one record per game, never mutated after creation.
type MatchResult struct {
	ID           uuid.UUID `json:"id"`
	GameID       uuid.UUID `json:"game_id"`
	Player1ID    uuid.UUID `json:"player1_id"`
	Player2ID    uuid.UUID `json:"player2_id"`
	Player1Score int       `json:"player1_score"`
	Player2Score int       `json:"player2_score"`
	Winner       Winner    `json:"winner"`
	CreatedAt    time.Time `json:"created_at"`
}
