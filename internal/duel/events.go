package duel

import (
	"encoding/json"
	"fmt"
)

// Event is the wire envelope for everything sent over a duel channel, in both
// directions. Data holds the type-specific payload.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventType identifies a duel event.
type EventType string

// Server -> client events.
const (
	EventTypePlayerAssigned     EventType = "playerAssigned"
	EventTypeFull               EventType = "full"
	EventTypePlayerStatus       EventType = "playerStatus"
	EventTypeGameStart          EventType = "gameStart"
	EventTypeTimeUpdate         EventType = "timeUpdate"
	EventTypeScoreUpdate        EventType = "scoreUpdate"
	EventTypeGameOver           EventType = "gameOver"
	EventTypePlayerLeave        EventType = "playerLeave"
	EventTypePlayerDisconnected EventType = "playerDisconnected"
	EventTypeReplayStatus       EventType = "replayStatus"
	EventTypeGameRestart        EventType = "gameRestart"
	EventTypeError              EventType = "error"
)

// Client -> server events.
const (
	EventTypeStartGame    EventType = "startGame"
	EventTypePlayerReplay EventType = "playerReplay"
	// scoreUpdate and playerLeave are shared with the server -> client set.
)

// PlayerAssignedPayload tells a freshly connected client which slot it holds.
type PlayerAssignedPayload struct {
	Slot             int    `json:"slot"`
	ExternalIdentity string `json:"externalIdentity"`
	Username         string `json:"username"`
}

// FullPayload is sent to a third connection before it is closed.
type FullPayload struct {
	Message string `json:"message"`
}

// PlayerStatusPayload reports slot occupancy to all connected clients.
type PlayerStatusPayload struct {
	Slot1Occupied bool `json:"slot1Occupied"`
	Slot2Occupied bool `json:"slot2Occupied"`
}

// GameStartPayload carries the identifier of the round that just began. The
// same shape is reused for gameRestart.
type GameStartPayload struct {
	GameID string `json:"gameId"`
}

// TimeUpdatePayload is one countdown tick.
type TimeUpdatePayload struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

// ScoreUpdatePayload is both the client report and the broadcast echo.
type ScoreUpdatePayload struct {
	Slot  int `json:"slot"`
	Score int `json:"score"`
}

// GameOverPayload announces the final scores and winner label.
type GameOverPayload struct {
	Score1 int    `json:"score1"`
	Score2 int    `json:"score2"`
	Winner string `json:"winner"`
}

// SlotPayload names a slot, used by playerLeave and playerDisconnected.
type SlotPayload struct {
	Slot int `json:"slot"`
}

// ReplayStatusPayload carries how many slots have agreed to a replay.
type ReplayStatusPayload struct {
	Count int `json:"count"`
}

// ErrorPayload carries a human-readable rejection message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEvent builds an envelope, marshaling the payload once. A nil payload
// produces an envelope with no data (startGame, playerReplay).
func NewEvent(eventType EventType, payload any) (*Event, error) {
	ev := &Event{Type: eventType}
	if payload == nil {
		return ev, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	ev.Data = data
	return ev, nil
}

// mustEvent is for server-built events whose payloads are plain structs and
// cannot fail to marshal.
func mustEvent(eventType EventType, payload any) *Event {
	ev, err := NewEvent(eventType, payload)
	if err != nil {
		panic(err)
	}
	return ev
}
