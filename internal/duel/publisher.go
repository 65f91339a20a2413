package duel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordduel/internal/models"
)

// ResultStore defines what the publisher needs from the persistence layer.
// FindResultByGameID returns (nil, nil) when no record exists; the uniqueness
// constraint on game_id is the real idempotency guard since this process may
// restart between the lookup and the insert.
type ResultStore interface {
	FindResultByGameID(ctx context.Context, gameID uuid.UUID) (*models.MatchResult, error)
	CreateResult(ctx context.Context, result models.MatchResult) (*models.MatchResult, error)
	AppendToHistory(ctx context.Context, userID uuid.UUID, resultID uuid.UUID) error
}

// UserStore resolves external usernames to registered users. Returns
// (nil, nil) when no user matches.
type UserStore interface {
	FindUserByExternalName(ctx context.Context, name string) (*models.User, error)
}

// EventSink receives envelopes about finished duels for external consumers
// (leaderboards, analytics). Implementations must tolerate being called more
// than once per game; the game ID doubles as the message dedup key.
type EventSink interface {
	MatchCompleted(ctx context.Context, result *models.MatchResult) error
}

// MatchOutcome is everything the publisher needs to persist one finished
// game, captured before slots are reset.
type MatchOutcome struct {
	GameID  uuid.UUID
	Player1 Identity
	Player2 Identity
	Score1  int
	Score2  int
	Winner  models.Winner
}

// ResultPublisher creates the immutable match record for a completed game and
// appends it to both players' histories. Publishing is idempotent per game
// ID: the timer-expiry path and the disconnect path may both try to end the
// same game, and only the first attempt writes.
type ResultPublisher struct {
	results ResultStore
	sink    EventSink // optional
}

func NewResultPublisher(results ResultStore, sink EventSink) *ResultPublisher {
	return &ResultPublisher{results: results, sink: sink}
}

// Publish persists the outcome unless a record for the game already exists.
// Unresolved identities skip persistence entirely: the outcome was already
// broadcast to the channels, so there is nothing to escalate.
func (p *ResultPublisher) Publish(ctx context.Context, out MatchOutcome) error {
	if !out.Player1.Resolved() || !out.Player2.Resolved() {
		log.Warn().
			Str("game_id", out.GameID.String()).
			Msg("player identity unresolved, skipping result persistence")
		return nil
	}

	existing, err := p.results.FindResultByGameID(ctx, out.GameID)
	if err != nil {
		return fmt.Errorf("lookup result for game %s: %w", out.GameID, err)
	}
	if existing != nil {
		log.Debug().
			Str("game_id", out.GameID.String()).
			Msg("result already persisted, absorbing duplicate publish")
		return nil
	}

	result, err := p.results.CreateResult(ctx, models.MatchResult{
		GameID:       out.GameID,
		Player1ID:    out.Player1.UserID,
		Player2ID:    out.Player2.UserID,
		Player1Score: out.Score1,
		Player2Score: out.Score2,
		Winner:       out.Winner,
	})
	if err != nil {
		return fmt.Errorf("create result for game %s: %w", out.GameID, err)
	}

	for _, userID := range []uuid.UUID{out.Player1.UserID, out.Player2.UserID} {
		if err := p.results.AppendToHistory(ctx, userID, result.ID); err != nil {
			log.Error().Err(err).
				Str("user_id", userID.String()).
				Str("result_id", result.ID.String()).
				Msg("failed to append result to match history")
		}
	}

	if p.sink != nil {
		if err := p.sink.MatchCompleted(ctx, result); err != nil {
			log.Error().Err(err).
				Str("game_id", out.GameID.String()).
				Msg("failed to publish match completed event")
		}
	}

	log.Info().
		Str("game_id", out.GameID.String()).
		Int("score1", out.Score1).
		Int("score2", out.Score2).
		Str("winner", string(out.Winner)).
		Msg("match result persisted")
	return nil
}
