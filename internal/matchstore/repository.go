package matchstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/wordduel/internal/models"
)

// Repository implements the coordinator's persistence contract on Postgres.
// The unique index on match_results.game_id is the durable idempotency
// guard; the coordinator's query-before-insert only narrows the window.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new match store repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindResultByGameID returns (nil, nil) when no result exists for the game.
func (r *Repository) FindResultByGameID(ctx context.Context, gameID uuid.UUID) (*models.MatchResult, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, game_id, player1_id, player2_id, player1_score, player2_score, winner, created_at
		FROM match_results
		WHERE game_id = $1`, gameID)

	result, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find result by game id: %w", err)
	}
	return result, nil
}

// CreateResult inserts the match record. A concurrent insert for the same
// game loses to the unique constraint and gets the existing record back.
func (r *Repository) CreateResult(ctx context.Context, result models.MatchResult) (*models.MatchResult, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO match_results (id, game_id, player1_id, player2_id, player1_score, player2_score, winner)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id) DO NOTHING
		RETURNING id, game_id, player1_id, player2_id, player1_score, player2_score, winner, created_at`,
		uuid.New(), result.GameID, result.Player1ID, result.Player2ID,
		result.Player1Score, result.Player2Score, result.Winner)

	created, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race: another writer already persisted this game.
		existing, findErr := r.FindResultByGameID(ctx, result.GameID)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, fmt.Errorf("result for game %s vanished after conflict", result.GameID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create result: %w", err)
	}
	return created, nil
}

// AppendToHistory links a persisted result into a user's match history.
func (r *Repository) AppendToHistory(ctx context.Context, userID uuid.UUID, resultID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO match_history (user_id, result_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, result_id) DO NOTHING`, userID, resultID)
	if err != nil {
		return fmt.Errorf("failed to append to match history: %w", err)
	}
	return nil
}

// FindUserByExternalName returns (nil, nil) when no user has the username.
func (r *Repository) FindUserByExternalName(ctx context.Context, name string) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, username, created_at
		FROM users
		WHERE username = $1`, name)

	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by name: %w", err)
	}
	return &user, nil
}

func scanResult(row pgx.Row) (*models.MatchResult, error) {
	var result models.MatchResult
	err := row.Scan(
		&result.ID,
		&result.GameID,
		&result.Player1ID,
		&result.Player2ID,
		&result.Player1Score,
		&result.Player2Score,
		&result.Winner,
		&result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
