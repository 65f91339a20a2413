package matchstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/wordduel/internal/models"
)

// MemRepo is an in-memory match store with the same idempotency semantics as
// the Postgres repository. It backs tests and DB-less development runs.
type MemRepo struct {
	mu       sync.Mutex
	results  map[uuid.UUID]models.MatchResult // keyed by game ID
	history  map[uuid.UUID][]uuid.UUID        // user ID -> result IDs
	users    map[string]models.User           // keyed by username
	failNext error
}

// NewMemRepo creates an empty in-memory match store.
func NewMemRepo() *MemRepo {
	return &MemRepo{
		results: make(map[uuid.UUID]models.MatchResult),
		history: make(map[uuid.UUID][]uuid.UUID),
		users:   make(map[string]models.User),
	}
}

// AddUser registers a user, returning its generated ID.
func (m *MemRepo) AddUser(username string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := models.User{ID: uuid.New(), Username: username, CreatedAt: time.Now()}
	m.users[username] = user
	return user
}

// FailNext makes the next store operation return err, for exercising the
// transient persistence failure path.
func (m *MemRepo) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MemRepo) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *MemRepo) FindResultByGameID(_ context.Context, gameID uuid.UUID) (*models.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	result, ok := m.results[gameID]
	if !ok {
		return nil, nil
	}
	return &result, nil
}

func (m *MemRepo) CreateResult(_ context.Context, result models.MatchResult) (*models.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if existing, ok := m.results[result.GameID]; ok {
		return &existing, nil
	}
	result.ID = uuid.New()
	result.CreatedAt = time.Now()
	m.results[result.GameID] = result
	return &result, nil
}

func (m *MemRepo) AppendToHistory(_ context.Context, userID uuid.UUID, resultID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, id := range m.history[userID] {
		if id == resultID {
			return nil
		}
	}
	m.history[userID] = append(m.history[userID], resultID)
	return nil
}

func (m *MemRepo) FindUserByExternalName(_ context.Context, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	user, ok := m.users[name]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// ResultCount reports how many distinct games have a persisted record.
func (m *MemRepo) ResultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// History returns a copy of a user's result IDs in append order.
func (m *MemRepo) History(userID uuid.UUID) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uuid.UUID, len(m.history[userID]))
	copy(out, m.history[userID])
	return out
}
