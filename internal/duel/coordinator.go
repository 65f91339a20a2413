package duel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the authoritative lifecycle state of the session.
type State string

const (
	// StateIdle: no players, no game, no timer.
	StateIdle State = "IDLE"
	// StateWaiting: slots may be partially filled, no game running.
	StateWaiting State = "WAITING"
	// StateActive: timer running, scores live.
	StateActive State = "ACTIVE"
	// StateGracePeriod: entered immediately on game start; a full disconnect
	// during this window does not terminate the game.
	StateGracePeriod State = "GRACE_PERIOD"
	// StateEnded: terminal per game instance, immediately reset to Waiting
	// or Idle.
	StateEnded State = "ENDED"
)

type endReason string

const (
	reasonTimerExpired endReason = "timer_expired"
	reasonAbandoned    endReason = "both_disconnected"
)

// Config holds the coordinator's tunables.
type Config struct {
	// GameDuration is the countdown length in seconds.
	GameDuration int
	// GraceWindow is how long after game start a full disconnect is
	// tolerated without ending the game.
	GraceWindow time.Duration
	// PublishTimeout bounds one result persistence attempt.
	PublishTimeout time.Duration
}

// DefaultConfig mirrors the production defaults: 15 second games, 3 second
// grace window.
func DefaultConfig() Config {
	return Config{
		GameDuration:   15,
		GraceWindow:    3 * time.Second,
		PublishTimeout: 10 * time.Second,
	}
}

// Snapshot is a point-in-time read of coordinator state, taken on the run
// loop so it is always consistent.
type Snapshot struct {
	State            State  `json:"state"`
	GameID           string `json:"game_id,omitempty"`
	Slot1Occupied    bool   `json:"slot1_occupied"`
	Slot2Occupied    bool   `json:"slot2_occupied"`
	RemainingSeconds int    `json:"remaining_seconds"`
	ReplayCount      int    `json:"replay_count"`
}

// Coordinator pairs exactly two channels into a timed, score-based duel and
// reconciles every network event (connects, disconnects, duplicate requests,
// timer races) into a single consistent outcome.
//
// All state is owned by one goroutine: channel events and timer callbacks are
// enqueued as closures and drained in arrival order by Run. Persistence is
// the only blocking effect and runs off-loop with its continuation scheduled
// back onto the queue, so no two handlers ever observe session state
// mid-mutation.
type Coordinator struct {
	cfg       Config
	clock     clockwork.Clock
	store     *SlotStore
	ledger    *ScoreLedger
	replay    *ReplayTracker
	countdown *Countdown
	publisher *ResultPublisher

	queue  chan func()
	runCtx context.Context

	state        State
	gameID       uuid.UUID
	roundPlayers [2]Identity
	remaining    int

	graceGen    uint64
	graceTimer  clockwork.Timer
	graceCancel chan struct{}
}

// NewCoordinator wires a coordinator from its collaborators. Pass
// clockwork.NewRealClock() in production and a FakeClock in tests.
func NewCoordinator(cfg Config, clock clockwork.Clock, publisher *ResultPublisher) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		clock:     clock,
		store:     NewSlotStore(),
		ledger:    NewScoreLedger(),
		replay:    NewReplayTracker(),
		countdown: NewCountdown(clock),
		publisher: publisher,
		queue:     make(chan func(), 1024),
		state:     StateIdle,
	}
}

// Run drains the event queue until ctx is cancelled. It must be running for
// any handler to make progress.
func (c *Coordinator) Run(ctx context.Context) {
	c.runCtx = ctx
	log.Info().Msg("session coordinator started")

	for {
		select {
		case <-ctx.Done():
			c.countdown.Stop()
			c.cancelGraceWindow()
			log.Info().Msg("session coordinator shutting down")
			return
		case fn := <-c.queue:
			fn()
		}
	}
}

func (c *Coordinator) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	default:
		log.Warn().Msg("coordinator queue full, dropping event")
	}
}

// HandleConnect assigns the channel a slot or rejects it with a full event
// and closes it. Safe to call from any goroutine.
func (c *Coordinator) HandleConnect(ch Channel, identity Identity) {
	c.enqueue(func() { c.handleConnect(ch, identity) })
}

// HandleMessage routes one client event. Safe to call from any goroutine.
func (c *Coordinator) HandleMessage(ch Channel, ev *Event) {
	c.enqueue(func() { c.handleMessage(ch, ev) })
}

// HandleDisconnect releases whatever slot the channel held. Safe to call
// from any goroutine, including for channels that were rejected.
func (c *Coordinator) HandleDisconnect(ch Channel) {
	c.enqueue(func() { c.handleDisconnect(ch) })
}

// GetSnapshot reads coordinator state through the run loop.
func (c *Coordinator) GetSnapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	c.enqueue(func() {
		reply <- Snapshot{
			State:            c.state,
			GameID:           c.gameIDString(),
			Slot1Occupied:    c.store.Occupied(Slot1),
			Slot2Occupied:    c.store.Occupied(Slot2),
			RemainingSeconds: c.remaining,
			ReplayCount:      c.replay.Count(),
		}
	})
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) gameIDString() string {
	if c.gameID == uuid.Nil {
		return ""
	}
	return c.gameID.String()
}

func (c *Coordinator) handleConnect(ch Channel, identity Identity) {
	num, err := c.store.Assign(ch, identity)
	if err != nil {
		log.Info().Str("conn_id", ch.ID()).Msg("third connection rejected, session full")
		c.send(ch, mustEvent(EventTypeFull, FullPayload{Message: "Only two players are allowed."}))
		if err := ch.Close(); err != nil {
			log.Warn().Err(err).Str("conn_id", ch.ID()).Msg("failed to close rejected channel")
		}
		return
	}

	log.Info().
		Str("conn_id", ch.ID()).
		Int("slot", int(num)).
		Str("username", identity.Username).
		Msg("player assigned")

	var external string
	if identity.Resolved() {
		external = identity.UserID.String()
	}
	c.send(ch, mustEvent(EventTypePlayerAssigned, PlayerAssignedPayload{
		Slot:             int(num),
		ExternalIdentity: external,
		Username:         identity.Username,
	}))
	c.broadcast(mustEvent(EventTypePlayerStatus, c.store.Occupancy()))

	if c.state == StateIdle {
		c.state = StateWaiting
	}
}

func (c *Coordinator) handleMessage(ch Channel, ev *Event) {
	switch ev.Type {
	case EventTypeStartGame:
		c.handleStartGame()
	case EventTypeScoreUpdate:
		c.handleScoreUpdate(ch, ev)
	case EventTypePlayerLeave:
		c.handleLeave(ch)
	case EventTypePlayerReplay:
		c.handleReplay(ch)
	default:
		log.Warn().
			Str("conn_id", ch.ID()).
			Str("event_type", string(ev.Type)).
			Msg("ignoring unknown client event")
	}
}

// handleStartGame is a silent rejection when preconditions fail: waiting for
// a second player is expected contention, not an error needing retry.
func (c *Coordinator) handleStartGame() {
	if c.state != StateIdle && c.state != StateWaiting {
		log.Debug().Str("state", string(c.state)).Msg("ignoring startGame, game already running")
		return
	}
	if !c.store.BothOccupied() {
		log.Debug().Msg("ignoring startGame, both slots not occupied")
		return
	}
	c.startRound(EventTypeGameStart)
}

// startRound begins a fresh game instance: new game ID, reset scores and
// replay intents, new grace window and countdown. announce is gameStart for
// a first game and gameRestart for a replay.
func (c *Coordinator) startRound(announce EventType) {
	c.gameID = uuid.New()
	c.roundPlayers = [2]Identity{c.store.Identity(Slot1), c.store.Identity(Slot2)}
	c.ledger.Reset()
	c.replay.Reset()
	c.remaining = c.cfg.GameDuration

	log.Info().
		Str("game_id", c.gameID.String()).
		Str("event", string(announce)).
		Int("duration_sec", c.cfg.GameDuration).
		Msg("game starting")

	c.broadcast(mustEvent(announce, GameStartPayload{GameID: c.gameID.String()}))

	c.state = StateGracePeriod
	c.openGraceWindow()

	c.countdown.Start(c.cfg.GameDuration,
		func(remaining int) {
			c.enqueue(func() { c.handleTick(remaining) })
		},
		func() {
			c.enqueue(func() { c.endGame(reasonTimerExpired) })
		},
	)
}

func (c *Coordinator) handleTick(remaining int) {
	c.remaining = remaining
	c.broadcast(mustEvent(EventTypeTimeUpdate, TimeUpdatePayload{RemainingSeconds: remaining}))
}

// openGraceWindow arms the one-shot grace timer, cancelling and replacing
// any previous one so a restart never inherits a stale window.
func (c *Coordinator) openGraceWindow() {
	c.cancelGraceWindow()

	c.graceGen++
	gen := c.graceGen
	cancel := make(chan struct{})
	timer := c.clock.NewTimer(c.cfg.GraceWindow)
	c.graceTimer = timer
	c.graceCancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			c.enqueue(func() { c.graceExpired(gen) })
		case <-cancel:
		}
	}()
}

func (c *Coordinator) cancelGraceWindow() {
	if c.graceCancel != nil {
		close(c.graceCancel)
		c.graceCancel = nil
	}
	if c.graceTimer != nil {
		stopAndDrainTimer(c.graceTimer)
		c.graceTimer = nil
	}
}

func (c *Coordinator) graceExpired(gen uint64) {
	if gen != c.graceGen {
		// A newer round replaced this window before it fired.
		return
	}
	if c.state == StateGracePeriod {
		c.state = StateActive
		log.Debug().Str("game_id", c.gameIDString()).Msg("grace window elapsed")
	}
}

func (c *Coordinator) handleScoreUpdate(ch Channel, ev *Event) {
	var payload ScoreUpdatePayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		log.Warn().Err(err).Str("conn_id", ch.ID()).Msg("malformed scoreUpdate payload")
		return
	}
	if payload.Slot != int(Slot1) && payload.Slot != int(Slot2) {
		log.Warn().Int("slot", payload.Slot).Msg("scoreUpdate for invalid slot")
		return
	}

	// The reported value overwrites the slot's score verbatim; the ledger
	// trusts the reporting channel.
	c.ledger.Update(SlotNumber(payload.Slot), payload.Score)
	c.broadcast(mustEvent(EventTypeScoreUpdate, payload))
}

func (c *Coordinator) handleReplay(ch Channel) {
	num, ok := c.store.Lookup(ch)
	if !ok {
		log.Debug().Str("conn_id", ch.ID()).Msg("ignoring replay request from unoccupied slot")
		return
	}
	if c.state != StateWaiting {
		log.Debug().Str("state", string(c.state)).Msg("ignoring replay request outside Waiting")
		return
	}

	count := c.replay.Request(num)
	c.broadcast(mustEvent(EventTypeReplayStatus, ReplayStatusPayload{Count: count}))

	if c.replay.BothAgree() && c.store.BothOccupied() {
		log.Info().Msg("both players agreed to replay, restarting")
		c.startRound(EventTypeGameRestart)
	}
}

func (c *Coordinator) handleLeave(ch Channel) {
	num, ok := c.store.Release(ch)
	if !ok {
		return
	}
	c.replay.Clear(num)
	log.Info().Int("slot", int(num)).Msg("player left")

	c.broadcast(mustEvent(EventTypePlayerLeave, SlotPayload{Slot: int(num)}))
	c.afterRelease()

	if err := ch.Close(); err != nil {
		log.Warn().Err(err).Str("conn_id", ch.ID()).Msg("failed to close leaving channel")
	}
}

func (c *Coordinator) handleDisconnect(ch Channel) {
	num, ok := c.store.Release(ch)
	if !ok {
		// Rejected third connections and already-left channels land here.
		return
	}
	c.replay.Clear(num)
	log.Info().Int("slot", int(num)).Msg("player disconnected")

	c.broadcast(mustEvent(EventTypePlayerDisconnected, SlotPayload{Slot: int(num)}))
	c.afterRelease()
}

// afterRelease applies the lifecycle consequences of a freed slot, shared by
// the disconnect and leave paths.
func (c *Coordinator) afterRelease() {
	if c.store.BothEmpty() {
		switch c.state {
		case StateGracePeriod:
			// Reconnection churn right after game start: slots are freed
			// but the game keeps running.
			log.Info().Str("game_id", c.gameIDString()).Msg("both players gone during grace window, end suppressed")
		case StateActive:
			c.endGame(reasonAbandoned)
		}
		if c.gameID == uuid.Nil {
			c.state = StateIdle
		}
	}

	c.broadcast(mustEvent(EventTypePlayerStatus, c.store.Occupancy()))
}

// endGame is the single idempotent entry point for ending the current game,
// whatever the trigger. The nil game ID check absorbs the race between the
// timer-expiry path and the disconnect path; the publisher's
// query-before-insert absorbs the same race across process restarts.
func (c *Coordinator) endGame(reason endReason) {
	if c.gameID == uuid.Nil {
		log.Debug().Str("reason", string(reason)).Msg("endGame with no active game, ignoring")
		return
	}

	c.countdown.Stop()
	c.cancelGraceWindow()
	c.state = StateEnded

	outcome := MatchOutcome{
		GameID:  c.gameID,
		Player1: c.roundPlayers[0],
		Player2: c.roundPlayers[1],
		Score1:  c.ledger.Score(Slot1),
		Score2:  c.ledger.Score(Slot2),
		Winner:  c.ledger.Winner(),
	}

	log.Info().
		Str("game_id", outcome.GameID.String()).
		Str("reason", string(reason)).
		Int("score1", outcome.Score1).
		Int("score2", outcome.Score2).
		Str("winner", string(outcome.Winner)).
		Msg("game over")

	// The outcome is broadcast regardless of what happens to persistence:
	// a save failure must not change the user-visible result.
	c.broadcast(mustEvent(EventTypeGameOver, GameOverPayload{
		Score1: outcome.Score1,
		Score2: outcome.Score2,
		Winner: string(outcome.Winner),
	}))

	c.publishAsync(outcome)

	// The game ID is consumed by the publish above and cleared exactly once.
	c.gameID = uuid.Nil
	c.roundPlayers = [2]Identity{}
	c.remaining = 0
	c.ledger.Reset()
	c.replay.Reset()

	if c.store.BothEmpty() {
		c.state = StateIdle
	} else {
		c.state = StateWaiting
	}
}

// publishAsync runs the persistence call off-loop and schedules its
// continuation back onto the queue, keeping the loop free of blocking I/O.
func (c *Coordinator) publishAsync(outcome MatchOutcome) {
	parent := c.runCtx
	if parent == nil {
		parent = context.Background()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parent, c.cfg.PublishTimeout)
		defer cancel()
		err := c.publisher.Publish(ctx, outcome)
		c.enqueue(func() {
			if err != nil {
				log.Error().Err(err).
					Str("game_id", outcome.GameID.String()).
					Msg("result persistence failed, outcome already broadcast")
			}
		})
	}()
}

func (c *Coordinator) send(ch Channel, ev *Event) {
	if err := ch.Send(ev); err != nil {
		log.Warn().Err(err).Str("conn_id", ch.ID()).Str("event_type", string(ev.Type)).Msg("failed to send event")
	}
}

func (c *Coordinator) broadcast(ev *Event) {
	for _, ch := range c.store.Channels() {
		c.send(ch, ev)
	}
}

// stopAndDrainTimer safely stops a one-shot timer, draining its channel if it
// already fired so no goroutine is left blocked on it.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
