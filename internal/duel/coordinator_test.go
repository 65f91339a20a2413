package duel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/wordduel/internal/matchstore"
	"github.com/mcdev12/wordduel/internal/models"
)

type coordinatorFixture struct {
	coordinator *Coordinator
	repo        *matchstore.MemRepo
	clock       *clockwork.FakeClock
	alice       Identity
	bob         Identity
}

func newFixture(t *testing.T, durationSec int) *coordinatorFixture {
	t.Helper()

	repo := matchstore.NewMemRepo()
	aliceUser := repo.AddUser("alice")
	bobUser := repo.AddUser("bob")

	clock := clockwork.NewFakeClock()
	cfg := Config{
		GameDuration:   durationSec,
		GraceWindow:    3 * time.Second,
		PublishTimeout: time.Second,
	}
	coordinator := NewCoordinator(cfg, clock, NewResultPublisher(repo, nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go coordinator.Run(ctx)

	return &coordinatorFixture{
		coordinator: coordinator,
		repo:        repo,
		clock:       clock,
		alice:       Identity{UserID: aliceUser.ID, Username: aliceUser.Username},
		bob:         Identity{UserID: bobUser.ID, Username: bobUser.Username},
	}
}

// snapshot doubles as a queue barrier: the queue is FIFO, so by the time the
// snapshot returns every previously enqueued event has been handled.
func (f *coordinatorFixture) snapshot(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := f.coordinator.GetSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func (f *coordinatorFixture) connectPair(t *testing.T) (*fakeChannel, *fakeChannel) {
	t.Helper()
	a := newFakeChannel("conn-a")
	b := newFakeChannel("conn-b")
	f.coordinator.HandleConnect(a, f.alice)
	f.coordinator.HandleConnect(b, f.bob)
	f.snapshot(t)
	return a, b
}

func (f *coordinatorFixture) startGame(t *testing.T, ch *fakeChannel) string {
	t.Helper()
	f.coordinator.HandleMessage(ch, &Event{Type: EventTypeStartGame})
	snap := f.snapshot(t)
	if snap.State != StateGracePeriod {
		t.Fatalf("state after start = %s, want %s", snap.State, StateGracePeriod)
	}
	if snap.GameID == "" {
		t.Fatalf("expected a game ID after start")
	}
	// Countdown ticker plus grace timer must be armed before the test
	// advances the clock.
	f.clock.BlockUntil(2)
	return snap.GameID
}

func waitUntil(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func decodeData(t *testing.T, ev Event, v any) {
	t.Helper()
	if err := json.Unmarshal(ev.Data, v); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
}

func TestConnectAssignsSlotsAndBroadcastsStatus(t *testing.T) {
	f := newFixture(t, 15)
	a, b := f.connectPair(t)

	var assignedA PlayerAssignedPayload
	assigned := a.eventsOfType(EventTypePlayerAssigned)
	if len(assigned) != 1 {
		t.Fatalf("a: expected 1 playerAssigned, got %d", len(assigned))
	}
	decodeData(t, assigned[0], &assignedA)
	if assignedA.Slot != 1 || assignedA.Username != "alice" {
		t.Fatalf("a assigned %+v", assignedA)
	}

	var assignedB PlayerAssignedPayload
	decodeData(t, b.eventsOfType(EventTypePlayerAssigned)[0], &assignedB)
	if assignedB.Slot != 2 || assignedB.Username != "bob" {
		t.Fatalf("b assigned %+v", assignedB)
	}

	statuses := a.eventsOfType(EventTypePlayerStatus)
	if len(statuses) == 0 {
		t.Fatalf("a: expected playerStatus broadcasts")
	}
	var status PlayerStatusPayload
	decodeData(t, statuses[len(statuses)-1], &status)
	if !status.Slot1Occupied || !status.Slot2Occupied {
		t.Fatalf("final status = %+v, want both occupied", status)
	}
}

func TestThirdConnectionReceivesFullAndIsClosed(t *testing.T) {
	f := newFixture(t, 15)
	f.connectPair(t)

	third := newFakeChannel("conn-c")
	f.coordinator.HandleConnect(third, testIdentity("carol"))
	snap := f.snapshot(t)

	if len(third.eventsOfType(EventTypeFull)) != 1 {
		t.Fatalf("third connection should receive a full event")
	}
	if !third.isClosed() {
		t.Fatalf("third connection should be closed")
	}
	if !snap.Slot1Occupied || !snap.Slot2Occupied {
		t.Fatalf("existing slots must be untouched: %+v", snap)
	}

	// The rejected channel's disconnect must not disturb the session.
	f.coordinator.HandleDisconnect(third)
	snap = f.snapshot(t)
	if !snap.Slot1Occupied || !snap.Slot2Occupied {
		t.Fatalf("slots changed by rejected channel disconnect: %+v", snap)
	}
}

func TestStartGameRequiresBothSlots(t *testing.T) {
	f := newFixture(t, 15)
	a := newFakeChannel("conn-a")
	f.coordinator.HandleConnect(a, f.alice)
	f.snapshot(t)

	f.coordinator.HandleMessage(a, &Event{Type: EventTypeStartGame})
	snap := f.snapshot(t)

	if snap.State != StateWaiting {
		t.Fatalf("state = %s, want %s (silent rejection)", snap.State, StateWaiting)
	}
	if snap.GameID != "" {
		t.Fatalf("no game should have started")
	}
	if len(a.eventsOfType(EventTypeGameStart)) != 0 {
		t.Fatalf("no gameStart may be broadcast on a rejected start")
	}
}

// The full happy path: pair up, start, trade scores, run the timer out, and
// end with a broadcast outcome plus exactly one persisted result.
func TestFullGameScenario(t *testing.T) {
	f := newFixture(t, 2)
	a, b := f.connectPair(t)
	gameID := f.startGame(t, a)

	starts := b.eventsOfType(EventTypeGameStart)
	if len(starts) != 1 {
		t.Fatalf("b should see gameStart")
	}
	var start GameStartPayload
	decodeData(t, starts[0], &start)
	if start.GameID != gameID {
		t.Fatalf("gameStart carries %q, coordinator reports %q", start.GameID, gameID)
	}

	f.coordinator.HandleMessage(a, mustEvent(EventTypeScoreUpdate, ScoreUpdatePayload{Slot: 1, Score: 5}))
	f.coordinator.HandleMessage(b, mustEvent(EventTypeScoreUpdate, ScoreUpdatePayload{Slot: 2, Score: 3}))
	f.snapshot(t)

	for _, ch := range []*fakeChannel{a, b} {
		updates := ch.eventsOfType(EventTypeScoreUpdate)
		if len(updates) != 2 {
			t.Fatalf("%s: expected 2 scoreUpdate broadcasts, got %d", ch.ID(), len(updates))
		}
		var first ScoreUpdatePayload
		decodeData(t, updates[0], &first)
		if first.Slot != 1 || first.Score != 5 {
			t.Fatalf("scoreUpdate broadcast mutated: %+v", first)
		}
	}

	// Ticks 2, 1, 0 then the terminal tick ends the game. The grace window
	// (3s) elapses along the way.
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		want := i + 1
		waitUntil(t, "time update", func() bool {
			return len(a.eventsOfType(EventTypeTimeUpdate)) >= want
		})
	}
	var lastTick TimeUpdatePayload
	ticks := a.eventsOfType(EventTypeTimeUpdate)
	decodeData(t, ticks[len(ticks)-1], &lastTick)
	if lastTick.RemainingSeconds != 0 {
		t.Fatalf("last tick = %d, want the zero drain tick", lastTick.RemainingSeconds)
	}

	f.clock.Advance(time.Second)
	waitUntil(t, "gameOver broadcast", func() bool {
		return len(a.eventsOfType(EventTypeGameOver)) == 1 && len(b.eventsOfType(EventTypeGameOver)) == 1
	})

	var over GameOverPayload
	decodeData(t, a.eventsOfType(EventTypeGameOver)[0], &over)
	if over.Score1 != 5 || over.Score2 != 3 || over.Winner != string(models.WinnerSlot1) {
		t.Fatalf("gameOver = %+v", over)
	}

	waitUntil(t, "result persisted", func() bool { return f.repo.ResultCount() == 1 })

	snap := f.snapshot(t)
	if snap.State != StateWaiting {
		t.Fatalf("state after game = %s, want %s", snap.State, StateWaiting)
	}
	if snap.GameID != "" {
		t.Fatalf("game ID should be cleared after publish, got %s", snap.GameID)
	}

	result, err := f.repo.FindResultByGameID(context.Background(), uuid.MustParse(gameID))
	if err != nil || result == nil {
		t.Fatalf("FindResultByGameID: (%v, %v)", result, err)
	}
	if result.Winner != models.WinnerSlot1 {
		t.Fatalf("persisted winner = %s, want %s", result.Winner, models.WinnerSlot1)
	}
}

// Both players dropping during the grace window frees the slots but neither
// ends the game nor persists a result.
func TestGraceWindowSuppressesAbandonEnd(t *testing.T) {
	f := newFixture(t, 15)
	a, b := f.connectPair(t)
	f.startGame(t, a)

	f.coordinator.HandleDisconnect(a)
	f.coordinator.HandleDisconnect(b)
	snap := f.snapshot(t)

	if snap.State != StateGracePeriod {
		t.Fatalf("state = %s, the game must keep running through the grace window", snap.State)
	}
	if snap.Slot1Occupied || snap.Slot2Occupied {
		t.Fatalf("slots must be freed: %+v", snap)
	}
	if len(a.eventsOfType(EventTypeGameOver)) != 0 || len(b.eventsOfType(EventTypeGameOver)) != 0 {
		t.Fatalf("no gameOver may be emitted during the grace window")
	}
	if f.repo.ResultCount() != 0 {
		t.Fatalf("no result may be persisted during the grace window")
	}
}

// After the grace window has elapsed, losing both players ends the game and
// persists the result under the identities captured at game start.
func TestAbandonAfterGraceEndsGame(t *testing.T) {
	f := newFixture(t, 30)
	a, b := f.connectPair(t)
	f.startGame(t, a)

	f.clock.Advance(3 * time.Second)
	waitUntil(t, "grace window elapsed", func() bool {
		return f.snapshot(t).State == StateActive
	})

	f.coordinator.HandleDisconnect(a)
	f.coordinator.HandleDisconnect(b)

	waitUntil(t, "result persisted", func() bool { return f.repo.ResultCount() == 1 })
	snap := f.snapshot(t)
	if snap.State != StateIdle {
		t.Fatalf("state = %s, want %s with no players left", snap.State, StateIdle)
	}
}

func TestReplayRestartsWithFreshGame(t *testing.T) {
	f := newFixture(t, 0)
	a, b := f.connectPair(t)
	firstGameID := f.startGame(t, a)

	f.coordinator.HandleMessage(a, mustEvent(EventTypeScoreUpdate, ScoreUpdatePayload{Slot: 1, Score: 7}))

	// Duration 0: the zero tick, then the terminal tick.
	f.clock.Advance(time.Second)
	waitUntil(t, "zero tick", func() bool { return len(a.eventsOfType(EventTypeTimeUpdate)) == 1 })
	f.clock.Advance(time.Second)
	waitUntil(t, "first game over", func() bool { return len(a.eventsOfType(EventTypeGameOver)) == 1 })
	waitUntil(t, "first result persisted", func() bool { return f.repo.ResultCount() == 1 })

	f.coordinator.HandleMessage(a, &Event{Type: EventTypePlayerReplay})
	f.snapshot(t)

	var status ReplayStatusPayload
	decodeData(t, b.eventsOfType(EventTypeReplayStatus)[0], &status)
	if status.Count != 1 {
		t.Fatalf("replayStatus after one request = %d, want 1", status.Count)
	}

	f.coordinator.HandleMessage(b, &Event{Type: EventTypePlayerReplay})
	snap := f.snapshot(t)

	restarts := a.eventsOfType(EventTypeGameRestart)
	if len(restarts) != 1 {
		t.Fatalf("expected gameRestart broadcast, got %d", len(restarts))
	}
	var restart GameStartPayload
	decodeData(t, restarts[0], &restart)
	if restart.GameID == firstGameID || restart.GameID == "" {
		t.Fatalf("replay must mint a fresh game ID, got %q (previous %q)", restart.GameID, firstGameID)
	}
	if snap.State != StateGracePeriod {
		t.Fatalf("state after replay = %s, want %s", snap.State, StateGracePeriod)
	}
	if snap.ReplayCount != 0 {
		t.Fatalf("replay intents must reset on restart, count = %d", snap.ReplayCount)
	}

	// Nobody scored in the rematch: it runs out 0-0 and persists as a tie.
	f.clock.BlockUntil(2)
	f.clock.Advance(time.Second)
	waitUntil(t, "rematch zero tick", func() bool { return len(a.eventsOfType(EventTypeTimeUpdate)) >= 2 })
	f.clock.Advance(time.Second)
	waitUntil(t, "second result persisted", func() bool { return f.repo.ResultCount() == 2 })

	var rematchOver GameOverPayload
	overs := a.eventsOfType(EventTypeGameOver)
	decodeData(t, overs[len(overs)-1], &rematchOver)
	if rematchOver.Score1 != 0 || rematchOver.Score2 != 0 || rematchOver.Winner != string(models.WinnerTie) {
		t.Fatalf("rematch outcome = %+v, want a 0-0 tie", rematchOver)
	}
}

func TestReplayFromUnoccupiedSlotIgnored(t *testing.T) {
	f := newFixture(t, 15)
	a, _ := f.connectPair(t)

	stranger := newFakeChannel("conn-x")
	f.coordinator.HandleMessage(stranger, &Event{Type: EventTypePlayerReplay})
	snap := f.snapshot(t)

	if snap.ReplayCount != 0 {
		t.Fatalf("replay from unoccupied slot must be ignored, count = %d", snap.ReplayCount)
	}
	if len(a.eventsOfType(EventTypeReplayStatus)) != 0 {
		t.Fatalf("no replayStatus may be broadcast for an ignored request")
	}
}

func TestPlayerLeaveFreesSlotAndNotifiesPeer(t *testing.T) {
	f := newFixture(t, 15)
	a, b := f.connectPair(t)

	f.coordinator.HandleMessage(a, &Event{Type: EventTypePlayerLeave})
	snap := f.snapshot(t)

	if snap.Slot1Occupied {
		t.Fatalf("slot 1 should be free after leave")
	}
	if !a.isClosed() {
		t.Fatalf("leaving channel should be closed")
	}

	leaves := b.eventsOfType(EventTypePlayerLeave)
	if len(leaves) != 1 {
		t.Fatalf("peer should see playerLeave, got %d", len(leaves))
	}
	var leave SlotPayload
	decodeData(t, leaves[0], &leave)
	if leave.Slot != 1 {
		t.Fatalf("playerLeave slot = %d, want 1", leave.Slot)
	}
	if snap.State != StateWaiting {
		t.Fatalf("state = %s, want %s with one player left", snap.State, StateWaiting)
	}
}

func TestMalformedScoreUpdateIgnored(t *testing.T) {
	f := newFixture(t, 15)
	a, _ := f.connectPair(t)

	f.coordinator.HandleMessage(a, &Event{Type: EventTypeScoreUpdate, Data: json.RawMessage(`{"slot":9,"score":1}`)})
	f.coordinator.HandleMessage(a, &Event{Type: EventTypeScoreUpdate, Data: json.RawMessage(`not json`)})
	f.snapshot(t)

	if len(a.eventsOfType(EventTypeScoreUpdate)) != 0 {
		t.Fatalf("invalid score updates must not be broadcast")
	}
}
