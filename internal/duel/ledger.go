package duel

import "github.com/mcdev12/wordduel/internal/models"

// ScoreLedger holds the authoritative per-slot scores for the running game.
// Updates overwrite rather than accumulate: the client reports its own total
// and the ledger trusts it (anti-cheat validation is an explicit non-goal).
type ScoreLedger struct {
	scores [2]int
}

func NewScoreLedger() *ScoreLedger {
	return &ScoreLedger{}
}

// Update overwrites the slot's score with the reported value.
func (l *ScoreLedger) Update(num SlotNumber, score int) {
	l.scores[num-1] = score
}

func (l *ScoreLedger) Score(num SlotNumber) int {
	return l.scores[num-1]
}

// Winner compares scores with strict greater-than; equal scores, including
// 0-0, are a tie.
func (l *ScoreLedger) Winner() models.Winner {
	switch {
	case l.scores[0] > l.scores[1]:
		return models.WinnerSlot1
	case l.scores[1] > l.scores[0]:
		return models.WinnerSlot2
	default:
		return models.WinnerTie
	}
}

// Reset zeroes both scores. Called on every lifecycle entry into Waiting or
// a new Active round.
func (l *ScoreLedger) Reset() {
	l.scores = [2]int{}
}
