package duel

// ReplayTracker records per-slot replay intent between games. A fresh round
// starts only when both slots agree.
type ReplayTracker struct {
	want [2]bool
}

func NewReplayTracker() *ReplayTracker {
	return &ReplayTracker{}
}

// Request marks the slot as wanting a replay and returns the agreement count.
func (r *ReplayTracker) Request(num SlotNumber) int {
	r.want[num-1] = true
	return r.Count()
}

// Clear drops a single slot's intent, used when that slot's player leaves.
func (r *ReplayTracker) Clear(num SlotNumber) {
	r.want[num-1] = false
}

func (r *ReplayTracker) Count() int {
	count := 0
	for _, w := range r.want {
		if w {
			count++
		}
	}
	return count
}

func (r *ReplayTracker) BothAgree() bool {
	return r.want[0] && r.want[1]
}

func (r *ReplayTracker) Reset() {
	r.want = [2]bool{}
}
