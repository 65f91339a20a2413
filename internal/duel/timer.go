package duel

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Countdown is the per-session game timer: a single countdown ticking once
// per second from the configured duration down to zero inclusive, then firing
// a terminal callback exactly once on the tick after zero. The trailing zero
// tick is load-bearing: client countdown UIs expect to render it.
//
// At most one countdown is live at a time. Start replaces any running
// countdown, and Stop is synchronous: once it returns, no callback from the
// stopped run will fire.
type Countdown struct {
	clock clockwork.Clock

	mu        sync.Mutex
	gen       uint64
	running   bool
	remaining int
	onTick    func(remaining int)
	onExpire  func()
}

func NewCountdown(clock clockwork.Clock) *Countdown {
	return &Countdown{clock: clock}
}

// Start begins a countdown of seconds+1 ticks (seconds, seconds-1, ..., 0),
// invoking onExpire once after the zero tick. A countdown already running is
// cancelled first.
func (c *Countdown) Start(seconds int, onTick func(remaining int), onExpire func()) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.running = true
	c.remaining = seconds
	c.onTick = onTick
	c.onExpire = onExpire
	c.mu.Unlock()

	go c.run(gen)
}

// Stop cancels the countdown. Callbacks hold the same lock Stop takes, so a
// tick in flight completes before Stop returns and nothing fires afterwards.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.running = false
}

// Running reports whether a countdown is live.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Remaining returns the seconds left to emit; meaningful only while running.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) run(gen uint64) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.Chan() {
		if !c.tick(gen) {
			return
		}
	}
}

// tick is the single state transition: Running(r>=0) emits r and decrements;
// Running(r<0) expires and stops. Returns false once this run is finished or
// superseded.
func (c *Countdown) tick(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.gen != gen {
		return false
	}

	if c.remaining >= 0 {
		c.onTick(c.remaining)
		c.remaining--
		return true
	}

	c.running = false
	c.onExpire()
	return false
}
