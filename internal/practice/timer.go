package practice

import (
	"sync"
	"time"
)

// Countdown counts whole seconds down to zero for the active question. Reset
// and Stop invalidate any tick already scheduled.
type Countdown struct {
	total    int
	interval time.Duration

	mu        sync.Mutex
	remaining int
	timer     *time.Timer
	gen       uint64
	onTick    func(remaining int)
}

func NewCountdown(d time.Duration, onTick func(remaining int)) *Countdown {
	if d <= 0 {
		d = DefaultAnswerDuration
	}
	return &Countdown{total: int(d / time.Second), interval: time.Second, onTick: onTick}
}

func (c *Countdown) Reset() {
	c.mu.Lock()
	c.stopLocked()
	c.remaining = c.total
	gen := c.gen
	c.scheduleLocked(gen)
	c.mu.Unlock()
}

func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) Total() int { return c.total }

func (c *Countdown) stopLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Countdown) scheduleLocked(gen uint64) {
	c.timer = time.AfterFunc(c.interval, func() { c.tick(gen) })
}

func (c *Countdown) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.remaining <= 0 {
		c.mu.Unlock()
		return
	}
	c.remaining--
	remaining := c.remaining
	if remaining > 0 {
		c.scheduleLocked(gen)
	} else {
		c.timer = nil
	}
	callback := c.onTick
	c.mu.Unlock()

	if callback != nil {
		callback(remaining)
	}
}
