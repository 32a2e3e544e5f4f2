package transport

import "time"

// cadence gates periodic control packets to a fixed interval.
type cadence struct {
	interval time.Duration
	last     time.Time
	started  bool
}

func (c *cadence) due(now time.Time) bool {
	return !c.started || now.Sub(c.last) >= c.interval
}

func (c *cadence) mark(now time.Time) {
	c.last = now
	c.started = true
}
