package isdn

import "time"

// protoTimer is a comparison based protocol timer. It never fires on its
// own: callers pass the current time to Timeout.
type protoTimer struct {
	interval time.Duration
	fire     time.Time
}

func newTimer(interval time.Duration) protoTimer {
	return protoTimer{interval: interval}
}

// Start (re)arms the timer relative to now.
func (t *protoTimer) Start(now time.Time) {
	t.fire = now.Add(t.interval)
}

func (t *protoTimer) Stop() {
	t.fire = time.Time{}
}

func (t *protoTimer) Started() bool {
	return !t.fire.IsZero()
}

// Timeout reports whether the timer is running and expired at now.
func (t *protoTimer) Timeout(now time.Time) bool {
	return t.Started() && !now.Before(t.fire)
}
