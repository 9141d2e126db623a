package hearing

import "time"

const (
	defaultReconnectBaseDelay   = time.Second
	defaultReconnectMaxDelay    = 30 * time.Second
	defaultReconnectMaxAttempts = 5
)

// Backoff is the socket reconnection policy.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:   defaultReconnectBaseDelay,
		MaxDelay:    defaultReconnectMaxDelay,
		MaxAttempts: defaultReconnectMaxAttempts,
	}
}

// Delay returns the wait before reconnect attempt n (1-based): BaseDelay
// doubled per attempt, capped at MaxDelay.
func (b Backoff) Delay(n int) time.Duration {
	if b.BaseDelay <= 0 {
		return 0
	}
	d := b.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Allows reports whether attempt n is within the budget.
func (b Backoff) Allows(n int) bool {
	return n <= b.MaxAttempts
}
