package supervisor

import (
	"time"

	"golang.org/x/time/rate"
)

type relayLimiter interface {
	Allow() bool
}

type limiterAdapter struct {
	limiter *rate.Limiter
}

// newRelayLimiter allows one signal per interval. A non-positive interval
// disables throttling.
func newRelayLimiter(interval time.Duration) relayLimiter {
	if interval <= 0 {
		return &limiterAdapter{}
	}

	return &limiterAdapter{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (l *limiterAdapter) Allow() bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}
