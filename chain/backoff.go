package chain

import (
	"time"

	"gopkg.in/retry.v1"
)

// LinearBackoff is a retry.Strategy sleeping Step longer before every
// attempt, capped at Max when Max is set.
type LinearBackoff struct {
	Step time.Duration
	Max  time.Duration
}

// A compile-time check to ensure LinearBackoff implements retry.Strategy.
var _ retry.Strategy = LinearBackoff{}

// NewTimer implements retry.Strategy.
func (l LinearBackoff) NewTimer(now time.Time) retry.Timer {
	return &linearTimer{strategy: l}
}

type linearTimer struct {
	strategy LinearBackoff
	attempt  int
}

// NextSleep implements retry.Timer.
func (t *linearTimer) NextSleep(now time.Time) (time.Duration, bool) {
	sleep := time.Duration(t.attempt) * t.strategy.Step
	if t.strategy.Max > 0 && sleep > t.strategy.Max {
		sleep = t.strategy.Max
	}
	t.attempt++

	return sleep, true
}

// RetryStrategy returns a linear backoff limited to attempts tries.
func RetryStrategy(attempts int, step,
	maxSleep time.Duration) retry.Strategy {

	return retry.LimitCount(attempts, LinearBackoff{
		Step: step,
		Max:  maxSleep,
	})
}
