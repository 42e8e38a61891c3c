package queue

import "time"

// RetryStrategy decides how long a failed pending write waits before
// the next drain run may touch it. Injectable so tests run with zero
// delay and production keeps the capped exponential.
type RetryStrategy interface {
	NextDelay(attempt int) time.Duration
}

type FixedDelay time.Duration

func (d FixedDelay) NextDelay(int) time.Duration { return time.Duration(d) }

// NoDelay retries immediately. Test strategy.
type NoDelay struct{}

func (NoDelay) NextDelay(int) time.Duration { return 0 }

// CappedExponential doubles from Initial per attempt, clamped at Max.
type CappedExponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (s CappedExponential) NextDelay(attempt int) time.Duration {
	backoff := s.Initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > s.Max {
			return s.Max
		}
	}
	return backoff
}
