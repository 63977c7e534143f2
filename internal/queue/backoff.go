package queue

import (
	"math/rand"
	"time"
)

// Backoff computes capped, jittered exponential retry delays. The source
// system grew its delays without bound; the cap and jitter here are a
// deliberate deviation.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay, e.g. 0.2 for +/-20%
}

// Delay returns the wait before the given retry attempt (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	delay := b.Base
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= b.Max {
			delay = b.Max
			break
		}
	}
	if delay > b.Max {
		delay = b.Max
	}

	if b.Jitter > 0 {
		factor := (rand.Float64()*2 - 1) * b.Jitter
		delay += time.Duration(factor * float64(delay))
		if delay < b.Base {
			delay = b.Base
		}
	}
	return delay
}
