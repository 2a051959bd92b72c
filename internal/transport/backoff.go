package transport

import (
	"math/rand"
	"sync"
	"time"
)

const minReconnectDelay = 50 * time.Millisecond

// backoff yields exponentially growing reconnect delays with up to 25% jitter
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func newBackoff(initial, max time.Duration) *backoff {
	if initial < minReconnectDelay {
		initial = minReconnectDelay
	}
	if max < initial {
		max = initial
	}
	return &backoff{
		initial: initial,
		max:     max,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the next attempt and advances the schedule
func (b *backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if delay == 0 {
		delay = b.initial
	}

	next := time.Duration(float64(delay) * 2)
	if next > b.max || next <= 0 {
		next = b.max
	}
	b.current = next

	if quarter := int64(delay / 4); quarter > 0 {
		delay += time.Duration(b.rnd.Int63n(quarter))
	}
	return delay
}

// Reset restarts the schedule after a successful connection
func (b *backoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}
