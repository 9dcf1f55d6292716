package streamclient

import (
	"math/rand"
	"sync"
	"time"
)

// Default reconnect timing
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
	DefaultJitterMax = time.Second
)

// Backoff computes reconnect delays. After n consecutive failures the delay
// is min(Max, Base·2^n) plus a uniform jitter in [0, JitterMax).
type Backoff struct {
	Base      time.Duration
	Max       time.Duration
	JitterMax time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoff returns a Backoff with zero fields replaced by the defaults
func NewBackoff(base, max, jitterMax time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if jitterMax < 0 {
		jitterMax = 0
	}
	return &Backoff{
		Base:      base,
		Max:       max,
		JitterMax: jitterMax,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Floor is the deterministic part of the delay after n failures
func (b *Backoff) Floor(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Delay returns the wait before the next attempt after n consecutive failures
func (b *Backoff) Delay(n int) time.Duration {
	return b.Floor(n) + b.jitter()
}

func (b *Backoff) jitter() time.Duration {
	if b.JitterMax <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rnd == nil {
		b.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(b.rnd.Int63n(int64(b.JitterMax)))
}
