// Package ratelimit implements admission control at the pipeline ingress:
// a token bucket per sender plus one global bucket. Rejection happens before
// enqueue, so no downstream work is wasted on traffic past the threshold.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter performs per-sender and global admission checks. Safe for
// concurrent use; many senders' events interleave here.
type Limiter struct {
	mu      sync.Mutex
	senders map[string]*senderBucket

	senderRate  rate.Limit
	senderBurst int
	global      *rate.Limiter

	idleAfter time.Duration
	now       func() time.Time
}

// Options configures a Limiter.
type Options struct {
	// SenderPerMinute is the sustained refill rate of each sender's bucket.
	SenderPerMinute float64
	// SenderBurst is the capacity of each sender's bucket.
	SenderBurst int
	// GlobalPerSecond is the sustained refill rate of the global bucket.
	GlobalPerSecond float64
	// GlobalBurst is the capacity of the global bucket.
	GlobalBurst int
	// IdleAfter controls when an idle sender's bucket may be pruned.
	IdleAfter time.Duration
}

// New constructs a Limiter.
func New(optFns ...func(o *Options)) *Limiter {
	opts := Options{
		SenderPerMinute: 10,
		SenderBurst:     5,
		GlobalPerSecond: 50,
		GlobalBurst:     100,
		IdleAfter:       10 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Limiter{
		senders:     make(map[string]*senderBucket),
		senderRate:  rate.Limit(opts.SenderPerMinute / 60.0),
		senderBurst: opts.SenderBurst,
		global:      rate.NewLimiter(rate.Limit(opts.GlobalPerSecond), opts.GlobalBurst),
		idleAfter:   opts.IdleAfter,
		now:         time.Now,
	}
}

// Admit reports whether an event from senderID may enter the pipeline. The
// sender bucket is checked first so one noisy sender burns its own tokens
// before touching the shared budget. A global rejection refunds the sender's
// token; global pressure must not also drain individual buckets.
func (l *Limiter) Admit(senderID string) bool {
	l.mu.Lock()
	b, ok := l.senders[senderID]
	if !ok {
		b = &senderBucket{limiter: rate.NewLimiter(l.senderRate, l.senderBurst)}
		l.senders[senderID] = b
	}
	now := l.now()
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() || r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return false
	}
	if !l.global.AllowN(now, 1) {
		r.CancelAt(now)
		return false
	}
	return true
}

// Prune drops buckets of senders idle past IdleAfter, bounding memory growth.
// Returns the number of pruned buckets.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleAfter)
	removed := 0
	for id, b := range l.senders {
		if b.lastSeen.Before(cutoff) {
			delete(l.senders, id)
			removed++
		}
	}
	return removed
}
