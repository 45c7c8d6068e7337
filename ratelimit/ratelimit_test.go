package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmitWithinBurst(t *testing.T) {
	l := New(func(o *Options) {
		o.SenderBurst = 3
		o.SenderPerMinute = 1
		o.GlobalBurst = 100
	})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Admit("sender-a"), "call %d within burst", i)
	}
	assert.False(t, l.Admit("sender-a"), "burst exhausted")
}

func TestAdmitIsPerSender(t *testing.T) {
	l := New(func(o *Options) {
		o.SenderBurst = 1
		o.SenderPerMinute = 1
		o.GlobalBurst = 100
	})

	assert.True(t, l.Admit("sender-a"))
	assert.False(t, l.Admit("sender-a"))

	// A different sender has its own fresh bucket.
	assert.True(t, l.Admit("sender-b"))
}

func TestGlobalCapSharedAcrossSenders(t *testing.T) {
	l := New(func(o *Options) {
		o.SenderBurst = 10
		o.SenderPerMinute = 600
		o.GlobalBurst = 5
		o.GlobalPerSecond = 0.001
	})

	admitted := 0
	for i := 0; i < 20; i++ {
		if l.Admit(fmt.Sprintf("sender-%d", i)) {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)
}

func TestGlobalRejectionRefundsSenderToken(t *testing.T) {
	l := New(func(o *Options) {
		o.SenderBurst = 1
		o.SenderPerMinute = 0.001
		o.GlobalBurst = 1
		o.GlobalPerSecond = 1
	})

	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Admit("sender-a"))

	// The global bucket is empty; sender-b is turned away but keeps its token.
	assert.False(t, l.Admit("sender-b"))

	// One second later the global bucket has refilled. sender-b's own refill
	// rate is near zero, so admission here proves the token was refunded.
	l.now = func() time.Time { return now.Add(time.Second) }
	assert.True(t, l.Admit("sender-b"))
}

func TestPruneDropsIdleSenders(t *testing.T) {
	l := New(func(o *Options) {
		o.IdleAfter = time.Minute
	})

	now := time.Now()
	l.now = func() time.Time { return now }

	l.Admit("sender-a")
	l.Admit("sender-b")

	l.now = func() time.Time { return now.Add(2 * time.Minute) }
	l.Admit("sender-b")

	assert.Equal(t, 1, l.Prune())

	l.mu.Lock()
	_, hasA := l.senders["sender-a"]
	_, hasB := l.senders["sender-b"]
	l.mu.Unlock()
	assert.False(t, hasA)
	assert.True(t, hasB)
}
