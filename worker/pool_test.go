package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/dedup"
	"github.com/hupe1980/commercemesh/dialog"
	"github.com/hupe1980/commercemesh/messaging"
	"github.com/hupe1980/commercemesh/queue"
)

type stubResponder struct {
	mu      sync.Mutex
	replies map[string]string
	failFor map[string]error
	calls   []string

	inFlight   int32
	overlapped int32
	delay      time.Duration
}

func newStubResponder() *stubResponder {
	return &stubResponder{
		replies: make(map[string]string),
		failFor: make(map[string]error),
	}
}

func (r *stubResponder) Run(_ context.Context, d *core.Dialog, userText, _ string) (string, error) {
	if atomic.AddInt32(&r.inFlight, 1) > 1 {
		atomic.StoreInt32(&r.overlapped, 1)
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	defer atomic.AddInt32(&r.inFlight, -1)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, userText)
	if err, ok := r.failFor[userText]; ok {
		return "", err
	}
	if reply, ok := r.replies[userText]; ok {
		return reply, nil
	}
	return "ok: " + userText, nil
}

func (r *stubResponder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *stubResponder) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

type recordingDeadStore struct {
	mu      sync.Mutex
	letters []core.DeadLetter
}

func (s *recordingDeadStore) SaveDeadLetter(_ context.Context, dl core.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *recordingDeadStore) all() []core.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DeadLetter, len(s.letters))
	copy(out, s.letters)
	return out
}

type fixture struct {
	queue     *queue.Queue
	pool      *Pool
	responder *stubResponder
	sender    *messaging.Mock
	dedup     *dedup.InMemoryStore
	dialogs   *dialog.CachingStore
	dead      *recordingDeadStore
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()

	q := queue.New(func(o *queue.Options) {
		o.BackoffBase = 5 * time.Millisecond
	})
	responder := newStubResponder()
	sender := messaging.NewMock()
	dedupStore := dedup.NewInMemoryStore(time.Hour)
	dialogs := dialog.NewCachingStore(dialog.NewInMemoryDurable())
	dead := &recordingDeadStore{}

	opts := append([]func(o *Options){func(o *Options) {
		o.Workers = 2
		o.MaxAttempts = 3
		o.LockTimeout = time.Second
	}}, optFns...)

	pool := NewPool(q, dedupStore, dialogs, responder, sender, dead, opts...)

	return &fixture{
		queue:     q,
		pool:      pool,
		responder: responder,
		sender:    sender,
		dedup:     dedupStore,
		dialogs:   dialogs,
		dead:      dead,
	}
}

func (f *fixture) start(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.pool.Start(ctx))
	return cancel
}

func (f *fixture) submit(t *testing.T, senderID, messageID, text string) {
	t.Helper()
	err := f.queue.Publish(context.Background(), "events", core.QueueEnvelope{
		SenderID:          senderID,
		PlatformMessageID: messageID,
		Text:              text,
		EnqueuedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEventProcessedAndReplied(t *testing.T) {
	f := newFixture(t)
	cancel := f.start(t)
	defer func() { cancel(); f.pool.Stop(); f.queue.Close() }()

	f.submit(t, "+15550001111", "msg-1", "hello")

	waitFor(t, func() bool { return len(f.sender.Sent()) == 1 })

	sent := f.sender.Sent()
	assert.Equal(t, "+15550001111", sent[0].RecipientID)
	assert.Equal(t, "ok: hello", sent[0].Text)

	// Both turns are persisted.
	waitFor(t, func() bool {
		d, err := f.dialogs.Load(context.Background(), "+15550001111")
		return err == nil && len(d.History) == 2
	})
}

func TestDuplicateMessageProcessedOnce(t *testing.T) {
	f := newFixture(t)
	cancel := f.start(t)
	defer func() { cancel(); f.pool.Stop(); f.queue.Close() }()

	f.submit(t, "+15550001111", "msg-1", "hello")
	f.submit(t, "+15550001111", "msg-1", "hello")

	waitFor(t, func() bool { return len(f.sender.Sent()) >= 1 })
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, f.responder.callCount())
	assert.Len(t, f.sender.Sent(), 1)
}

func TestSameDialogNeverProcessedConcurrently(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Workers = 4
	})
	f.responder.delay = 30 * time.Millisecond
	cancel := f.start(t)
	defer func() { cancel(); f.pool.Stop(); f.queue.Close() }()

	for i := 0; i < 5; i++ {
		f.submit(t, "+15550001111", fmt.Sprintf("msg-%d", i), fmt.Sprintf("text %d", i))
	}

	waitFor(t, func() bool { return len(f.sender.Sent()) == 5 })

	assert.Zero(t, atomic.LoadInt32(&f.responder.overlapped),
		"two workers held the same dialog at once")

	d, err := f.dialogs.Load(context.Background(), "+15550001111")
	require.NoError(t, err)
	assert.Len(t, d.History, 10)
}

// delayingDedup stalls CheckAndReserve for one message id, widening the
// window between dequeue and processing.
type delayingDedup struct {
	dedup.Store
	slowID string
	delay  time.Duration
}

func (s *delayingDedup) CheckAndReserve(ctx context.Context, messageID string) (dedup.Outcome, error) {
	if messageID == s.slowID {
		time.Sleep(s.delay)
	}
	return s.Store.CheckAndReserve(ctx, messageID)
}

func TestSameDialogProcessedInSubmissionOrder(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Workers = 4
	})
	// Even with the first event stalled in the dedup store, the second must
	// not overtake it.
	f.pool.dedup = &delayingDedup{Store: f.dedup, slowID: "msg-0", delay: 100 * time.Millisecond}

	cancel := f.start(t)
	defer func() { cancel(); f.pool.Stop(); f.queue.Close() }()

	f.submit(t, "+15550001111", "msg-0", "first")
	f.submit(t, "+15550001111", "msg-1", "second")

	waitFor(t, func() bool { return f.responder.callCount() == 2 })

	assert.Equal(t, []string{"first", "second"}, f.responder.callOrder())
}

func TestTransientFailureRetriedThenSucceeds(t *testing.T) {
	f := newFixture(t)

	// Fail the first attempt only.
	var failed int32
	f.pool.responder = responderFunc(func(_ context.Context, _ *core.Dialog, _ string) (string, error) {
		if atomic.CompareAndSwapInt32(&failed, 0, 1) {
			return "", core.Transient("engine", assert.AnError)
		}
		return "recovered", nil
	})

	cancel := f.start(t)
	defer func() { cancel(); f.pool.Stop(); f.queue.Close() }()

	f.submit(t, "+15550001111", "msg-1", "flaky")

	waitFor(t, func() bool { return len(f.sender.Sent()) == 1 })
	assert.Equal(t, "recovered", f.sender.Sent()[0].Text)
	assert.Empty(t, f.dead.all())
}

type responderFunc func(ctx context.Context, d *core.Dialog, text string) (string, error)

func (f responderFunc) Run(ctx context.Context, d *core.Dialog, text, _ string) (string, error) {
	return f(ctx, d, text)
}

func TestAttemptsExhaustedDeadLetters(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.MaxAttempts = 2
	})
	f.pool.responder = responderFunc(func(_ context.Context, _ *core.Dialog, _ string) (string, error) {
		return "", core.Transient("engine", assert.AnError)
	})

	cancel := f.start(t)
	defer func() { cancel(); f.pool.Stop(); f.queue.Close() }()

	f.submit(t, "+15550001111", "msg-1", "doomed")

	waitFor(t, func() bool { return len(f.dead.all()) == 1 })

	dl := f.dead.all()[0]
	assert.Equal(t, "msg-1", dl.Envelope.PlatformMessageID)

	// The customer gets the courtesy notice.
	waitFor(t, func() bool { return len(f.sender.Sent()) == 1 })
	assert.Equal(t, DefaultApology, f.sender.Sent()[0].Text)

	// Redeliveries of the dead-lettered id are dropped.
	seen, err := f.dedup.Seen(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestFatalErrorDeadLettersImmediately(t *testing.T) {
	f := newFixture(t)
	f.pool.responder = responderFunc(func(_ context.Context, _ *core.Dialog, _ string) (string, error) {
		return "", core.Fatal("process", assert.AnError)
	})

	cancel := f.start(t)
	defer func() { cancel(); f.pool.Stop(); f.queue.Close() }()

	f.submit(t, "+15550001111", "msg-1", "poison")

	waitFor(t, func() bool { return len(f.dead.all()) == 1 })

	// No retries happened before parking.
	assert.Len(t, f.dead.all(), 1)
}
