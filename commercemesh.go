// Package commercemesh wires the conversational commerce pipeline end to
// end: ingress admission, deduplication, the durable queue, the worker pool
// with its tool-use loop, and outbound delivery. The zero-configuration
// Pipeline runs entirely in memory, which is the embedding and test setup;
// production wiring swaps in SQLite, Redis and the real platform adapters.
package commercemesh

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/commercemesh/commerce"
	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/dedup"
	"github.com/hupe1980/commercemesh/dialog"
	"github.com/hupe1980/commercemesh/flow"
	"github.com/hupe1980/commercemesh/logging"
	"github.com/hupe1980/commercemesh/messaging"
	"github.com/hupe1980/commercemesh/model"
	"github.com/hupe1980/commercemesh/payment"
	"github.com/hupe1980/commercemesh/queue"
	"github.com/hupe1980/commercemesh/worker"
)

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// Topic is the queue topic events flow through.
	Topic string
	// Workers is the worker pool size.
	Workers int
	// MaxAttempts is the delivery budget per event.
	MaxAttempts int
	// MaxToolRounds caps engine invocations per event.
	MaxToolRounds int
	// LockTimeout bounds waiting for a dialog lock.
	LockTimeout time.Duration
	// DedupTTL bounds how long processed message ids are remembered.
	DedupTTL time.Duration

	// Catalog, Orders, Payments, Dedup, Dialogs and Sender override the
	// in-memory defaults.
	Catalog   commerce.Catalog
	Orders    commerce.Orders
	Payments  commerce.PaymentProvider
	Dedup     dedup.Store
	Dialogs   dialog.Store
	Sender    worker.Sender
	DeadStore worker.DeadLetterStore

	Logger logging.Logger
}

// Pipeline is the assembled event pipeline. Events enter through Submit and
// replies leave through the configured sender.
type Pipeline struct {
	queue  *queue.Queue
	pool   *worker.Pool
	dedup  dedup.Store
	facade *commerce.Facade
	topic  string
	logger logging.Logger
}

// NewPipeline assembles a pipeline around the reasoning engine. Components
// not overridden in the options run in memory.
func NewPipeline(engine model.Model, optFns ...func(o *PipelineOptions)) *Pipeline {
	opts := PipelineOptions{
		Topic:         "events",
		Workers:       4,
		MaxAttempts:   3,
		MaxToolRounds: 5,
		LockTimeout:   30 * time.Second,
		DedupTTL:      24 * time.Hour,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.NonNil(opts.Logger)

	if opts.Catalog == nil {
		opts.Catalog = commerce.NewInMemoryCatalog()
	}
	if opts.Orders == nil {
		opts.Orders = commerce.NewInMemoryOrders()
	}
	if opts.Payments == nil {
		opts.Payments = payment.NewMock()
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.NewInMemoryStore(opts.DedupTTL)
	}
	if opts.Dialogs == nil {
		opts.Dialogs = dialog.NewCachingStore(dialog.NewInMemoryDurable(), func(o *dialog.Options) {
			o.Logger = logger
		})
	}
	if opts.Sender == nil {
		opts.Sender = messaging.NewMock()
	}
	if opts.DeadStore == nil {
		opts.DeadStore = &InMemoryDeadLetters{}
	}

	facade := commerce.NewFacade(opts.Catalog, opts.Orders, opts.Payments)

	loop := flow.NewToolLoop(engine, facade.Tools(), func(o *flow.Options) {
		o.MaxRounds = opts.MaxToolRounds
		o.Logger = logger
	})

	q := queue.New(func(o *queue.Options) {
		o.Logger = logger
	})

	pool := worker.NewPool(q, opts.Dedup, opts.Dialogs, loop, opts.Sender, opts.DeadStore, func(o *worker.Options) {
		o.Workers = opts.Workers
		o.Topic = opts.Topic
		o.MaxAttempts = opts.MaxAttempts
		o.LockTimeout = opts.LockTimeout
		o.Logger = logger
	})

	return &Pipeline{
		queue:  q,
		pool:   pool,
		dedup:  opts.Dedup,
		facade: facade,
		topic:  opts.Topic,
		logger: logger,
	}
}

// Start begins consuming submitted events.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.pool.Start(ctx)
}

// Stop drains in-flight events and shuts the queue down.
func (p *Pipeline) Stop() {
	p.pool.Stop()
	_ = p.queue.Close()
}

// Submit enqueues one inbound chat event.
func (p *Pipeline) Submit(ctx context.Context, senderID, platformMessageID, text string) error {
	env := core.QueueEnvelope{
		SenderID:          senderID,
		PlatformMessageID: platformMessageID,
		Text:              text,
		EnqueuedAt:        time.Now().UTC(),
	}
	return p.queue.Publish(ctx, p.topic, env)
}

// Facade exposes the commerce operations, mainly for seeding test catalogs
// and inspecting orders.
func (p *Pipeline) Facade() *commerce.Facade {
	return p.facade
}

// InMemoryDeadLetters records dead-lettered envelopes in memory.
type InMemoryDeadLetters struct {
	mu      sync.Mutex
	letters []core.DeadLetter
}

// SaveDeadLetter appends the dead letter to the in-memory record.
func (m *InMemoryDeadLetters) SaveDeadLetter(_ context.Context, dl core.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, dl)
	return nil
}

// Letters returns a copy of all recorded dead letters.
func (m *InMemoryDeadLetters) Letters() []core.DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.DeadLetter, len(m.letters))
	copy(out, m.letters)
	return out
}
