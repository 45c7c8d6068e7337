// Package worker consumes queued chat events and drives them through the
// pipeline: dedup reservation, per-dialog locking, dialog load, the tool-use
// loop, durable persistence and the outbound reply. Events that keep failing
// are dead-lettered with a courtesy notice to the sender.
package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/dedup"
	"github.com/hupe1980/commercemesh/dialog"
	"github.com/hupe1980/commercemesh/logging"
	"github.com/hupe1980/commercemesh/queue"
)

// DefaultApology is sent to the customer when their event is dead-lettered.
const DefaultApology = "I'm sorry, something went wrong on our side and I couldn't process your message. Please try again in a little while."

// Responder runs one conversation turn and returns the assistant reply.
// *flow.ToolLoop satisfies it.
type Responder interface {
	Run(ctx context.Context, d *core.Dialog, userText, eventID string) (string, error)
}

// Sender delivers outbound text replies. messaging.Adapter satisfies it.
type Sender interface {
	SendText(ctx context.Context, recipientID, text string) error
}

// DeadLetterStore persists permanently failed envelopes for inspection.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, dl core.DeadLetter) error
}

// Options configures a Pool.
type Options struct {
	// Workers is the number of concurrent consumers.
	Workers int
	// Topic is the queue topic to consume.
	Topic string
	// MaxAttempts is the delivery budget per envelope before dead-lettering.
	MaxAttempts int
	// LockTimeout bounds waiting for a dialog's lock.
	LockTimeout time.Duration
	Logger      logging.Logger
}

// Pool is a fixed-size worker pool over the event queue.
type Pool struct {
	queue     *queue.Queue
	dedup     dedup.Store
	dialogs   dialog.Store
	responder Responder
	sender    Sender
	deadStore DeadLetterStore

	locks  *lockRegistry
	opts   Options
	logger logging.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool constructs a worker pool; Start begins consumption.
func NewPool(
	q *queue.Queue,
	dedupStore dedup.Store,
	dialogs dialog.Store,
	responder Responder,
	sender Sender,
	deadStore DeadLetterStore,
	optFns ...func(o *Options),
) *Pool {
	opts := Options{
		Workers:     4,
		Topic:       "events",
		MaxAttempts: 3,
		LockTimeout: 30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Pool{
		queue:     q,
		dedup:     dedupStore,
		dialogs:   dialogs,
		responder: responder,
		sender:    sender,
		deadStore: deadStore,
		locks:     newLockRegistry(),
		opts:      opts,
		logger:    logging.NonNil(opts.Logger),
	}
}

// laneBuffer bounds how many deliveries a lane holds before the dispatcher
// blocks on it.
const laneBuffer = 16

// Start subscribes to the topic and spawns Workers consumers. A dispatcher
// routes each delivery to a lane chosen by dialog-id hash, so all events of
// one dialog are handled by the same worker in dequeue order.
func (p *Pool) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	deliveries, err := p.queue.Consume(runCtx, p.opts.Topic)
	if err != nil {
		cancel()
		return err
	}

	lanes := make([]chan *queue.Delivery, p.opts.Workers)
	for i := range lanes {
		lanes[i] = make(chan *queue.Delivery, laneBuffer)
	}

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func(id int, lane <-chan *queue.Delivery) {
			defer p.wg.Done()
			p.run(runCtx, id, lane)
		}(i, lanes[i])
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatch(runCtx, deliveries, lanes)
	}()

	p.logger.Info("worker.pool.started", "workers", p.opts.Workers, "topic", p.opts.Topic)

	return nil
}

// Stop cancels consumption and waits for in-flight events to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker.pool.stopped")
}

// dispatch fans deliveries out to the workers' lanes. The lane index is a
// pure function of the dialog id, which keeps each dialog on one worker.
func (p *Pool) dispatch(ctx context.Context, deliveries <-chan *queue.Delivery, lanes []chan *queue.Delivery) {
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			lane := lanes[laneFor(d.Envelope.DialogID(), len(lanes))]
			select {
			case lane <- d:
			case <-ctx.Done():
				return
			}
		}
	}
}

func laneFor(dialogID string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(dialogID))
	return int(h.Sum32() % uint32(lanes))
}

func (p *Pool) run(ctx context.Context, id int, lane <-chan *queue.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-lane:
			if !ok {
				return
			}
			p.handle(ctx, id, d)
		}
	}
}

// handle drives one delivery through the pipeline. Transient failures release
// the dedup reservation and nack so a later attempt can succeed; an exhausted
// attempt budget dead-letters instead.
func (p *Pool) handle(ctx context.Context, workerID int, d *queue.Delivery) {
	env := d.Envelope
	logger := p.logger

	outcome, err := p.dedup.CheckAndReserve(ctx, env.PlatformMessageID)
	if err != nil {
		logger.Warn("worker.dedup_unavailable", "message_id", env.PlatformMessageID, "error", err)
		d.Nack()
		return
	}
	if outcome == dedup.Duplicate {
		logger.Debug("worker.duplicate_dropped", "message_id", env.PlatformMessageID)
		d.Ack()
		return
	}

	if env.Attempt >= p.opts.MaxAttempts {
		p.deadLetter(ctx, d, "delivery attempts exhausted")
		return
	}

	release, err := p.locks.Acquire(ctx, env.DialogID(), p.opts.LockTimeout)
	if err != nil {
		logger.Warn("worker.lock_timeout", "dialog_id", env.DialogID(), "message_id", env.PlatformMessageID)
		p.fail(ctx, d)
		return
	}
	defer release()

	reply, err := p.process(ctx, env)
	if err != nil {
		logger.Error("worker.process_failed",
			"worker", workerID,
			"dialog_id", env.DialogID(),
			"message_id", env.PlatformMessageID,
			"attempt", env.Attempt,
			"error", err,
		)
		if core.IsFatal(err) || core.IsValidation(err) {
			p.deadLetter(ctx, d, err.Error())
			return
		}
		p.fail(ctx, d)
		return
	}

	if err := p.dedup.MarkProcessed(ctx, env.PlatformMessageID); err != nil {
		logger.Warn("worker.mark_processed_failed", "message_id", env.PlatformMessageID, "error", err)
	}

	d.Ack()

	// The reply goes out after the ack: state is durable at this point, and a
	// crashed send must not cause the whole turn to repeat.
	if err := p.sender.SendText(ctx, env.SenderID, reply); err != nil {
		logger.Error("worker.send_failed", "sender_id", env.SenderID, "error", err)
	}

	logger.Info("worker.event.done",
		"worker", workerID,
		"dialog_id", env.DialogID(),
		"message_id", env.PlatformMessageID,
	)
}

// process runs the conversation turn under the dialog lock: load, append the
// user message, run the tool loop, append the reply, persist.
func (p *Pool) process(ctx context.Context, env core.QueueEnvelope) (string, error) {
	dlg, err := p.dialogs.Load(ctx, env.DialogID())
	if err != nil {
		return "", err
	}

	dlg.AddMessage("user", env.Text)

	reply, err := p.responder.Run(ctx, dlg, env.Text, env.PlatformMessageID)
	if err != nil {
		return "", err
	}

	dlg.AddMessage("assistant", reply)

	if err := p.dialogs.Save(ctx, dlg); err != nil {
		return "", err
	}

	return reply, nil
}

// fail releases the dedup reservation and nacks so the redelivered envelope
// is treated as fresh.
func (p *Pool) fail(ctx context.Context, d *queue.Delivery) {
	if err := p.dedup.Release(ctx, d.Envelope.PlatformMessageID); err != nil {
		p.logger.Warn("worker.release_failed", "message_id", d.Envelope.PlatformMessageID, "error", err)
	}
	d.Nack()
}

// deadLetter parks the envelope durably and on the dead topic, tells the
// customer, and marks the message processed so redeliveries are dropped.
func (p *Pool) deadLetter(ctx context.Context, d *queue.Delivery, reason string) {
	env := d.Envelope

	p.logger.Error("worker.dead_letter",
		"dialog_id", env.DialogID(),
		"message_id", env.PlatformMessageID,
		"attempt", env.Attempt,
		"reason", reason,
	)

	dl := core.DeadLetter{
		Envelope: env,
		Reason:   reason,
		FailedAt: time.Now().UTC(),
	}
	if err := p.deadStore.SaveDeadLetter(ctx, dl); err != nil {
		p.logger.Error("worker.dead_letter.store_failed", "message_id", env.PlatformMessageID, "error", err)
	}
	if err := p.queue.PublishDeadLetter(ctx, p.opts.Topic, env); err != nil {
		p.logger.Error("worker.dead_letter.publish_failed", "message_id", env.PlatformMessageID, "error", err)
	}

	// Best effort; the notice failing must not resurrect the event.
	if err := p.sender.SendText(ctx, env.SenderID, DefaultApology); err != nil {
		p.logger.Warn("worker.dead_letter.notice_failed", "sender_id", env.SenderID, "error", err)
	}

	if err := p.dedup.MarkProcessed(ctx, env.PlatformMessageID); err != nil {
		p.logger.Warn("worker.mark_processed_failed", "message_id", env.PlatformMessageID, "error", err)
	}

	d.Ack()
}
