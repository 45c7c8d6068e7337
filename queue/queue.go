// Package queue provides the durable hand-off between webhook ingress and the
// worker pool. Envelopes are published to an in-process pubsub; each delivery
// carries an attempt counter so redelivery after a transient failure can back
// off and eventually dead-letter.
package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/logging"
)

const (
	metadataAttempt = "attempt"

	// DeadSuffix is appended to a topic name to form its dead-letter topic.
	DeadSuffix = ".dead"
)

// Options configures a Queue.
type Options struct {
	// Buffer is the per-subscriber channel capacity.
	Buffer int64
	// BackoffBase is the redelivery delay for the first retry; each further
	// retry doubles it up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Logger      logging.Logger
}

// Queue is an at-least-once message queue for core.QueueEnvelope values.
type Queue struct {
	pubsub *gochannel.GoChannel
	opts   Options
	logger logging.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New constructs a Queue backed by an in-process pubsub.
func New(optFns ...func(o *Options)) *Queue {
	opts := Options{
		Buffer:      256,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.NonNil(opts.Logger)

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: opts.Buffer,
	}, newLoggerAdapter(logger))

	return &Queue{
		pubsub: pubsub,
		opts:   opts,
		logger: logger,
	}
}

// Publish enqueues an envelope on the given topic.
func (q *Queue) Publish(ctx context.Context, topic string, env core.QueueEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return core.Fatal("queue.publish", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataAttempt, strconv.Itoa(env.Attempt))
	msg.SetContext(ctx)

	if err := q.pubsub.Publish(topic, msg); err != nil {
		return core.Transient("queue.publish", err)
	}

	q.logger.Debug("queue.publish", "topic", topic, "message_id", env.PlatformMessageID, "attempt", env.Attempt)

	return nil
}

// PublishDeadLetter places the envelope on the topic's dead-letter topic.
func (q *Queue) PublishDeadLetter(ctx context.Context, topic string, env core.QueueEnvelope) error {
	return q.Publish(ctx, topic+DeadSuffix, env)
}

// Delivery is a single dequeued envelope. Exactly one of Ack or Nack must be
// called once processing finishes.
type Delivery struct {
	Envelope core.QueueEnvelope

	msg   *message.Message
	queue *Queue
	topic string
	once  sync.Once
}

// Ack marks the delivery as fully processed.
func (d *Delivery) Ack() {
	d.once.Do(func() {
		d.msg.Ack()
	})
}

// Nack schedules a redelivery of the envelope with the attempt counter
// incremented, after a backoff proportional to the attempt count. The caller
// is responsible for dead-lettering instead of nacking once the attempt
// budget is exhausted.
func (d *Delivery) Nack() {
	d.once.Do(func() {
		// The underlying message is acked; redelivery happens through a fresh
		// publish so the attempt counter can advance.
		d.msg.Ack()

		env := d.Envelope
		env.Attempt++

		delay := d.queue.backoff(env.Attempt)
		d.queue.logger.Debug("queue.nack",
			"topic", d.topic,
			"message_id", env.PlatformMessageID,
			"attempt", env.Attempt,
			"delay", delay.String(),
		)

		d.queue.wg.Add(1)
		time.AfterFunc(delay, func() {
			defer d.queue.wg.Done()

			d.queue.mu.Lock()
			closed := d.queue.closed
			d.queue.mu.Unlock()
			if closed {
				return
			}

			if err := d.queue.Publish(context.Background(), d.topic, env); err != nil {
				d.queue.logger.Error("queue.redeliver_failed",
					"topic", d.topic,
					"message_id", env.PlatformMessageID,
					"error", err,
				)
			}
		})
	})
}

func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	if delay > q.opts.BackoffMax {
		delay = q.opts.BackoffMax
	}
	return delay
}

// Consume subscribes to the topic and returns a channel of deliveries. The
// channel closes when ctx is cancelled or the queue is closed.
func (q *Queue) Consume(ctx context.Context, topic string) (<-chan *Delivery, error) {
	messages, err := q.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, core.Transient("queue.consume", err)
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for msg := range messages {
			var env core.QueueEnvelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				q.logger.Error("queue.decode_failed", "topic", topic, "error", err)
				msg.Ack()
				continue
			}
			if raw := msg.Metadata.Get(metadataAttempt); raw != "" {
				if n, err := strconv.Atoi(raw); err == nil && n > env.Attempt {
					env.Attempt = n
				}
			}

			select {
			case out <- &Delivery{Envelope: env, msg: msg, queue: q, topic: topic}:
			case <-ctx.Done():
				msg.Ack()
				return
			}
		}
	}()

	return out, nil
}

// Close stops the queue. Pending redeliveries are drained first so no
// publish races the pubsub shutdown.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()

	return q.pubsub.Close()
}
