package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/commercemesh/core"
)

func testEnvelope(messageID string) core.QueueEnvelope {
	return core.QueueEnvelope{
		SenderID:          "+15550001111",
		PlatformMessageID: messageID,
		Text:              "hello",
		EnqueuedAt:        time.Now().UTC(),
	}
}

func receive(t *testing.T, deliveries <-chan *Delivery) *Delivery {
	t.Helper()
	select {
	case d := <-deliveries:
		require.NotNil(t, d)
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestPublishConsumeAck(t *testing.T) {
	q := New()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Consume(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, "events", testEnvelope("msg-1")))

	d := receive(t, deliveries)
	assert.Equal(t, "msg-1", d.Envelope.PlatformMessageID)
	assert.Equal(t, 0, d.Envelope.Attempt)
	d.Ack()
}

func TestNackRedeliversWithIncrementedAttempt(t *testing.T) {
	q := New(func(o *Options) {
		o.BackoffBase = 10 * time.Millisecond
	})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Consume(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, "events", testEnvelope("msg-1")))

	first := receive(t, deliveries)
	assert.Equal(t, 0, first.Envelope.Attempt)
	first.Nack()

	second := receive(t, deliveries)
	assert.Equal(t, "msg-1", second.Envelope.PlatformMessageID)
	assert.Equal(t, 1, second.Envelope.Attempt)
	second.Ack()
}

func TestAckNackIdempotent(t *testing.T) {
	q := New(func(o *Options) {
		o.BackoffBase = 10 * time.Millisecond
	})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := q.Consume(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, "events", testEnvelope("msg-1")))

	d := receive(t, deliveries)
	d.Ack()
	// A late Nack after Ack must not cause a redelivery.
	d.Nack()

	select {
	case extra := <-deliveries:
		t.Fatalf("unexpected redelivery: %+v", extra.Envelope)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDeadLetterTopic(t *testing.T) {
	q := New()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dead, err := q.Consume(ctx, "events"+DeadSuffix)
	require.NoError(t, err)

	require.NoError(t, q.PublishDeadLetter(ctx, "events", testEnvelope("msg-1")))

	d := receive(t, dead)
	assert.Equal(t, "msg-1", d.Envelope.PlatformMessageID)
	d.Ack()
}

func TestBackoffBounded(t *testing.T) {
	q := New(func(o *Options) {
		o.BackoffBase = time.Second
		o.BackoffMax = 4 * time.Second
	})
	defer q.Close()

	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 4*time.Second, q.backoff(3))
	assert.Equal(t, 4*time.Second, q.backoff(10))
}
