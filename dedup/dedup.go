// Package dedup implements the short-TTL store of processed platform message
// ids that guarantees at-most-once side effects under the queue's
// at-least-once delivery.
//
// CheckAndReserve is atomic: when it reports Fresh, the id is marked reserved
// before processing begins, so two workers racing on a redelivered duplicate
// cannot both proceed. Successful processing promotes the reservation to a
// durable (within TTL) processed record; failed processing releases it so a
// redelivery is not misclassified as a duplicate. The TTL must exceed the
// queue's maximum redelivery window.
package dedup

import "context"

// Outcome is the result of a CheckAndReserve call.
type Outcome int

const (
	// Fresh means the message id was unknown and is now reserved by the caller.
	Fresh Outcome = iota
	// Duplicate means the id is reserved or already processed; the caller must
	// acknowledge the delivery without re-running side effects.
	Duplicate
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	if o == Fresh {
		return "fresh"
	}
	return "duplicate"
}

// Store is the dedup record store. Implementations must make CheckAndReserve
// atomic under concurrent callers.
type Store interface {
	// CheckAndReserve atomically reserves messageID when it is unknown.
	CheckAndReserve(ctx context.Context, messageID string) (Outcome, error)

	// MarkProcessed promotes a reservation to a processed record with TTL.
	MarkProcessed(ctx context.Context, messageID string) error

	// Release drops a reservation after failed processing so the redelivered
	// message is treated as fresh. Releasing a processed id is a no-op.
	Release(ctx context.Context, messageID string) error

	// Seen reports whether messageID has already been fully processed. Used by
	// the ingress path as a cheap non-reserving duplicate drop.
	Seen(ctx context.Context, messageID string) (bool, error)
}
