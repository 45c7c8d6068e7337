package core

import "time"

// QueueEnvelope wraps one inbound dialog event for transport through the
// ingress queue. The platform message id is assigned by the messaging
// platform and drives deduplication; Attempt counts deliveries and
// monotonically increases across redeliveries.
type QueueEnvelope struct {
	SenderID          string    `json:"sender_id"`
	PlatformMessageID string    `json:"platform_message_id"`
	Text              string    `json:"text"`
	MediaURL          string    `json:"media_url,omitempty"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
	Attempt           int       `json:"attempt"`
}

// DialogID returns the dialog the envelope belongs to. One sender maps to
// one active dialog, so the sender id is the dialog key.
func (e QueueEnvelope) DialogID() string { return e.SenderID }

// DeadLetter records an envelope that exhausted its redelivery attempts
// without successful processing. Envelopes are never silently dropped.
type DeadLetter struct {
	Envelope QueueEnvelope `json:"envelope"`
	Reason   string        `json:"reason"`
	FailedAt time.Time     `json:"failed_at"`
}
