package messaging

import (
	"context"
	"net/http"
	"sync"
)

// SentMessage records one outbound delivery made through the Mock adapter.
type SentMessage struct {
	RecipientID string
	Text        string
	MediaURL    string
}

// Mock is a recording Adapter for tests. Inbound validation always succeeds
// and parsing returns the scripted message.
type Mock struct {
	mu      sync.Mutex
	sent    []SentMessage
	sendErr error

	// Inbound is returned by ParseInbound.
	Inbound *InboundMessage
	// Reject makes ValidateInbound fail.
	Reject bool
}

// NewMock constructs a Mock adapter.
func NewMock() *Mock {
	return &Mock{}
}

// FailSendsWith makes SendText and SendMedia return err until reset with nil.
func (m *Mock) FailSendsWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of all recorded outbound messages.
func (m *Mock) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *Mock) ValidateInbound(_ *http.Request) bool {
	return !m.Reject
}

func (m *Mock) ParseInbound(_ *http.Request) (*InboundMessage, error) {
	return m.Inbound, nil
}

func (m *Mock) SendText(_ context.Context, recipientID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{RecipientID: recipientID, Text: text})
	return nil
}

func (m *Mock) SendMedia(_ context.Context, recipientID, mediaURL, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{RecipientID: recipientID, Text: caption, MediaURL: mediaURL})
	return nil
}
