// Package messaging abstracts the chat platform behind the webhook: inbound
// request validation and parsing, and outbound text and media delivery.
package messaging

import (
	"context"
	"net/http"
	"time"
)

// InboundMessage is the platform-neutral form of an incoming chat event.
type InboundMessage struct {
	Platform          string
	SenderID          string
	PlatformMessageID string
	Text              string
	MediaURL          string
	Received          time.Time
}

// Adapter is the contract a chat platform integration fulfils.
type Adapter interface {
	// ValidateInbound checks the request's authenticity, typically via a
	// platform signature header.
	ValidateInbound(r *http.Request) bool
	// ParseInbound extracts the inbound message from a validated request.
	ParseInbound(r *http.Request) (*InboundMessage, error)
	// SendText delivers a text reply to the recipient.
	SendText(ctx context.Context, recipientID, text string) error
	// SendMedia delivers a media message with optional caption.
	SendMedia(ctx context.Context, recipientID, mediaURL, caption string) error
}
