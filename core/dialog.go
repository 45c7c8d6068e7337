package core

import "time"

// Message is one persisted turn of a dialog's history. Tool call / tool
// result turns live only inside a single orchestration invocation and are
// never persisted, so a Message carries plain text.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Dialog is one ongoing conversational session with a single sender: its
// ordered message history, the active cart and a free-form context blob.
//
// Ownership contract: during event processing a Dialog is owned exclusively
// by the worker holding the per-dialog lock; at rest it is owned by the
// dialog store. The type therefore carries no internal locking; callers
// obtain defensive copies via Clone.
type Dialog struct {
	ID           string              `json:"id"`
	SenderID     string              `json:"sender_id"`
	History      []Message           `json:"history"`
	Cart         map[string]CartLine `json:"cart"` // keyed by product id
	Context      map[string]any      `json:"context,omitempty"`
	LastActivity time.Time           `json:"last_activity"`
	Created      time.Time           `json:"created"`
}

// NewDialog creates an empty dialog for the given sender. The dialog id
// doubles as the lock key, so one sender maps to one active dialog.
func NewDialog(senderID string) *Dialog {
	now := time.Now().UTC()
	return &Dialog{
		ID:           senderID,
		SenderID:     senderID,
		History:      []Message{},
		Cart:         map[string]CartLine{},
		Context:      map[string]any{},
		LastActivity: now,
		Created:      now,
	}
}

// AddMessage appends a turn to the history and bumps LastActivity.
func (d *Dialog) AddMessage(role, text string) Message {
	msg := Message{ID: NewID(), Role: role, Text: text, Timestamp: time.Now().UTC()}
	d.History = append(d.History, msg)
	d.LastActivity = msg.Timestamp
	return msg
}

// Touch bumps LastActivity without modifying history.
func (d *Dialog) Touch() { d.LastActivity = time.Now().UTC() }

// RecentHistory returns up to max trailing messages. A max <= 0 returns the
// full history.
func (d *Dialog) RecentHistory(max int) []Message {
	if max <= 0 || len(d.History) <= max {
		return d.History
	}
	return d.History[len(d.History)-max:]
}

// Clone returns a deep copy of the dialog safe for independent mutation.
func (d *Dialog) Clone() *Dialog {
	clone := &Dialog{
		ID:           d.ID,
		SenderID:     d.SenderID,
		History:      make([]Message, len(d.History)),
		Cart:         make(map[string]CartLine, len(d.Cart)),
		Context:      make(map[string]any, len(d.Context)),
		LastActivity: d.LastActivity,
		Created:      d.Created,
	}
	copy(clone.History, d.History)
	for k, v := range d.Cart {
		clone.Cart[k] = v
	}
	for k, v := range d.Context {
		clone.Context[k] = v
	}
	return clone
}
