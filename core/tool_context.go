package core

import (
	"context"

	"github.com/hupe1980/commercemesh/logging"
)

// ToolContext provides a constrained, auditable surface for tool
// implementations invoked during an orchestration round. It carries the
// dialog under exclusive ownership of the invoking worker, so tools may
// mutate the cart directly; durable persistence happens once, after the
// whole event has been processed.
type ToolContext struct {
	ctx            context.Context
	dialog         *Dialog
	eventID        string
	functionCallID string
	logger         logging.Logger
}

// NewToolContext constructs a tool context bound to a dialog, the platform
// message id of the event being processed, and the unique function call id
// assigned by the reasoning engine.
func NewToolContext(ctx context.Context, dialog *Dialog, eventID, functionCallID string, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:            ctx,
		dialog:         dialog,
		eventID:        eventID,
		functionCallID: functionCallID,
		logger:         logging.NonNil(logger),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// Dialog returns the dialog being processed. The caller holds the per-dialog
// lock for the duration of the invocation.
func (tc *ToolContext) Dialog() *Dialog { return tc.dialog }

// DialogID returns the dialog id associated with the tool invocation.
func (tc *ToolContext) DialogID() string { return tc.dialog.ID }

// SenderID returns the sender owning the dialog.
func (tc *ToolContext) SenderID() string { return tc.dialog.SenderID }

// EventID returns the platform message id of the event being processed. Tools
// with durable side effects key their writes on it so a redelivered event
// replays idempotently.
func (tc *ToolContext) EventID() string { return tc.eventID }

// FunctionCallID returns the function call id associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }
