// Package flow runs the bounded tool-use loop: the dialog history plus the
// incoming user text go to the reasoning engine, requested tools are executed,
// their results fed back, and the loop repeats until the engine produces a
// plain text reply or the round budget runs out.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/logging"
	"github.com/hupe1980/commercemesh/model"
	"github.com/hupe1980/commercemesh/tool"
)

// DefaultFallbackReply is sent when the round budget is exhausted without a
// final text reply from the engine.
const DefaultFallbackReply = "I'm sorry, I wasn't able to complete that request. Could you rephrase or try again?"

// Options configures a ToolLoop.
type Options struct {
	// MaxRounds caps engine invocations per inbound event.
	MaxRounds int
	// RoundTimeout bounds a single engine invocation plus its tool calls.
	RoundTimeout time.Duration
	// HistoryLimit bounds how many persisted messages are replayed to the
	// engine.
	HistoryLimit int
	// FallbackReply overrides DefaultFallbackReply.
	FallbackReply string
	// Instructions is the system prompt given to the engine.
	Instructions string
	Logger       logging.Logger
}

// ToolLoop orchestrates one engine conversation turn for a dialog.
type ToolLoop struct {
	model  model.Model
	tools  map[string]tool.Tool
	defs   []model.ToolDefinition
	opts   Options
	logger logging.Logger
}

// NewToolLoop constructs a ToolLoop over the given engine and tools.
func NewToolLoop(m model.Model, tools []tool.Tool, optFns ...func(o *Options)) *ToolLoop {
	opts := Options{
		MaxRounds:     5,
		RoundTimeout:  30 * time.Second,
		HistoryLimit:  20,
		FallbackReply: DefaultFallbackReply,
		Instructions:  DefaultInstructions,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	byName := make(map[string]tool.Tool, len(tools))
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	return &ToolLoop{
		model:  m,
		tools:  byName,
		defs:   defs,
		opts:   opts,
		logger: logging.NonNil(opts.Logger),
	}
}

// Run executes the loop for one inbound user text against the dialog. The
// eventID is the platform message id of the event being processed; tools key
// durable side effects on it. The dialog is read for history but not mutated;
// the caller owns persistence of both the user text and the returned reply.
func (l *ToolLoop) Run(ctx context.Context, d *core.Dialog, userText, eventID string) (string, error) {
	contents := l.seedContents(d, userText)
	limiter := core.NewRoundLimiter(l.opts.MaxRounds)

	for {
		if err := limiter.Increment(); err != nil {
			l.logger.Warn("flow.rounds_exhausted", "dialog_id", d.ID, "max_rounds", l.opts.MaxRounds)
			return l.opts.FallbackReply, nil
		}

		resp, err := l.round(ctx, contents)
		if err != nil {
			return "", err
		}

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 {
			text := resp.Content.Text()
			if text == "" {
				text = l.opts.FallbackReply
			}
			l.logger.Debug("flow.done", "dialog_id", d.ID, "rounds", limiter.Count())
			return text, nil
		}

		contents = append(contents, resp.Content)

		results, err := l.execute(ctx, d, eventID, calls)
		if err != nil {
			return "", err
		}
		contents = append(contents, results...)
	}
}

func (l *ToolLoop) round(ctx context.Context, contents []core.Content) (*model.Response, error) {
	roundCtx := ctx
	if l.opts.RoundTimeout > 0 {
		var cancel context.CancelFunc
		roundCtx, cancel = context.WithTimeout(ctx, l.opts.RoundTimeout)
		defer cancel()
	}

	resp, err := l.model.Generate(roundCtx, model.Request{
		Instructions: l.opts.Instructions,
		Contents:     contents,
		Tools:        l.defs,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// execute runs every requested tool call and returns their results as
// function response contents. A transient tool error aborts the turn so the
// envelope can be redelivered; any other tool error becomes a result the
// engine can recover from.
func (l *ToolLoop) execute(ctx context.Context, d *core.Dialog, eventID string, calls []core.FunctionCall) ([]core.Content, error) {
	results := make([]core.Content, 0, len(calls))

	for _, call := range calls {
		t, ok := l.tools[call.Name]
		if !ok {
			l.logger.Warn("flow.unknown_tool", "dialog_id", d.ID, "tool", call.Name)
			toolErr := tool.NewToolError(call.Name, fmt.Sprintf("unknown tool %q", call.Name), tool.CodeValidation)
			results = append(results, core.NewFunctionResponseContent(call.ID, call.Name, nil, toolErr))
			continue
		}

		args, err := decodeArguments(call.Arguments)
		if err != nil {
			l.logger.Warn("flow.bad_arguments", "dialog_id", d.ID, "tool", call.Name, "error", err)
			toolErr := tool.NewToolError(call.Name, fmt.Sprintf("malformed arguments: %v", err), tool.CodeValidation)
			results = append(results, core.NewFunctionResponseContent(call.ID, call.Name, nil, toolErr))
			continue
		}

		toolCtx := core.NewToolContext(ctx, d, eventID, call.ID, l.logger)
		result, err := t.Call(toolCtx, args)
		if err != nil {
			if core.IsTransient(err) {
				return nil, err
			}
			results = append(results, core.NewFunctionResponseContent(call.ID, call.Name, nil, err))
			continue
		}

		results = append(results, core.NewFunctionResponseContent(call.ID, call.Name, result, nil))
	}

	return results, nil
}

// decodeArguments parses the serialized JSON argument payload of a function
// call. An empty payload means no arguments.
func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// seedContents replays bounded dialog history, the current cart state, and
// the incoming user text as the engine's conversation window.
func (l *ToolLoop) seedContents(d *core.Dialog, userText string) []core.Content {
	history := d.RecentHistory(l.opts.HistoryLimit)

	contents := make([]core.Content, 0, len(history)+2)
	for _, msg := range history {
		contents = append(contents, core.NewTextContent(msg.Role, msg.Text))
	}

	if lines := d.CartLines(); len(lines) > 0 {
		if snapshot, err := json.Marshal(lines); err == nil {
			contents = append(contents, core.NewTextContent("user",
				fmt.Sprintf("[cart state] %s", snapshot)))
		}
	}

	contents = append(contents, core.NewTextContent("user", userText))

	return contents
}
