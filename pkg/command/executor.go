package command

import (
	"context"
	"log/slog"

	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// Result statuses recorded in command_log.
const (
	StatusOK                 = "ok"
	StatusError              = "error"
	StatusSkippedAfterCancel = "skipped_after_cancel"
	StatusSkippedAfterError  = "skipped_after_error"
)

// Executor runs one message's command sequence in order against a working
// copy of the state, folding every handler's partial updates into a single
// accumulator with the per-field merge semantics of dialogue.Merge.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor over the handler registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute dispatches the commands sequentially. Every command gets a
// command_log record regardless of outcome. After a cancel_flow that leaves
// the stack empty, commands requiring an active flow are skipped. A handler
// failure records the error, flips the conversation to the error state, and
// stops the sequence; the failure lands in the returned updates, not in the
// Go error (which is reserved for cloning/infrastructure problems).
func (e *Executor) Execute(ctx context.Context, env Env, st *dialogue.DialogueState, cmds []Command) (*dialogue.Updates, error) {
	ws, err := st.Clone()
	if err != nil {
		return nil, err
	}

	acc := &dialogue.Updates{}
	failed := false
	cancelled := false

	record := func(cmd Command, status string) {
		rec := dialogue.CommandRecord{
			CommandType:  string(cmd.Type),
			Args:         cmd.Args(),
			ResultStatus: status,
			Timestamp:    dialogue.Now(),
		}
		acc.CommandLog = append(acc.CommandLog, rec)
		ws.CommandLog = append(ws.CommandLog, rec)
	}

	for _, cmd := range cmds {
		if failed {
			record(cmd, StatusSkippedAfterError)
			continue
		}
		if cancelled && cmd.RequiresActiveFlow() && len(ws.FlowStack) == 0 {
			record(cmd, StatusSkippedAfterCancel)
			continue
		}

		handler, err := e.registry.Get(cmd.Type)
		if err == nil {
			var upd *dialogue.Updates
			upd, err = handler(ctx, env, ws, cmd)
			if err == nil {
				dialogue.Merge(acc, upd)
				upd.Apply(ws)
				record(cmd, StatusOK)
				if cmd.Type == TypeCancelFlow {
					cancelled = true
				}
				continue
			}
		}

		slog.Error("Command handler failed", "command_type", cmd.Type, "error", err)
		record(cmd, StatusError)
		acc.ConversationState = dialogue.StatePtr(dialogue.StateError)
		acc.Error = dialogue.Ptr(err.Error())
		acc.Trace = append(acc.Trace, dialogue.TraceEvent{
			Event:     "command_failed",
			Data:      map[string]any{"command_type": string(cmd.Type), "error": err.Error()},
			Timestamp: dialogue.Now(),
		})
		failed = true
	}

	return acc, nil
}
