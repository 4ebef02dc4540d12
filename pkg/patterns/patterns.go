// Package patterns implements the built-in conversation patterns as command
// handlers layered over the core set: correction, clarification,
// cancellation, confirmation, and human handoff. Each pattern is toggled by
// its config record; disabled patterns keep a stub handler so the command
// still logs and answers instead of erroring.
package patterns

import (
	"context"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// cancelPendingMarker sits in the active flow's slot heap while a
// confirm-before-cancel question is outstanding.
const cancelPendingMarker = "__cancel_pending"

// Register installs the pattern handlers into the command registry
// according to the runtime configuration.
func Register(r *command.Registry, cfg *config.RuntimeConfig) {
	p := cfg.Patterns

	register(r, command.TypeCorrectSlot, config.Enabled(p.Correction.Enabled), HandleCorrectSlot)
	register(r, command.TypeClarify, config.Enabled(p.Clarification.Enabled), HandleClarify)
	register(r, command.TypeCancelFlow, config.Enabled(p.Cancellation.Enabled), HandleCancelFlow)
	register(r, command.TypeHumanHandoff, config.Enabled(p.HumanHandoff.Enabled), HandleHumanHandoff)
	register(r, command.TypeAffirmConfirmation, config.Enabled(p.Confirmation.Enabled), HandleAffirmConfirmation)
	register(r, command.TypeDenyConfirmation, config.Enabled(p.Confirmation.Enabled), HandleDenyConfirmation)
}

func register(r *command.Registry, t command.Type, enabled bool, h command.HandlerFunc) {
	if !enabled {
		h = disabledHandler
	}
	r.Register(t, h)
}

// disabledHandler answers commands whose pattern is switched off.
func disabledHandler(_ context.Context, _ command.Env, _ *dialogue.DialogueState, cmd command.Command) (*dialogue.Updates, error) {
	return &dialogue.Updates{
		LastResponse: dialogue.Ptr("I can't do that in this conversation."),
		Trace: []dialogue.TraceEvent{{
			Event:     "pattern_disabled",
			Data:      map[string]any{"command_type": string(cmd.Type)},
			Timestamp: dialogue.Now(),
		}},
	}, nil
}

// advanceAfter applies upd to a scratch copy and folds the resulting step
// advancement into upd. Used by handlers whose outcome re-enters the flow.
func advanceAfter(env command.Env, st *dialogue.DialogueState, upd *dialogue.Updates) (*dialogue.Updates, error) {
	ws, err := st.Clone()
	if err != nil {
		return nil, err
	}
	upd.Apply(ws)
	if ws.ActiveFlow() == nil {
		return upd, nil
	}
	adv, err := env.Steps().AdvanceThroughCompletedSteps(ws)
	if err != nil {
		return nil, err
	}
	dialogue.Merge(upd, adv)
	return upd, nil
}
