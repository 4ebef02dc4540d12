package patterns

import (
	"context"
	"log/slog"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// HandleHumanHandoff runs the configured handoff action and parks the
// session in the error terminal. The action is best effort; a failing
// handoff backend still ends the automated conversation.
func HandleHumanHandoff(ctx context.Context, env command.Env, st *dialogue.DialogueState, cmd command.Command) (*dialogue.Updates, error) {
	cfg := env.Config().Runtime.Patterns.HumanHandoff

	data := map[string]any{"reason": cmd.Reason}
	if action := cfg.Action; action != "" {
		inputs := map[string]any{
			"reason": cmd.Reason,
		}
		if active := st.ActiveFlow(); active != nil {
			inputs["flow_name"] = active.FlowName
		}
		if _, err := env.Actions().Execute(ctx, action, inputs); err != nil {
			slog.Warn("Handoff action failed", "action", action, "error", err)
			data["action_error"] = err.Error()
		}
	}

	return &dialogue.Updates{
		LastResponse:      dialogue.Ptr("I'm connecting you with a human agent who can take it from here."),
		ConversationState: dialogue.StatePtr(dialogue.StateError),
		Error:             dialogue.Ptr("human_handoff"),
		WaitingForSlot:    dialogue.Ptr(""),
		Trace: []dialogue.TraceEvent{{
			Event:     "human_handoff",
			Data:      data,
			Timestamp: dialogue.Now(),
		}},
	}, nil
}
