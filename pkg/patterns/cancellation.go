package patterns

import (
	"context"
	"fmt"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// HandleCancelFlow pops the active flow as cancelled. With
// confirm_before_cancel on, the first cancel asks instead; the pending
// question is marked in the flow's slot heap and resolved by the
// confirmation handlers.
func HandleCancelFlow(ctx context.Context, env command.Env, st *dialogue.DialogueState, cmd command.Command) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil {
		return &dialogue.Updates{
			LastResponse:      dialogue.Ptr("There's nothing in progress to cancel."),
			ConversationState: dialogue.StatePtr(dialogue.StateIdle),
		}, nil
	}

	cfg := env.Config().Runtime.Patterns.Cancellation
	if config.Enabled(cfg.ConfirmBeforeCancel) && st.ConversationState != dialogue.StateConfirming {
		return &dialogue.Updates{
			LastResponse:      dialogue.Ptr(fmt.Sprintf("Cancel %s? You'll lose what we've entered so far.", active.FlowName)),
			ConversationState: dialogue.StatePtr(dialogue.StateConfirming),
			WaitingForSlot:    dialogue.Ptr(""),
			FlowSlots: map[string]map[string]any{
				active.FlowID: {cancelPendingMarker: true},
			},
			Trace: []dialogue.TraceEvent{{
				Event:     "cancel_confirmation_requested",
				Data:      map[string]any{"flow_id": active.FlowID},
				Timestamp: dialogue.Now(),
			}},
		}, nil
	}

	return cancelActiveFlow(env, st, cmd.Reason)
}

// cancelActiveFlow performs the pop and, when a paused flow resumes
// underneath, advances it so the user is re-prompted.
func cancelActiveFlow(env command.Env, st *dialogue.DialogueState, reason string) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	upd, err := env.Flows().PopFlow(st, nil, dialogue.FlowCancelled)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Okay, I've cancelled %s.", active.FlowName)
	if reason != "" {
		upd.Trace = append(upd.Trace, dialogue.TraceEvent{
			Event:     "flow_cancelled",
			Data:      map[string]any{"flow_id": active.FlowID, "reason": reason},
			Timestamp: dialogue.Now(),
		})
	}
	upd.LastResponse = dialogue.Ptr(text)

	if len(st.FlowStack) <= 1 {
		upd.ConversationState = dialogue.StatePtr(dialogue.StateIdle)
		upd.WaitingForSlot = dialogue.Ptr("")
		return upd, nil
	}

	// A paused flow takes over; pick up where it left off.
	upd2, err := advanceAfter(env, st, upd)
	if err != nil {
		return nil, err
	}
	if upd2.LastResponse != nil && *upd2.LastResponse != text {
		combined := fmt.Sprintf("%s %s", text, *upd2.LastResponse)
		upd2.LastResponse = &combined
	}
	return upd2, nil
}
