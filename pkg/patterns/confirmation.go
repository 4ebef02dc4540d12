package patterns

import (
	"context"
	"fmt"
	"strings"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/dialogkit/dialogkit/pkg/flow"
)

// HandleAffirmConfirmation resolves an outstanding confirmation. A pending
// cancel question cancels the flow; otherwise the current confirm step is
// marked confirmed and the flow advances (normally into its action step).
func HandleAffirmConfirmation(ctx context.Context, env command.Env, st *dialogue.DialogueState, cmd command.Command) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil || st.ConversationState != dialogue.StateConfirming {
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr("There's nothing waiting for a yes right now."),
		}, nil
	}

	if st.ActiveSlots()[cancelPendingMarker] == true {
		return cancelActiveFlow(env, st, "user confirmed cancellation")
	}

	step, err := currentConfirmStep(env, st)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr("There's nothing waiting for a yes right now."),
		}, nil
	}

	upd := &dialogue.Updates{
		FlowSlots: map[string]map[string]any{
			active.FlowID: {flow.ConfirmedMarker(step.ID): true},
		},
		ConfirmRetries: dialogue.Ptr(0),
		Trace: []dialogue.TraceEvent{{
			Event:     "confirmation_affirmed",
			Data:      map[string]any{"step": step.ID},
			Timestamp: dialogue.Now(),
		}},
	}
	return advanceAfter(env, st, upd)
}

// HandleDenyConfirmation handles a "no" during confirmation. With a slot to
// change, the conversation returns to collecting that slot and the summary
// is re-asked afterwards. Without one, the user is asked which detail to
// change. Repeated denials beyond max_retries fall back per on_max_retries.
func HandleDenyConfirmation(ctx context.Context, env command.Env, st *dialogue.DialogueState, cmd command.Command) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil || st.ConversationState != dialogue.StateConfirming {
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr("There's nothing to turn down right now."),
		}, nil
	}

	if st.ActiveSlots()[cancelPendingMarker] == true {
		// The user declined the cancel question; keep going.
		upd := &dialogue.Updates{
			LastResponse: dialogue.Ptr("Okay, we'll keep going."),
			FlowSlots: map[string]map[string]any{
				active.FlowID: {cancelPendingMarker: false},
			},
		}
		return advanceAfter(env, st, upd)
	}

	cfg := env.Config().Runtime.Patterns.Confirmation
	retries := st.Metadata.ConfirmRetries + 1
	if cfg.MaxRetries > 0 && retries > cfg.MaxRetries {
		return denyFallback(ctx, env, st, cfg)
	}

	step, err := currentConfirmStep(env, st)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr("There's nothing to turn down right now."),
		}, nil
	}

	upd := &dialogue.Updates{
		ConfirmRetries: dialogue.Ptr(retries),
		FlowSlots: map[string]map[string]any{
			// New confirmation round once the change lands.
			active.FlowID: {flow.ConfirmPromptedMarker(step.ID): false},
		},
	}

	if cmd.SlotToChange != "" {
		def, derr := env.Config().Flows.Get(active.FlowName)
		if derr != nil {
			return nil, derr
		}
		prompt := fmt.Sprintf("What should %s be instead?", cmd.SlotToChange)
		if sd := def.Slot(cmd.SlotToChange); sd != nil && sd.Prompt != "" {
			prompt = sd.Prompt
		}
		upd.ConversationState = dialogue.StatePtr(dialogue.StateWaitingForSlot)
		upd.WaitingForSlot = dialogue.Ptr(cmd.SlotToChange)
		upd.LastResponse = dialogue.Ptr(prompt)
		return upd, nil
	}

	// No slot named yet: the conversation stays in CONFIRMING until the
	// user says which detail to change.
	upd.LastResponse = dialogue.Ptr(slotMenu(env, st))
	return upd, nil
}

// denyFallback applies on_max_retries after too many denials.
func denyFallback(ctx context.Context, env command.Env, st *dialogue.DialogueState, cfg config.ConfirmationConfig) (*dialogue.Updates, error) {
	switch cfg.OnMaxRetries {
	case "human_handoff":
		return HandleHumanHandoff(ctx, env, st, command.Command{
			Type:   command.TypeHumanHandoff,
			Reason: "confirmation_retries_exceeded",
		})
	default: // cancel
		return cancelActiveFlow(env, st, "confirmation retries exceeded")
	}
}

// currentConfirmStep returns the confirm step the conversation sits at, or
// nil when current_step is not a confirmation.
func currentConfirmStep(env command.Env, st *dialogue.DialogueState) (*config.StepDef, error) {
	active := st.ActiveFlow()
	def, err := env.Config().Flows.Get(active.FlowName)
	if err != nil {
		return nil, err
	}
	step := def.Step(active.CurrentStep)
	if step == nil || step.Kind != config.StepConfirm {
		return nil, nil
	}
	return step, nil
}

// slotMenu lists the collected slots the user could change.
func slotMenu(env command.Env, st *dialogue.DialogueState) string {
	active := st.ActiveFlow()
	def, err := env.Config().Flows.Get(active.FlowName)
	if err != nil {
		return "What would you like to change?"
	}

	slots := st.FlowSlots[active.FlowID]
	var names []string
	for _, sd := range def.Slots {
		if _, ok := slots[sd.Name]; ok {
			names = append(names, sd.Name)
		}
	}
	if len(names) == 0 {
		return "What would you like to change?"
	}
	return fmt.Sprintf("What would you like to change: %s?", strings.Join(names, ", "))
}
