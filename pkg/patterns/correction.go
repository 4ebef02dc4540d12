package patterns

import (
	"context"
	"fmt"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/dialogkit/dialogkit/pkg/flow"
)

// HandleCorrectSlot overwrites a previously collected slot. When
// revalidate_dependents is on, every action, branch, and confirmation
// positioned after the corrected slot's collect step is reset so the flow
// re-derives anything computed from the old value.
func HandleCorrectSlot(ctx context.Context, env command.Env, st *dialogue.DialogueState, cmd command.Command) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil {
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr("There's nothing to correct right now."),
		}, nil
	}

	def, err := env.Config().Flows.Get(active.FlowName)
	if err != nil {
		return nil, err
	}
	if def.Slot(cmd.Slot) == nil {
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr(fmt.Sprintf("I don't track %q for this task.", cmd.Slot)),
			Trace: []dialogue.TraceEvent{{
				Event:     "correction_rejected",
				Data:      map[string]any{"slot": cmd.Slot, "flow_name": active.FlowName},
				Timestamp: dialogue.Now(),
			}},
		}, nil
	}

	value := cmd.Value
	if sd := def.Slot(cmd.Slot); sd.Normalizer != "" {
		value, err = env.Normalizers().Normalize(sd.Normalizer, cmd.Value)
		if err != nil {
			return &dialogue.Updates{
				LastResponse: dialogue.Ptr(fmt.Sprintf("I couldn't make sense of that %s. %s", cmd.Slot, sd.Prompt)),
			}, nil
		}
	}

	upd, err := env.Flows().SetSlot(st, cmd.Slot, value)
	if err != nil {
		return nil, err
	}

	if config.Enabled(env.Config().Runtime.Patterns.Correction.RevalidateDependents) {
		resetDependents(def, cmd.Slot, active.FlowID, upd)
	}

	pending := append(append([]string(nil), st.Metadata.PendingValidation...), cmd.Slot)
	upd.PendingValidation = &pending
	upd.ConversationState = dialogue.StatePtr(dialogue.StateValidatingSlot)
	upd.LastResponse = dialogue.Ptr(fmt.Sprintf("Got it, %s is now %v.", cmd.Slot, value))
	upd.Trace = append(upd.Trace, dialogue.TraceEvent{
		Event:     "slot_corrected",
		Data:      map[string]any{"slot": cmd.Slot},
		Timestamp: dialogue.Now(),
	})
	return upd, nil
}

// resetDependents clears the completion markers of steps downstream of the
// corrected slot's collect step. Markers are overwritten with their zero
// decision (merge semantics cannot delete keys).
func resetDependents(def *config.FlowDefinition, slotName, flowID string, upd *dialogue.Updates) {
	from := -1
	for i, step := range def.Steps {
		if step.Kind == config.StepCollect && step.Slot == slotName {
			from = i
			break
		}
	}
	if from < 0 {
		return
	}

	if upd.FlowSlots == nil {
		upd.FlowSlots = map[string]map[string]any{}
	}
	slots := upd.FlowSlots[flowID]
	if slots == nil {
		slots = map[string]any{}
		upd.FlowSlots[flowID] = slots
	}

	for _, step := range def.Steps[from+1:] {
		switch step.Kind {
		case config.StepAction:
			slots[flow.ActionMarker(step.ID)] = ""
		case config.StepBranch:
			slots[flow.BranchMarker(step.ID)] = ""
		case config.StepConfirm:
			slots[flow.ConfirmedMarker(step.ID)] = false
			slots[flow.ConfirmPromptedMarker(step.ID)] = false
		}
	}
}
