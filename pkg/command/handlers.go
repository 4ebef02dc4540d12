package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/dialogkit/dialogkit/pkg/flow"
)

// RegisterCoreHandlers installs the handlers that need no pattern
// configuration. The conversation-pattern handlers register separately.
func RegisterCoreHandlers(r *Registry) {
	r.Register(TypeStartFlow, HandleStartFlow)
	r.Register(TypeSetSlot, HandleSetSlot)
	r.Register(TypeChitChat, HandleChitChat)
	r.Register(TypeOutOfScope, HandleOutOfScope)
}

// HandleStartFlow pushes a new flow instance and advances it to its first
// outstanding step. Depth-limit rejections and non-pausable active flows are
// conversational outcomes, not errors: the stack stays unchanged and the
// user gets told why.
func HandleStartFlow(ctx context.Context, env Env, st *dialogue.DialogueState, cmd Command) (*dialogue.Updates, error) {
	if !env.Scope().InScope(st, cmd.FlowName) {
		text := "That's not something I can help with."
		if env.Config().Flows.Has(cmd.FlowName) {
			text = "We're already working on that; let's pick up where we left off."
		}
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr(text),
			Trace: []dialogue.TraceEvent{{
				Event:     "start_flow_rejected",
				Data:      map[string]any{"flow_name": cmd.FlowName, "reason": "out_of_scope"},
				Timestamp: dialogue.Now(),
			}},
		}, nil
	}

	reason := ""
	digression := st.ActiveFlow() != nil
	if digression {
		reason = fmt.Sprintf("user switched to %s", cmd.FlowName)
	}

	_, upd, err := env.Flows().PushFlow(st, cmd.FlowName, cmd.Slots, reason)
	if err != nil {
		return startFlowRejection(env, cmd, err)
	}

	if digression {
		upd.DigressionDepth = dialogue.Ptr(st.DigressionDepth + 1)
		upd.LastDigressionType = dialogue.Ptr("flow_switch")
	}

	// Advance the fresh flow so the turn ends in the right state (usually
	// waiting for its first slot).
	ws, err := st.Clone()
	if err != nil {
		return nil, err
	}
	upd.Apply(ws)
	adv, err := env.Steps().AdvanceThroughCompletedSteps(ws)
	if err != nil {
		return nil, err
	}
	dialogue.Merge(upd, adv)
	return upd, nil
}

func startFlowRejection(env Env, cmd Command, err error) (*dialogue.Updates, error) {
	var sde *flow.StackDepthError
	switch {
	case errors.As(err, &sde):
		text := "Let's finish what we're working on before starting something new."
		if sde.Policy == config.LimitAskUser {
			text = fmt.Sprintf(
				"We already have a few things in progress. Should I drop the oldest one to start %s?",
				cmd.FlowName)
		}
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr(text),
			Trace: []dialogue.TraceEvent{{
				Event:     "start_flow_rejected",
				Data:      map[string]any{"flow_name": cmd.FlowName, "reason": "stack_depth", "policy": string(sde.Policy)},
				Timestamp: dialogue.Now(),
			}},
		}, nil

	case errors.Is(err, flow.ErrFlowNotPausable):
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr("I need to finish the current task before we switch."),
			Trace: []dialogue.TraceEvent{{
				Event:     "start_flow_rejected",
				Data:      map[string]any{"flow_name": cmd.FlowName, "reason": "not_pausable"},
				Timestamp: dialogue.Now(),
			}},
		}, nil

	default:
		return nil, err
	}
}

// HandleSetSlot normalizes the value and stages it on the active flow. The
// actual validation runs in the validate_slot node; the handler only queues
// the slot in metadata.pending_validation and flips the conversation to
// validating_slot.
func HandleSetSlot(ctx context.Context, env Env, st *dialogue.DialogueState, cmd Command) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil {
		return &dialogue.Updates{
			LastResponse: dialogue.Ptr("I'm not sure what that value is for. What would you like to do?"),
			Trace: []dialogue.TraceEvent{{
				Event:     "set_slot_dropped",
				Data:      map[string]any{"slot": cmd.Slot, "reason": "no_active_flow"},
				Timestamp: dialogue.Now(),
			}},
		}, nil
	}

	def, err := env.Config().Flows.Get(active.FlowName)
	if err != nil {
		return nil, err
	}

	value := cmd.Value
	if sd := def.Slot(cmd.Slot); sd != nil && sd.Normalizer != "" {
		value, err = env.Normalizers().Normalize(sd.Normalizer, cmd.Value)
		if err != nil {
			// A value the normalizer cannot make sense of is re-prompted,
			// like a validation failure.
			return rePrompt(def, cmd.Slot, st.Metadata.ValidationFailures+1), nil
		}
	}

	upd, err := env.Flows().SetSlot(st, cmd.Slot, value)
	if err != nil {
		return nil, err
	}

	pending := append(append([]string(nil), st.Metadata.PendingValidation...), cmd.Slot)
	upd.PendingValidation = &pending
	upd.ConversationState = dialogue.StatePtr(dialogue.StateValidatingSlot)
	upd.Trace = append(upd.Trace, dialogue.TraceEvent{
		Event:     "slot_staged",
		Data:      map[string]any{"slot": cmd.Slot, "confidence": cmd.Confidence},
		Timestamp: dialogue.Now(),
	})
	return upd, nil
}

// rePrompt builds the updates asking for a slot again after a rejected value.
func rePrompt(def *config.FlowDefinition, slotName string, failures int) *dialogue.Updates {
	prompt := fmt.Sprintf("Sorry, I didn't catch a valid %s. Could you try again?", slotName)
	if sd := def.Slot(slotName); sd != nil && sd.Prompt != "" {
		prompt = fmt.Sprintf("Sorry, that doesn't look right. %s", sd.Prompt)
	}
	return &dialogue.Updates{
		LastResponse:       dialogue.Ptr(prompt),
		ConversationState:  dialogue.StatePtr(dialogue.StateWaitingForSlot),
		WaitingForSlot:     dialogue.Ptr(slotName),
		ValidationFailures: dialogue.Ptr(failures),
		Trace: []dialogue.TraceEvent{{
			Event:     "slot_rejected",
			Data:      map[string]any{"slot": slotName, "failures": failures},
			Timestamp: dialogue.Now(),
		}},
	}
}

// HandleChitChat acknowledges small talk without touching the stack.
func HandleChitChat(ctx context.Context, env Env, st *dialogue.DialogueState, cmd Command) (*dialogue.Updates, error) {
	text := cmd.Hint
	if text == "" {
		text = "Happy to chat! I can also help you get things done."
	}
	upd := &dialogue.Updates{LastResponse: dialogue.Ptr(text)}
	if st.ActiveFlow() != nil && st.WaitingForSlot != "" {
		// Keep the conversation anchored on the outstanding slot.
		upd.ConversationState = dialogue.StatePtr(dialogue.StateWaitingForSlot)
	}
	return upd, nil
}

// HandleOutOfScope tells the user the topic is outside the assistant's
// scope and, when flows are waiting, nudges back to them.
func HandleOutOfScope(ctx context.Context, env Env, st *dialogue.DialogueState, cmd Command) (*dialogue.Updates, error) {
	text := "That's outside what I can help with."
	if st.ActiveFlow() != nil && st.WaitingForSlot != "" {
		text += " Let's get back to what we were doing."
	}
	return &dialogue.Updates{
		LastResponse: dialogue.Ptr(text),
		Trace: []dialogue.TraceEvent{{
			Event:     "out_of_scope",
			Data:      map[string]any{"topic": cmd.Topic},
			Timestamp: dialogue.Now(),
		}},
	}, nil
}
