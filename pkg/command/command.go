// Package command defines the structured commands produced by the
// understanding layer and the machinery that executes them: a type-keyed
// handler registry and a deterministic sequential executor.
package command

// Type discriminates command variants. The set is closed; adding a variant
// means adding a handler and a registration entry, existing handlers stay
// untouched.
type Type string

const (
	TypeStartFlow           Type = "start_flow"
	TypeSetSlot             Type = "set_slot"
	TypeCorrectSlot         Type = "correct_slot"
	TypeCancelFlow          Type = "cancel_flow"
	TypeClarify             Type = "clarify"
	TypeAffirmConfirmation  Type = "affirm_confirmation"
	TypeDenyConfirmation    Type = "deny_confirmation"
	TypeHumanHandoff        Type = "human_handoff"
	TypeChitChat            Type = "chit_chat"
	TypeOutOfScope          Type = "out_of_scope"
)

// Command is one data-only instruction from the NLU adapter. Fields are
// populated per Type: start_flow uses FlowName/Slots, set_slot uses
// Slot/Value/Confidence, correct_slot uses Slot/Value, cancel_flow and
// human_handoff use Reason, clarify and out_of_scope use Topic,
// deny_confirmation uses SlotToChange, chit_chat uses Hint.
type Command struct {
	Type         Type           `json:"type"`
	FlowName     string         `json:"flow_name,omitempty"`
	Slots        map[string]any `json:"slots,omitempty"`
	Slot         string         `json:"slot,omitempty"`
	Value        any            `json:"value,omitempty"`
	Confidence   float64        `json:"confidence,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Topic        string         `json:"topic,omitempty"`
	SlotToChange string         `json:"slot_to_change,omitempty"`
	Hint         string         `json:"hint,omitempty"`
}

// Args returns the loggable argument map for the command_log record.
func (c Command) Args() map[string]any {
	args := map[string]any{}
	if c.FlowName != "" {
		args["flow_name"] = c.FlowName
	}
	if len(c.Slots) > 0 {
		args["slots"] = c.Slots
	}
	if c.Slot != "" {
		args["slot"] = c.Slot
	}
	if c.Value != nil {
		args["value"] = c.Value
	}
	if c.Confidence != 0 {
		args["confidence"] = c.Confidence
	}
	if c.Reason != "" {
		args["reason"] = c.Reason
	}
	if c.Topic != "" {
		args["topic"] = c.Topic
	}
	if c.SlotToChange != "" {
		args["slot_to_change"] = c.SlotToChange
	}
	if c.Hint != "" {
		args["hint"] = c.Hint
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// RequiresActiveFlow reports whether the variant is meaningless without a
// flow on the stack. Used by the executor's cancel short-circuit.
func (c Command) RequiresActiveFlow() bool {
	switch c.Type {
	case TypeSetSlot, TypeCorrectSlot, TypeCancelFlow,
		TypeAffirmConfirmation, TypeDenyConfirmation:
		return true
	default:
		return false
	}
}
