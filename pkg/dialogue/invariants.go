package dialogue

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation indicates the state document broke a structural
// invariant after a transition. Fatal within a session: the snapshot is
// frozen and operators inspect the trace.
var ErrInvariantViolation = errors.New("state invariant violation")

// InvariantError wraps an invariant violation with the specific rule that
// failed.
type InvariantError struct {
	Rule   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("state invariant violation: %s: %s", e.Rule, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

func invariantErr(rule, format string, args ...any) error {
	return &InvariantError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// CheckInvariants verifies the structural invariants that must hold after
// any transition. maxStackDepth and prevTurnCount come from the caller
// (configuration and the pre-transition state respectively).
func (s *DialogueState) CheckInvariants(maxStackDepth, prevTurnCount int) error {
	// At most one ACTIVE flow, and only at the top; everything below PAUSED.
	for i, fc := range s.FlowStack {
		top := i == len(s.FlowStack)-1
		switch {
		case top && fc.FlowState != FlowActive:
			return invariantErr("single_active_top",
				"top of stack %q is %s, want active", fc.FlowID, fc.FlowState)
		case !top && fc.FlowState != FlowPaused:
			return invariantErr("single_active_top",
				"stacked flow %q is %s, want paused", fc.FlowID, fc.FlowState)
		}
	}

	// Every slot heap entry belongs to a live or archived flow.
	known := make(map[string]bool, len(s.FlowStack)+len(s.Metadata.CompletedFlows))
	for _, fc := range s.FlowStack {
		known[fc.FlowID] = true
	}
	for _, af := range s.Metadata.CompletedFlows {
		known[af.FlowID] = true
	}
	for flowID := range s.FlowSlots {
		if !known[flowID] {
			return invariantErr("slots_reference_flows",
				"flow_slots entry %q has no flow on the stack or in the archive", flowID)
		}
	}

	// waiting_for_slot is set exactly when the conversation waits for one.
	if s.WaitingForSlot != "" && s.ConversationState != StateWaitingForSlot {
		return invariantErr("waiting_state",
			"waiting_for_slot=%q but conversation_state=%s", s.WaitingForSlot, s.ConversationState)
	}
	if s.WaitingForSlot == "" && s.ConversationState == StateWaitingForSlot {
		return invariantErr("waiting_state",
			"conversation_state=%s without a waiting slot", s.ConversationState)
	}

	if s.TurnCount < prevTurnCount {
		return invariantErr("turn_count_monotonic",
			"turn_count went from %d to %d", prevTurnCount, s.TurnCount)
	}

	if maxStackDepth > 0 && len(s.FlowStack) > maxStackDepth {
		return invariantErr("stack_depth",
			"flow_stack depth %d exceeds limit %d", len(s.FlowStack), maxStackDepth)
	}

	return nil
}
