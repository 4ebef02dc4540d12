package flow

import (
	"errors"
	"fmt"

	"github.com/dialogkit/dialogkit/pkg/config"
)

var (
	// ErrNoActiveFlow indicates a slot operation with an empty flow stack.
	ErrNoActiveFlow = errors.New("no active flow")

	// ErrStackDepthExceeded indicates a push would exceed max_stack_depth.
	// Handled per the configured on_limit_reached policy; never shown raw.
	ErrStackDepthExceeded = errors.New("flow stack depth exceeded")

	// ErrFlowNotPausable indicates the active flow declares
	// can_be_paused: false and cannot be preempted by a push.
	ErrFlowNotPausable = errors.New("active flow cannot be paused")

	// ErrPopEmptyStack indicates a pop on an empty stack. This is a logic
	// bug in the caller and fatal for the session.
	ErrPopEmptyStack = errors.New("pop on empty flow stack")
)

// StackDepthError carries the limit policy so the caller can choose the
// user-facing recovery (reject vs. ask the user to finish up first).
type StackDepthError struct {
	FlowName string
	Depth    int
	Limit    int
	Policy   config.LimitPolicy
}

func (e *StackDepthError) Error() string {
	return fmt.Sprintf("cannot start %q: stack depth %d at limit %d (policy %s)",
		e.FlowName, e.Depth, e.Limit, e.Policy)
}

func (e *StackDepthError) Unwrap() error { return ErrStackDepthExceeded }
