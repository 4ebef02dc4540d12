// Package flow is the sole authority over the flow stack and the per-instance
// slot heap. All stack transitions (push, pop, expiry, pruning) go through
// the Manager; step advancement goes through the StepManager.
package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/google/uuid"
)

// Manager owns flow_stack and flow_slots transitions. It is stateless apart
// from configuration and safe to share across sessions.
type Manager struct {
	cfg *config.Config
}

// NewManager creates a flow manager over the given configuration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// newFlowID allocates a per-session-unique instance id. Collisions are
// impossible by construction (random suffix per push).
func newFlowID(flowName string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s", flowName, suffix)
}

// PushFlow starts a new instance of flowName on top of the stack. The
// current active flow, if any, is paused with the given reason. Returns the
// new flow id and the state updates to apply.
//
// When the push would exceed max_stack_depth the configured on_limit_reached
// policy applies: cancel_oldest drops the bottom of the stack into the
// archive; reject_new and ask_user return a StackDepthError for the caller
// to translate.
func (m *Manager) PushFlow(st *dialogue.DialogueState, flowName string, initialSlots map[string]any, reason string) (string, *dialogue.Updates, error) {
	def, err := m.cfg.Flows.Get(flowName)
	if err != nil {
		return "", nil, err
	}

	stack := append([]dialogue.FlowContext(nil), st.FlowStack...)
	archive := append([]dialogue.ArchivedFlow(nil), st.Metadata.CompletedFlows...)
	upd := &dialogue.Updates{}

	if len(stack) > 0 {
		top := &stack[len(stack)-1]
		topDef, derr := m.cfg.Flows.Get(top.FlowName)
		if derr == nil && !config.Enabled(topDef.Metadata.CanBePaused) {
			return "", nil, fmt.Errorf("%w: %s", ErrFlowNotPausable, top.FlowName)
		}
	}

	limit := m.cfg.Runtime.FlowManagement.MaxStackDepth
	if len(stack)+1 > limit {
		policy := m.cfg.Runtime.FlowManagement.OnLimitReached
		if policy != config.LimitCancelOldest {
			return "", nil, &StackDepthError{
				FlowName: flowName,
				Depth:    len(stack),
				Limit:    limit,
				Policy:   policy,
			}
		}

		// cancel_oldest: the bottom of the stack is cancelled and archived.
		oldest := stack[0]
		oldest.FlowState = dialogue.FlowCancelled
		oldest.CompletedAt = dialogue.Now()
		oldest.Context = "cancelled: flow stack depth limit reached"
		archive = append(archive, dialogue.ArchivedFlow{
			FlowContext: oldest,
			Slots:       copySlots(st.FlowSlots[oldest.FlowID]),
		})
		upd.DropFlowSlots = append(upd.DropFlowSlots, oldest.FlowID)
		stack = stack[1:]

		slog.Debug("Cancelled oldest flow to make room on the stack",
			"cancelled", oldest.FlowID, "starting", flowName)
	}

	now := dialogue.Now()
	if len(stack) > 0 {
		top := &stack[len(stack)-1]
		top.FlowState = dialogue.FlowPaused
		top.PausedAt = now
		top.Context = reason
	}

	flowID := newFlowID(flowName)
	firstStep := ""
	if fs := def.FirstStep(); fs != nil {
		firstStep = fs.ID
	}
	stack = append(stack, dialogue.FlowContext{
		FlowID:      flowID,
		FlowName:    flowName,
		FlowState:   dialogue.FlowActive,
		CurrentStep: firstStep,
		StartedAt:   now,
	})

	slots := map[string]any{}
	for k, v := range initialSlots {
		slots[k] = v
	}

	upd.FlowStack = &stack
	upd.FlowSlots = map[string]map[string]any{flowID: slots}
	upd.CurrentStep = dialogue.Ptr(firstStep)
	upd.CompletedFlows = &archive
	upd.Trace = []dialogue.TraceEvent{{
		Event:     "flow_pushed",
		Data:      map[string]any{"flow_id": flowID, "flow_name": flowName, "reason": reason},
		Timestamp: now,
	}}
	return flowID, upd, nil
}

// PopFlow removes the active flow with the given terminal result, archiving
// it together with a shallow copy of its slots. The next flow down, if any,
// is promoted back to active and its step restored; flows whose definition
// sets can_be_resumed: false are abandoned instead of promoted.
func (m *Manager) PopFlow(st *dialogue.DialogueState, outputs map[string]any, result dialogue.FlowState) (*dialogue.Updates, error) {
	if len(st.FlowStack) == 0 {
		return nil, ErrPopEmptyStack
	}

	stack := append([]dialogue.FlowContext(nil), st.FlowStack...)
	top := stack[len(stack)-1]
	stack = stack[:len(stack)-1]

	now := dialogue.Now()
	top.FlowState = result
	top.CompletedAt = now
	if top.Outputs == nil {
		top.Outputs = map[string]any{}
	}
	for k, v := range outputs {
		top.Outputs[k] = v
	}

	archive := append([]dialogue.ArchivedFlow(nil), st.Metadata.CompletedFlows...)
	archive = append(archive, dialogue.ArchivedFlow{
		FlowContext: top,
		Slots:       copySlots(st.FlowSlots[top.FlowID]),
	})
	drop := []string{top.FlowID}
	trace := []dialogue.TraceEvent{{
		Event:     "flow_popped",
		Data:      map[string]any{"flow_id": top.FlowID, "result": string(result)},
		Timestamp: now,
	}}

	// A paused flow declaring can_be_resumed: false is abandoned instead of
	// being promoted when it surfaces.
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		def, derr := m.cfg.Flows.Get(next.FlowName)
		if derr != nil || config.Enabled(def.Metadata.CanBeResumed) {
			break
		}
		stack = stack[:len(stack)-1]
		next.FlowState = dialogue.FlowAbandoned
		next.CompletedAt = now
		next.Context = "abandoned: flow cannot be resumed"
		archive = append(archive, dialogue.ArchivedFlow{
			FlowContext: next,
			Slots:       copySlots(st.FlowSlots[next.FlowID]),
		})
		drop = append(drop, next.FlowID)
		trace = append(trace, dialogue.TraceEvent{
			Event:     "flow_abandoned",
			Data:      map[string]any{"flow_id": next.FlowID, "reason": "not_resumable"},
			Timestamp: now,
		})
	}

	upd := &dialogue.Updates{
		FlowStack:      &stack,
		CompletedFlows: &archive,
		DropFlowSlots:  drop,
		Trace:          trace,
	}

	if len(stack) > 0 {
		resumed := &stack[len(stack)-1]
		resumed.FlowState = dialogue.FlowActive
		upd.CurrentStep = dialogue.Ptr(resumed.CurrentStep)
	} else {
		upd.CurrentStep = dialogue.Ptr("")
	}
	return upd, nil
}

// GetActiveContext returns the active flow context, or nil.
func (m *Manager) GetActiveContext(st *dialogue.DialogueState) *dialogue.FlowContext {
	return st.ActiveFlow()
}

// GetSlot reads a slot of the active flow.
func (m *Manager) GetSlot(st *dialogue.DialogueState, name string) (any, error) {
	active := st.ActiveFlow()
	if active == nil {
		return nil, ErrNoActiveFlow
	}
	return st.FlowSlots[active.FlowID][name], nil
}

// SetSlot returns the update writing a slot on the active flow.
func (m *Manager) SetSlot(st *dialogue.DialogueState, name string, value any) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil {
		return nil, ErrNoActiveFlow
	}
	return &dialogue.Updates{
		FlowSlots: map[string]map[string]any{active.FlowID: {name: value}},
	}, nil
}

// Prune trims the unbounded-growth parts of the state to their configured
// maxima, in place. Called before every checkpoint save.
func (m *Manager) Prune(st *dialogue.DialogueState) {
	mm := m.cfg.Runtime.MemoryManagement
	st.Messages = tail(st.Messages, mm.MaxHistoryMessages)
	st.Trace = tail(st.Trace, mm.MaxTraceEvents)
	st.CommandLog = tail(st.CommandLog, mm.MaxCommandLog)
	st.Metadata.QueuedMessages = tail(st.Metadata.QueuedMessages, mm.MaxQueuedMessages)

	// Archived flows that fall off the bound take their slot heaps with
	// them, keeping the slots-reference-flows invariant intact.
	if over := len(st.Metadata.CompletedFlows) - mm.ArchiveCompletedFlowsAfter; over > 0 {
		for _, dropped := range st.Metadata.CompletedFlows[:over] {
			delete(st.FlowSlots, dropped.FlowID)
		}
		st.Metadata.CompletedFlows = st.Metadata.CompletedFlows[over:]
	}
}

// ExpirePaused transitions paused flows whose pause exceeded the configured
// abandon timeout (per-flow max_pause_duration overrides the global) to
// ABANDONED, archiving them. Mutates st in place and returns the number of
// flows expired.
func (m *Manager) ExpirePaused(st *dialogue.DialogueState, now float64) int {
	if len(st.FlowStack) == 0 {
		return 0
	}

	globalTimeout := m.cfg.Runtime.FlowManagement.AbandonTimeout().Seconds()
	var kept []dialogue.FlowContext
	expired := 0

	for _, fc := range st.FlowStack {
		if fc.FlowState != dialogue.FlowPaused || fc.PausedAt == 0 {
			kept = append(kept, fc)
			continue
		}
		timeout := globalTimeout
		if def, err := m.cfg.Flows.Get(fc.FlowName); err == nil && def.Metadata.MaxPauseDurationSeconds > 0 {
			timeout = def.Metadata.MaxPauseDuration().Seconds()
		}
		if now-fc.PausedAt <= timeout {
			kept = append(kept, fc)
			continue
		}

		fc.FlowState = dialogue.FlowAbandoned
		fc.CompletedAt = now
		fc.Context = "abandoned: pause timeout expired"
		st.Metadata.CompletedFlows = append(st.Metadata.CompletedFlows, dialogue.ArchivedFlow{
			FlowContext: fc,
			Slots:       copySlots(st.FlowSlots[fc.FlowID]),
		})
		delete(st.FlowSlots, fc.FlowID)
		st.AppendTrace("flow_abandoned", map[string]any{"flow_id": fc.FlowID})
		expired++
	}

	if expired > 0 {
		st.FlowStack = kept
	}
	return expired
}

func copySlots(slots map[string]any) map[string]any {
	if slots == nil {
		return nil
	}
	out := make(map[string]any, len(slots))
	for k, v := range slots {
		out[k] = v
	}
	return out
}

func tail[T any](s []T, limit int) []T {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
