package nlu

import (
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/dialogkit/dialogkit/pkg/flow"
)

// defaultHistoryWindow bounds the conversation history handed to the
// adapter; the full history stays in the state document.
const defaultHistoryWindow = 10

// ContextBuilder assembles prediction requests from session state. The
// scope manager supplies what is startable this turn.
type ContextBuilder struct {
	scope         *flow.ScopeManager
	historyWindow int
}

// NewContextBuilder creates a builder; historyWindow <= 0 uses the default.
func NewContextBuilder(scope *flow.ScopeManager, historyWindow int) *ContextBuilder {
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	return &ContextBuilder{scope: scope, historyWindow: historyWindow}
}

// Build produces the adapter request for the message at the front of the
// turn.
func (b *ContextBuilder) Build(st *dialogue.DialogueState, userMessage string) *Request {
	dc := DialogueContext{
		AvailableFlows: b.scope.EligibleFlows(st),
		CurrentState:   string(st.ConversationState),
		WaitingForSlot: st.WaitingForSlot,
	}

	if active := st.ActiveFlow(); active != nil {
		dc.CurrentFlow = active.FlowName
		dc.CurrentSlots = visibleSlots(st.FlowSlots[active.FlowID])
	}
	for _, fc := range st.FlowStack {
		if fc.FlowState == dialogue.FlowPaused {
			dc.PausedFlows = append(dc.PausedFlows, fc.FlowName)
		}
	}

	recent := st.CommandLog
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	for _, rec := range recent {
		dc.RecentCommands = append(dc.RecentCommands, rec.CommandType)
	}

	history := st.Messages
	if len(history) > b.historyWindow {
		history = history[len(history)-b.historyWindow:]
	}

	return &Request{
		UserMessage: userMessage,
		History:     append([]dialogue.Message(nil), history...),
		Context:     dc,
		Now:         dialogue.Now(),
	}
}

// visibleSlots strips the runtime's bookkeeping markers; the adapter only
// sees user-facing slot values.
func visibleSlots(slots map[string]any) map[string]any {
	if len(slots) == 0 {
		return nil
	}
	out := make(map[string]any, len(slots))
	for k, v := range slots {
		if len(k) >= 2 && k[:2] == "__" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
