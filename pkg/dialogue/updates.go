package dialogue

import "encoding/json"

// Updates is a partial state update returned by command handlers and graph
// nodes. Merge semantics per field:
//
//   - scalar fields replace when the pointer is non-nil (pointer to the zero
//     value clears the field),
//   - Messages, Trace and CommandLog append,
//   - FlowSlots deep-merges per flow_id,
//   - FlowStack replaces as a whole: anything that changes the stack returns
//     the full new stack,
//   - DropFlowSlots removes whole per-flow slot maps (used on pop, after the
//     archive copy is taken),
//   - DropSlotKeys removes individual keys from a flow's slot heap (used when
//     a staged value fails validation and must not satisfy its collect step).
type Updates struct {
	UserMessage        *string
	LastResponse       *string
	Messages           []Message
	FlowStack          *[]FlowContext
	FlowSlots          map[string]map[string]any
	DropFlowSlots      []string
	DropSlotKeys       map[string][]string
	ConversationState  *ConversationState
	CurrentStep        *string
	WaitingForSlot     *string
	NLUResult          json.RawMessage
	LastNLUCall        *float64
	DigressionDepth    *int
	LastDigressionType *string
	TurnCount          *int
	Trace              []TraceEvent
	CommandLog         []CommandRecord
	CompletedFlows     *[]ArchivedFlow
	Error              *string
	QueuedMessages     *[]string
	PendingValidation  *[]string
	ValidationFailures *int
	ConfirmRetries     *int
}

// Ptr returns a pointer to v. Convenience for building Updates literals.
func Ptr[T any](v T) *T { return &v }

// StatePtr returns a pointer to the given conversation state.
func StatePtr(cs ConversationState) *ConversationState { return &cs }

// Apply merges u into st in place.
func (u *Updates) Apply(st *DialogueState) {
	if u == nil {
		return
	}
	if u.UserMessage != nil {
		st.UserMessage = *u.UserMessage
	}
	if u.LastResponse != nil {
		st.LastResponse = *u.LastResponse
	}
	st.Messages = append(st.Messages, u.Messages...)
	if u.FlowStack != nil {
		st.FlowStack = append([]FlowContext(nil), (*u.FlowStack)...)
	}
	if len(u.FlowSlots) > 0 {
		if st.FlowSlots == nil {
			st.FlowSlots = map[string]map[string]any{}
		}
		for flowID, slots := range u.FlowSlots {
			dst := st.FlowSlots[flowID]
			if dst == nil {
				dst = map[string]any{}
				st.FlowSlots[flowID] = dst
			}
			for k, v := range slots {
				dst[k] = v
			}
		}
	}
	for flowID, keys := range u.DropSlotKeys {
		for _, k := range keys {
			delete(st.FlowSlots[flowID], k)
		}
	}
	for _, flowID := range u.DropFlowSlots {
		delete(st.FlowSlots, flowID)
	}
	if u.ConversationState != nil {
		st.ConversationState = *u.ConversationState
	}
	if u.CurrentStep != nil {
		st.CurrentStep = *u.CurrentStep
	}
	if u.WaitingForSlot != nil {
		st.WaitingForSlot = *u.WaitingForSlot
	}
	if u.NLUResult != nil {
		st.NLUResult = u.NLUResult
	}
	if u.LastNLUCall != nil {
		st.LastNLUCall = *u.LastNLUCall
	}
	if u.DigressionDepth != nil {
		st.DigressionDepth = *u.DigressionDepth
	}
	if u.LastDigressionType != nil {
		st.LastDigressionType = *u.LastDigressionType
	}
	if u.TurnCount != nil {
		st.TurnCount = *u.TurnCount
	}
	st.Trace = append(st.Trace, u.Trace...)
	st.CommandLog = append(st.CommandLog, u.CommandLog...)
	if u.CompletedFlows != nil {
		st.Metadata.CompletedFlows = append([]ArchivedFlow(nil), (*u.CompletedFlows)...)
	}
	if u.Error != nil {
		st.Metadata.Error = *u.Error
	}
	if u.QueuedMessages != nil {
		st.Metadata.QueuedMessages = append([]string(nil), (*u.QueuedMessages)...)
	}
	if u.PendingValidation != nil {
		st.Metadata.PendingValidation = append([]string(nil), (*u.PendingValidation)...)
	}
	if u.ValidationFailures != nil {
		st.Metadata.ValidationFailures = *u.ValidationFailures
	}
	if u.ConfirmRetries != nil {
		st.Metadata.ConfirmRetries = *u.ConfirmRetries
	}
}

// Merge folds src into dst using the same per-field semantics as Apply:
// later scalar writes win, list fields concatenate, slot maps deep-merge.
func Merge(dst, src *Updates) {
	if src == nil {
		return
	}
	if src.UserMessage != nil {
		dst.UserMessage = src.UserMessage
	}
	if src.LastResponse != nil {
		dst.LastResponse = src.LastResponse
	}
	dst.Messages = append(dst.Messages, src.Messages...)
	if src.FlowStack != nil {
		dst.FlowStack = src.FlowStack
	}
	if len(src.FlowSlots) > 0 {
		if dst.FlowSlots == nil {
			dst.FlowSlots = map[string]map[string]any{}
		}
		for flowID, slots := range src.FlowSlots {
			inner := dst.FlowSlots[flowID]
			if inner == nil {
				inner = map[string]any{}
				dst.FlowSlots[flowID] = inner
			}
			for k, v := range slots {
				inner[k] = v
			}
		}
	}
	if len(src.DropSlotKeys) > 0 {
		if dst.DropSlotKeys == nil {
			dst.DropSlotKeys = map[string][]string{}
		}
		for flowID, keys := range src.DropSlotKeys {
			dst.DropSlotKeys[flowID] = append(dst.DropSlotKeys[flowID], keys...)
		}
	}
	dst.DropFlowSlots = append(dst.DropFlowSlots, src.DropFlowSlots...)
	if src.ConversationState != nil {
		dst.ConversationState = src.ConversationState
	}
	if src.CurrentStep != nil {
		dst.CurrentStep = src.CurrentStep
	}
	if src.WaitingForSlot != nil {
		dst.WaitingForSlot = src.WaitingForSlot
	}
	if src.NLUResult != nil {
		dst.NLUResult = src.NLUResult
	}
	if src.LastNLUCall != nil {
		dst.LastNLUCall = src.LastNLUCall
	}
	if src.DigressionDepth != nil {
		dst.DigressionDepth = src.DigressionDepth
	}
	if src.LastDigressionType != nil {
		dst.LastDigressionType = src.LastDigressionType
	}
	if src.TurnCount != nil {
		dst.TurnCount = src.TurnCount
	}
	dst.Trace = append(dst.Trace, src.Trace...)
	dst.CommandLog = append(dst.CommandLog, src.CommandLog...)
	if src.CompletedFlows != nil {
		dst.CompletedFlows = src.CompletedFlows
	}
	if src.Error != nil {
		dst.Error = src.Error
	}
	if src.QueuedMessages != nil {
		dst.QueuedMessages = src.QueuedMessages
	}
	if src.PendingValidation != nil {
		dst.PendingValidation = src.PendingValidation
	}
	if src.ValidationFailures != nil {
		dst.ValidationFailures = src.ValidationFailures
	}
	if src.ConfirmRetries != nil {
		dst.ConfirmRetries = src.ConfirmRetries
	}
}
