// Package dialogue defines the serialized per-session state of the runtime:
// the DialogueState document, flow contexts, and the partial-update merge
// semantics used by command handlers and graph nodes.
package dialogue

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConversationState represents the coarse state of a session.
type ConversationState string

// Conversation state constants.
const (
	StateIdle            ConversationState = "idle"
	StateUnderstanding   ConversationState = "understanding"
	StateWaitingForSlot  ConversationState = "waiting_for_slot"
	StateValidatingSlot  ConversationState = "validating_slot"
	StateExecutingAction ConversationState = "executing_action"
	StateConfirming      ConversationState = "confirming"
	StateCompleted       ConversationState = "completed"
	StateError           ConversationState = "error"
)

// FlowState represents the lifecycle state of a single flow instance.
type FlowState string

// Flow state constants.
const (
	FlowActive    FlowState = "active"
	FlowPaused    FlowState = "paused"
	FlowCompleted FlowState = "completed"
	FlowCancelled FlowState = "cancelled"
	FlowAbandoned FlowState = "abandoned"
	FlowError     FlowState = "error"
)

// MessageRole represents the role of a message sender.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single conversation message.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp float64     `json:"timestamp"`
}

// TraceEvent is one entry of the bounded audit log.
type TraceEvent struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

// CommandRecord is one entry of the bounded command log.
type CommandRecord struct {
	CommandType  string         `json:"command_type"`
	Args         map[string]any `json:"args,omitempty"`
	ResultStatus string         `json:"result_status"`
	Timestamp    float64        `json:"timestamp"`
}

// FlowContext is one flow instance on the stack. Instances of the same flow
// definition are distinguished by FlowID, which is unique per session.
type FlowContext struct {
	FlowID      string         `json:"flow_id"`
	FlowName    string         `json:"flow_name"`
	FlowState   FlowState      `json:"flow_state"`
	CurrentStep string         `json:"current_step,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	StartedAt   float64        `json:"started_at,omitempty"`
	PausedAt    float64        `json:"paused_at,omitempty"`
	CompletedAt float64        `json:"completed_at,omitempty"`
	Context     string         `json:"context,omitempty"`
}

// ArchivedFlow is a completed/cancelled/abandoned flow moved off the stack,
// together with a shallow copy of its slot map taken at archive time.
type ArchivedFlow struct {
	FlowContext
	Slots map[string]any `json:"slots,omitempty"`
}

// Metadata holds the reserved auxiliary keys of the state document.
type Metadata struct {
	CompletedFlows     []ArchivedFlow `json:"completed_flows,omitempty"`
	Error              string         `json:"error,omitempty"`
	QueuedMessages     []string       `json:"queued_messages,omitempty"`
	PendingValidation  []string       `json:"pending_validation,omitempty"`
	ValidationFailures int            `json:"validation_failures,omitempty"`
	ConfirmRetries     int            `json:"confirm_retries,omitempty"`
}

// DialogueState is the single serialized unit per session. All fields must
// stay JSON-serializable; the document is checkpointed after every node
// transition. Empty strings stand in for null in the step/slot fields.
type DialogueState struct {
	UserMessage        string                    `json:"user_message"`
	LastResponse       string                    `json:"last_response"`
	Messages           []Message                 `json:"messages"`
	FlowStack          []FlowContext             `json:"flow_stack"`
	FlowSlots          map[string]map[string]any `json:"flow_slots"`
	ConversationState  ConversationState         `json:"conversation_state"`
	CurrentStep        string                    `json:"current_step,omitempty"`
	WaitingForSlot     string                    `json:"waiting_for_slot,omitempty"`
	NLUResult          json.RawMessage           `json:"nlu_result,omitempty"`
	LastNLUCall        float64                   `json:"last_nlu_call,omitempty"`
	DigressionDepth    int                       `json:"digression_depth"`
	LastDigressionType string                    `json:"last_digression_type,omitempty"`
	TurnCount          int                       `json:"turn_count"`
	Trace              []TraceEvent              `json:"trace,omitempty"`
	CommandLog         []CommandRecord           `json:"command_log,omitempty"`
	Metadata           Metadata                  `json:"metadata"`
}

// NewState returns an empty idle state.
func NewState() *DialogueState {
	return &DialogueState{
		ConversationState: StateIdle,
		FlowSlots:         map[string]map[string]any{},
	}
}

// Now returns the current time as fractional unix seconds, the timestamp
// representation used throughout the state document.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// ActiveFlow returns the top of the flow stack, or nil when the stack is
// empty.
func (s *DialogueState) ActiveFlow() *FlowContext {
	if len(s.FlowStack) == 0 {
		return nil
	}
	return &s.FlowStack[len(s.FlowStack)-1]
}

// ActiveSlots returns the slot map of the active flow, or nil.
func (s *DialogueState) ActiveSlots() map[string]any {
	active := s.ActiveFlow()
	if active == nil {
		return nil
	}
	return s.FlowSlots[active.FlowID]
}

// Clone returns a deep copy of the state via a JSON round-trip. The state is
// JSON-serializable by invariant, so this also normalizes slot value types to
// their wire representation (numbers become float64).
func (s *DialogueState) Clone() (*DialogueState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling state: %w", err)
	}
	var out DialogueState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	if out.FlowSlots == nil {
		out.FlowSlots = map[string]map[string]any{}
	}
	return &out, nil
}

// MustClone is Clone for states already known to serialize; it panics
// otherwise. Used where the state was produced by a prior round-trip.
func (s *DialogueState) MustClone() *DialogueState {
	out, err := s.Clone()
	if err != nil {
		panic(err)
	}
	return out
}

// AppendTrace records an audit event on the state in place. The trace is
// bounded by pruning, not here.
func (s *DialogueState) AppendTrace(event string, data map[string]any) {
	s.Trace = append(s.Trace, TraceEvent{Event: event, Data: data, Timestamp: Now()})
}
