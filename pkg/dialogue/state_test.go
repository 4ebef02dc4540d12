package dialogue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *DialogueState {
	st := NewState()
	st.UserMessage = "book a flight"
	st.ConversationState = StateWaitingForSlot
	st.WaitingForSlot = "origin"
	st.TurnCount = 2
	st.FlowStack = []FlowContext{
		{FlowID: "book_flight_a1b2", FlowName: "book_flight", FlowState: FlowActive, CurrentStep: "collect_origin", StartedAt: 100},
	}
	st.FlowSlots = map[string]map[string]any{
		"book_flight_a1b2": {"origin": "New York"},
	}
	st.Messages = []Message{
		{Role: RoleUser, Content: "book a flight", Timestamp: 100},
		{Role: RoleAssistant, Content: "Where from?", Timestamp: 101},
	}
	return st
}

func TestStateRoundTrip(t *testing.T) {
	st := sampleState()

	raw, err := json.Marshal(st)
	require.NoError(t, err)

	var back DialogueState
	require.NoError(t, json.Unmarshal(raw, &back))

	raw2, err := json.Marshal(&back)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(raw2), "save-then-load must be identity")
}

func TestClone(t *testing.T) {
	st := sampleState()

	clone, err := st.Clone()
	require.NoError(t, err)

	// Mutating the clone must not touch the original.
	clone.FlowSlots["book_flight_a1b2"]["origin"] = "Boston"
	clone.FlowStack[0].FlowState = FlowPaused
	clone.Messages = append(clone.Messages, Message{Role: RoleUser, Content: "x"})

	assert.Equal(t, "New York", st.FlowSlots["book_flight_a1b2"]["origin"])
	assert.Equal(t, FlowActive, st.FlowStack[0].FlowState)
	assert.Len(t, st.Messages, 2)
}

func TestActiveFlow(t *testing.T) {
	st := NewState()
	assert.Nil(t, st.ActiveFlow())
	assert.Nil(t, st.ActiveSlots())

	st = sampleState()
	active := st.ActiveFlow()
	require.NotNil(t, active)
	assert.Equal(t, "book_flight", active.FlowName)
	assert.Equal(t, "New York", st.ActiveSlots()["origin"])
}

func TestAppendTrace(t *testing.T) {
	st := NewState()
	st.AppendTrace("error", map[string]any{"kind": "validation", "where": "validate_slot"})

	require.Len(t, st.Trace, 1)
	assert.Equal(t, "error", st.Trace[0].Event)
	assert.Greater(t, st.Trace[0].Timestamp, float64(0))
}
