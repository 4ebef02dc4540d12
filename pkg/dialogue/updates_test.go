package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyScalarsReplace(t *testing.T) {
	st := sampleState()

	u := &Updates{
		LastResponse:      Ptr("Where to?"),
		ConversationState: StatePtr(StateWaitingForSlot),
		WaitingForSlot:    Ptr("destination"),
		TurnCount:         Ptr(3),
	}
	u.Apply(st)

	assert.Equal(t, "Where to?", st.LastResponse)
	assert.Equal(t, "destination", st.WaitingForSlot)
	assert.Equal(t, 3, st.TurnCount)
}

func TestApplyClearsWithZeroPointer(t *testing.T) {
	st := sampleState()

	u := &Updates{
		WaitingForSlot:    Ptr(""),
		CurrentStep:       Ptr(""),
		ConversationState: StatePtr(StateIdle),
	}
	u.Apply(st)

	assert.Empty(t, st.WaitingForSlot)
	assert.Empty(t, st.CurrentStep)
}

func TestApplyAppendsLists(t *testing.T) {
	st := sampleState()

	u := &Updates{
		Messages:   []Message{{Role: RoleUser, Content: "Los Angeles", Timestamp: 102}},
		Trace:      []TraceEvent{{Event: "command_executed", Timestamp: 102}},
		CommandLog: []CommandRecord{{CommandType: "set_slot", ResultStatus: "ok", Timestamp: 102}},
	}
	u.Apply(st)

	assert.Len(t, st.Messages, 3)
	assert.Len(t, st.Trace, 1)
	assert.Len(t, st.CommandLog, 1)
}

func TestApplyDeepMergesFlowSlots(t *testing.T) {
	st := sampleState()

	u := &Updates{
		FlowSlots: map[string]map[string]any{
			"book_flight_a1b2": {"destination": "Los Angeles"},
			"check_balance_c3": {"account_type": "savings"},
		},
	}
	u.Apply(st)

	assert.Equal(t, "New York", st.FlowSlots["book_flight_a1b2"]["origin"], "existing slots survive the merge")
	assert.Equal(t, "Los Angeles", st.FlowSlots["book_flight_a1b2"]["destination"])
	assert.Equal(t, "savings", st.FlowSlots["check_balance_c3"]["account_type"])
}

func TestApplyReplacesStackAndDropsSlots(t *testing.T) {
	st := sampleState()

	u := &Updates{
		FlowStack:     &[]FlowContext{},
		DropFlowSlots: []string{"book_flight_a1b2"},
		CompletedFlows: &[]ArchivedFlow{
			{FlowContext: FlowContext{FlowID: "book_flight_a1b2", FlowState: FlowCancelled}},
		},
	}
	u.Apply(st)

	assert.Empty(t, st.FlowStack)
	assert.NotContains(t, st.FlowSlots, "book_flight_a1b2")
	require.Len(t, st.Metadata.CompletedFlows, 1)
	assert.Equal(t, FlowCancelled, st.Metadata.CompletedFlows[0].FlowState)
}

func TestApplyDropsIndividualSlotKeys(t *testing.T) {
	st := sampleState()

	u := &Updates{
		DropSlotKeys: map[string][]string{"book_flight_a1b2": {"origin"}},
	}
	u.Apply(st)

	assert.NotContains(t, st.FlowSlots["book_flight_a1b2"], "origin")
	assert.Contains(t, st.FlowSlots, "book_flight_a1b2", "the heap itself survives")
}

func TestMergeLaterScalarWins(t *testing.T) {
	acc := &Updates{}

	Merge(acc, &Updates{
		FlowSlots:    map[string]map[string]any{"f1": {"date": "friday"}},
		LastResponse: Ptr("first"),
	})
	Merge(acc, &Updates{
		FlowSlots:    map[string]map[string]any{"f1": {"date": "saturday"}},
		LastResponse: Ptr("second"),
	})

	assert.Equal(t, "second", *acc.LastResponse)
	assert.Equal(t, "saturday", acc.FlowSlots["f1"]["date"], "contradictory slot writes apply in order, later wins")
}

func TestMergeConcatenatesAppendFields(t *testing.T) {
	acc := &Updates{}

	Merge(acc, &Updates{CommandLog: []CommandRecord{{CommandType: "start_flow"}}})
	Merge(acc, &Updates{CommandLog: []CommandRecord{{CommandType: "set_slot"}}})

	require.Len(t, acc.CommandLog, 2)
	assert.Equal(t, "start_flow", acc.CommandLog[0].CommandType)
	assert.Equal(t, "set_slot", acc.CommandLog[1].CommandType)
}

func TestMergeNilIsNoop(t *testing.T) {
	acc := &Updates{LastResponse: Ptr("keep")}
	Merge(acc, nil)
	assert.Equal(t, "keep", *acc.LastResponse)

	var st DialogueState
	(*Updates)(nil).Apply(&st)
	assert.Empty(t, st.LastResponse)
}
