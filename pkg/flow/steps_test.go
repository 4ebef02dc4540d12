package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

func newStepManager(cfg *config.Config) *StepManager {
	return NewStepManager(cfg.Flows, nil)
}

func advance(t *testing.T, sm *StepManager, st *dialogue.DialogueState) {
	t.Helper()
	upd, err := sm.AdvanceThroughCompletedSteps(st)
	require.NoError(t, err)
	upd.Apply(st)
}

func TestAdvanceStopsAtMissingSlot(t *testing.T) {
	cfg := testConfig(3, config.LimitCancelOldest)
	m := NewManager(cfg)
	sm := newStepManager(cfg)
	st := dialogue.NewState()
	mustPush(t, m, st, "check_balance", nil, "")

	advance(t, sm, st)

	assert.Equal(t, dialogue.StateWaitingForSlot, st.ConversationState)
	assert.Equal(t, "account_type", st.WaitingForSlot)
	assert.Equal(t, "ask_account", st.CurrentStep)
}

func TestAdvanceSkipsOptionalCollect(t *testing.T) {
	flows := testFlows()
	flows["survey"] = &config.FlowDefinition{
		Name: "survey",
		Slots: []config.SlotDef{
			{Name: "rating", Prompt: "How did we do?"},
			{Name: "comment", Prompt: "Anything to add?"},
		},
		Steps: []config.StepDef{
			{ID: "ask_rating", Kind: config.StepCollect, Slot: "rating"},
			{ID: "ask_comment", Kind: config.StepCollect, Slot: "comment", Optional: true},
			{ID: "thanks", Kind: config.StepSay, Text: "Thanks!"},
		},
	}
	cfg := &config.Config{Runtime: config.DefaultRuntimeConfig(), Flows: config.NewFlowRegistry(flows)}
	m := NewManager(cfg)
	sm := newStepManager(cfg)
	st := dialogue.NewState()
	mustPush(t, m, st, "survey", map[string]any{"rating": 5}, "")

	advance(t, sm, st)

	assert.Equal(t, dialogue.StateCompleted, st.ConversationState,
		"an unfilled optional slot does not block the flow")
	assert.Equal(t, "Thanks!", st.LastResponse)
	assert.Empty(t, st.WaitingForSlot)
}

func TestAdvanceStopsAtAction(t *testing.T) {
	cfg := testConfig(3, config.LimitCancelOldest)
	m := NewManager(cfg)
	sm := newStepManager(cfg)
	st := dialogue.NewState()
	mustPush(t, m, st, "check_balance", map[string]any{"account_type": "savings"}, "")

	advance(t, sm, st)

	assert.Equal(t, dialogue.StateExecutingAction, st.ConversationState)
	assert.Equal(t, "fetch", st.CurrentStep)
	assert.Empty(t, st.WaitingForSlot)
	assert.Equal(t, "fetch", st.ActiveFlow().CurrentStep, "stack top tracks the current step")
}

func TestAdvanceEmitsSayAndCompletes(t *testing.T) {
	cfg := testConfig(3, config.LimitCancelOldest)
	m := NewManager(cfg)
	sm := newStepManager(cfg)
	st := dialogue.NewState()
	id := mustPush(t, m, st, "check_balance", map[string]any{"account_type": "savings"}, "")
	st.FlowSlots[id][ActionMarker("fetch")] = "ok"
	st.ActiveFlow().Outputs = map[string]any{"balance": 12000}

	advance(t, sm, st)

	assert.Equal(t, dialogue.StateCompleted, st.ConversationState)
	assert.Equal(t, "Your savings balance is 12000.", st.LastResponse)
	require.NotEmpty(t, st.Messages)
	last := st.Messages[len(st.Messages)-1]
	assert.Equal(t, dialogue.RoleAssistant, last.Role)
	assert.Equal(t, "Your savings balance is 12000.", last.Content)
	assert.Equal(t, true, st.FlowSlots[id][SaidMarker("tell")])
}

func TestAdvanceSayEmitsOncePerVisit(t *testing.T) {
	cfg := testConfig(3, config.LimitCancelOldest)
	m := NewManager(cfg)
	sm := newStepManager(cfg)
	st := dialogue.NewState()
	id := mustPush(t, m, st, "check_balance", map[string]any{"account_type": "savings"}, "")
	st.FlowSlots[id][ActionMarker("fetch")] = "ok"

	advance(t, sm, st)
	emitted := len(st.Messages)
	advance(t, sm, st)

	assert.Len(t, st.Messages, emitted, "re-running advancement does not re-emit say text")
}

func TestAdvanceConfirmPromptsOnce(t *testing.T) {
	cfg := testConfig(3, config.LimitCancelOldest)
	m := NewManager(cfg)
	sm := newStepManager(cfg)
	st := dialogue.NewState()
	id := mustPush(t, m, st, "book_flight", map[string]any{"origin": "PRG", "destination": "LHR"}, "")

	advance(t, sm, st)

	assert.Equal(t, dialogue.StateConfirming, st.ConversationState)
	assert.Equal(t, "confirm_booking", st.CurrentStep)
	assert.Equal(t, "Fly from PRG to LHR?", st.LastResponse)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, true, st.FlowSlots[id][ConfirmPromptedMarker("confirm_booking")])

	// Still unconfirmed: a second pass keeps confirming without re-prompting.
	advance(t, sm, st)
	assert.Equal(t, dialogue.StateConfirming, st.ConversationState)
	assert.Len(t, st.Messages, 1)
}

func TestAdvanceConfirmRepromptsAfterReset(t *testing.T) {
	cfg := testConfig(3, config.LimitCancelOldest)
	m := NewManager(cfg)
	sm := newStepManager(cfg)
	st := dialogue.NewState()
	id := mustPush(t, m, st, "book_flight", map[string]any{"origin": "PRG", "destination": "LHR"}, "")

	advance(t, sm, st)
	require.Len(t, st.Messages, 1)

	// A denial that changes a slot resets the prompt marker for a new round.
	st.FlowSlots[id]["destination"] = "CDG"
	st.FlowSlots[id][ConfirmPromptedMarker("confirm_booking")] = false
	advance(t, sm, st)

	require.Len(t, st.Messages, 2)
	assert.Equal(t, "Fly from PRG to CDG?", st.Messages[1].Content)
}

func TestAdvancePastConfirmation(t *testing.T) {
	cfg := testConfig(3, config.LimitCancelOldest)
	m := NewManager(cfg)
	sm := newStepManager(cfg)
	st := dialogue.NewState()
	id := mustPush(t, m, st, "book_flight", map[string]any{"origin": "PRG", "destination": "LHR"}, "")
	st.FlowSlots[id][ConfirmedMarker("confirm_booking")] = true

	advance(t, sm, st)

	assert.Equal(t, dialogue.StateExecutingAction, st.ConversationState)
	assert.Equal(t, "book", st.CurrentStep)
}

func TestAdvanceBranchDecides(t *testing.T) {
	flows := testFlows()
	flows["route_amount"] = &config.FlowDefinition{
		Name: "route_amount",
		Slots: []config.SlotDef{
			{Name: "amount", Prompt: "How much?"},
		},
		Steps: []config.StepDef{
			{ID: "ask_amount", Kind: config.StepCollect, Slot: "amount"},
			{ID: "route", Kind: config.StepBranch,
				Cases:   []config.BranchCase{{When: "amount > 100", Next: "review"}},
				Default: "auto"},
			{ID: "review", Kind: config.StepCollect, Slot: "reviewer"},
			{ID: "auto", Kind: config.StepSay, Text: "Done automatically."},
		},
	}
	cfg := testConfig(3, config.LimitCancelOldest)
	cfg.Flows = config.NewFlowRegistry(flows)
	m := NewManager(cfg)
	sm := newStepManager(cfg)

	st := dialogue.NewState()
	id := mustPush(t, m, st, "route_amount", map[string]any{"amount": 250}, "")
	advance(t, sm, st)

	assert.Equal(t, "review", st.FlowSlots[id][BranchMarker("route")])
	assert.Equal(t, dialogue.StateWaitingForSlot, st.ConversationState)
	assert.Equal(t, "reviewer", st.WaitingForSlot)

	st2 := dialogue.NewState()
	mustPush(t, m, st2, "route_amount", map[string]any{"amount": 20}, "")
	advance(t, sm, st2)

	assert.Equal(t, dialogue.StateCompleted, st2.ConversationState)
	assert.Equal(t, "Done automatically.", st2.LastResponse)
}

func TestAdvanceExhaustionGuard(t *testing.T) {
	flows := testFlows()
	flows["looping"] = &config.FlowDefinition{
		Name: "looping",
		Steps: []config.StepDef{
			{ID: "hello", Kind: config.StepSay, Text: "hi"},
			{ID: "back", Kind: config.StepBranch, Default: "hello"},
		},
	}
	cfg := testConfig(3, config.LimitCancelOldest)
	cfg.Flows = config.NewFlowRegistry(flows)
	m := NewManager(cfg)
	sm := newStepManager(cfg)

	st := dialogue.NewState()
	mustPush(t, m, st, "looping", nil, "")
	advance(t, sm, st)

	assert.Equal(t, dialogue.StateError, st.ConversationState)
	assert.Equal(t, StepAdvancementExhausted, st.Metadata.Error)
}

func TestAdvanceNoActiveFlow(t *testing.T) {
	sm := newStepManager(testConfig(3, config.LimitCancelOldest))
	_, err := sm.AdvanceThroughCompletedSteps(dialogue.NewState())
	assert.ErrorIs(t, err, ErrNoActiveFlow)
}

func TestRenderTemplate(t *testing.T) {
	scope := map[string]any{"origin": "PRG", "count": 2}

	assert.Equal(t, "From PRG, 2 bags.", RenderTemplate("From {origin}, {count} bags.", scope))
	assert.Equal(t, "Hello {missing}!", RenderTemplate("Hello {missing}!", scope),
		"unknown placeholders stay verbatim")
	assert.Equal(t, "plain text", RenderTemplate("plain text", scope))
}

func TestPredicateScopeHidesMarkers(t *testing.T) {
	scope := predicateScope(map[string]any{
		"amount":                  50,
		SaidMarker("hello"):       true,
		BranchMarker("route"):     "auto",
		ActionMarker("fetch"):     "ok",
		ConfirmedMarker("verify"): true,
	})

	assert.Equal(t, map[string]any{"amount": 50}, scope)
}
