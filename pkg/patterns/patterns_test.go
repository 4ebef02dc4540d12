package patterns

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogkit/dialogkit/pkg/actions"
	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/dialogkit/dialogkit/pkg/flow"
)

type testEnv struct {
	cfg          *config.Config
	flows        *flow.Manager
	steps        *flow.StepManager
	scope        *flow.ScopeManager
	validators   *actions.ValidatorRegistry
	normalizers  *actions.NormalizerRegistry
	dispatcher   *actions.Dispatcher
	handoffCalls *atomic.Int32
}

func (e *testEnv) Config() *config.Config                   { return e.cfg }
func (e *testEnv) Flows() *flow.Manager                     { return e.flows }
func (e *testEnv) Steps() *flow.StepManager                 { return e.steps }
func (e *testEnv) Scope() *flow.ScopeManager                { return e.scope }
func (e *testEnv) Validators() *actions.ValidatorRegistry   { return e.validators }
func (e *testEnv) Normalizers() *actions.NormalizerRegistry { return e.normalizers }
func (e *testEnv) Actions() *actions.Dispatcher             { return e.dispatcher }

func (e *testEnv) Answer(_ context.Context, topic string) (string, error) {
	return "Here's what I know about " + topic + ".", nil
}

func patternFlows() map[string]*config.FlowDefinition {
	return map[string]*config.FlowDefinition{
		"book_flight": {
			Name: "book_flight",
			Slots: []config.SlotDef{
				{Name: "origin", Prompt: "Where from?"},
				{Name: "destination", Prompt: "Where to?"},
			},
			Steps: []config.StepDef{
				{ID: "ask_origin", Kind: config.StepCollect, Slot: "origin"},
				{ID: "ask_destination", Kind: config.StepCollect, Slot: "destination"},
				{ID: "confirm_booking", Kind: config.StepConfirm, Summary: "Fly from {origin} to {destination}?"},
				{ID: "book", Kind: config.StepAction, Call: "book_flight"},
				{ID: "done", Kind: config.StepSay, Text: "Booked!"},
			},
		},
		"check_balance": {
			Name: "check_balance",
			Slots: []config.SlotDef{
				{Name: "account_type", Prompt: "Which account?"},
			},
			Steps: []config.StepDef{
				{ID: "ask_account", Kind: config.StepCollect, Slot: "account_type"},
				{ID: "fetch", Kind: config.StepAction, Call: "get_balance"},
				{ID: "tell", Kind: config.StepSay, Text: "Your balance is {balance}."},
			},
		},
	}
}

func newEnv(mutate func(*config.RuntimeConfig)) *testEnv {
	rt := config.DefaultRuntimeConfig()
	if mutate != nil {
		mutate(rt)
	}
	cfg := &config.Config{
		Runtime: rt,
		Flows:   config.NewFlowRegistry(patternFlows()),
	}

	var handoffCalls atomic.Int32
	reg := actions.NewRegistry()
	reg.Register(&actions.Action{
		Name:   "handoff_to_agent",
		Inputs: []string{},
		Handler: func(context.Context, map[string]any) (map[string]any, error) {
			handoffCalls.Add(1)
			return map[string]any{}, nil
		},
	})

	return &testEnv{
		cfg:          cfg,
		flows:        flow.NewManager(cfg),
		steps:        flow.NewStepManager(cfg.Flows, nil),
		scope:        flow.NewScopeManager(cfg.Flows),
		validators:   actions.NewValidatorRegistry(),
		normalizers:  actions.NewNormalizerRegistry(),
		dispatcher:   actions.NewDispatcher(reg, time.Second),
		handoffCalls: &handoffCalls,
	}
}

func push(t *testing.T, env *testEnv, st *dialogue.DialogueState, name string, slots map[string]any) string {
	t.Helper()
	id, upd, err := env.flows.PushFlow(st, name, slots, "")
	require.NoError(t, err)
	upd.Apply(st)
	return id
}

// atConfirmation drives book_flight to its confirmation step.
func atConfirmation(t *testing.T, env *testEnv, st *dialogue.DialogueState) string {
	t.Helper()
	id := push(t, env, st, "book_flight", map[string]any{"origin": "PRG", "destination": "LHR"})
	upd, err := env.steps.AdvanceThroughCompletedSteps(st)
	require.NoError(t, err)
	upd.Apply(st)
	require.Equal(t, dialogue.StateConfirming, st.ConversationState)
	return id
}

func TestCorrectSlotResetsDependents(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	id := atConfirmation(t, env, st)
	st.FlowSlots[id][flow.ActionMarker("book")] = "ok"

	upd, err := HandleCorrectSlot(context.Background(), env, st, command.Command{
		Type: command.TypeCorrectSlot, Slot: "destination", Value: "CDG",
	})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Equal(t, "CDG", st.FlowSlots[id]["destination"])
	assert.Equal(t, "", st.FlowSlots[id][flow.ActionMarker("book")], "downstream action re-runs")
	assert.Equal(t, false, st.FlowSlots[id][flow.ConfirmedMarker("confirm_booking")])
	assert.Equal(t, false, st.FlowSlots[id][flow.ConfirmPromptedMarker("confirm_booking")],
		"confirmation is re-asked with the new value")
	assert.Equal(t, dialogue.StateValidatingSlot, st.ConversationState)
	assert.Equal(t, []string{"destination"}, st.Metadata.PendingValidation)
	assert.Contains(t, st.LastResponse, "destination is now CDG")
}

func TestCorrectSlotWithoutRevalidate(t *testing.T) {
	env := newEnv(func(rt *config.RuntimeConfig) {
		rt.Patterns.Correction.RevalidateDependents = config.BoolPtr(false)
	})
	st := dialogue.NewState()
	id := atConfirmation(t, env, st)
	st.FlowSlots[id][flow.ActionMarker("book")] = "ok"

	upd, err := HandleCorrectSlot(context.Background(), env, st, command.Command{
		Type: command.TypeCorrectSlot, Slot: "destination", Value: "CDG",
	})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Equal(t, "ok", st.FlowSlots[id][flow.ActionMarker("book")], "dependents untouched")
}

func TestCorrectSlotUnknownSlot(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	push(t, env, st, "book_flight", nil)

	upd, err := HandleCorrectSlot(context.Background(), env, st, command.Command{
		Type: command.TypeCorrectSlot, Slot: "seat_color", Value: "red",
	})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Contains(t, st.LastResponse, "seat_color")
	assert.Empty(t, st.Metadata.PendingValidation)
}

func TestClarifyAnswersAndReprompts(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	push(t, env, st, "book_flight", nil)
	st.ConversationState = dialogue.StateWaitingForSlot
	st.WaitingForSlot = "origin"

	upd, err := HandleClarify(context.Background(), env, st, command.Command{
		Type: command.TypeClarify, Topic: "baggage allowance",
	})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Contains(t, st.LastResponse, "baggage allowance")
	assert.Contains(t, st.LastResponse, "Where from?", "waiting slot is re-prompted")
	assert.Equal(t, 1, st.DigressionDepth)
	assert.Equal(t, "clarification", st.LastDigressionType)
	assert.Equal(t, dialogue.StateWaitingForSlot, st.ConversationState)
}

func TestClarifyEscalatesPastMaxDepth(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	push(t, env, st, "book_flight", nil)
	st.DigressionDepth = 3 // at the default max already

	upd, err := HandleClarify(context.Background(), env, st, command.Command{
		Type: command.TypeClarify, Topic: "why",
	})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Equal(t, dialogue.StateError, st.ConversationState)
	assert.Equal(t, "human_handoff", st.Metadata.Error)
	assert.Equal(t, int32(1), env.handoffCalls.Load(), "handoff action executed")
}

func TestCancelFlowImmediate(t *testing.T) {
	env := newEnv(nil) // confirm_before_cancel defaults to false
	st := dialogue.NewState()
	id := push(t, env, st, "book_flight", map[string]any{"origin": "PRG"})

	upd, err := HandleCancelFlow(context.Background(), env, st, command.Command{
		Type: command.TypeCancelFlow, Reason: "changed my mind",
	})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Empty(t, st.FlowStack)
	assert.Equal(t, dialogue.StateIdle, st.ConversationState)
	require.Len(t, st.Metadata.CompletedFlows, 1)
	assert.Equal(t, id, st.Metadata.CompletedFlows[0].FlowID)
	assert.Equal(t, dialogue.FlowCancelled, st.Metadata.CompletedFlows[0].FlowState)
	assert.Contains(t, st.LastResponse, "cancelled book_flight")
}

func TestCancelFlowResumesPaused(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	push(t, env, st, "book_flight", nil)
	st.FlowStack[0].CurrentStep = "ask_destination"
	push(t, env, st, "check_balance", nil)

	upd, err := HandleCancelFlow(context.Background(), env, st, command.Command{Type: command.TypeCancelFlow})
	require.NoError(t, err)
	upd.Apply(st)

	require.Len(t, st.FlowStack, 1)
	assert.Equal(t, "book_flight", st.FlowStack[0].FlowName)
	assert.Equal(t, dialogue.FlowActive, st.FlowStack[0].FlowState)
	assert.Equal(t, dialogue.StateWaitingForSlot, st.ConversationState)
	assert.Equal(t, "destination", st.WaitingForSlot, "resumed flow picks up at its step")
}

func TestCancelFlowAsksFirst(t *testing.T) {
	env := newEnv(func(rt *config.RuntimeConfig) {
		rt.Patterns.Cancellation.ConfirmBeforeCancel = config.BoolPtr(true)
	})
	st := dialogue.NewState()
	id := push(t, env, st, "book_flight", nil)
	st.ConversationState = dialogue.StateWaitingForSlot
	st.WaitingForSlot = "origin"

	upd, err := HandleCancelFlow(context.Background(), env, st, command.Command{Type: command.TypeCancelFlow})
	require.NoError(t, err)
	upd.Apply(st)

	require.Len(t, st.FlowStack, 1, "nothing cancelled yet")
	assert.Equal(t, dialogue.StateConfirming, st.ConversationState)
	assert.Empty(t, st.WaitingForSlot, "the cancel question supersedes the slot prompt")
	assert.Equal(t, true, st.FlowSlots[id][cancelPendingMarker])
	require.NoError(t, st.CheckInvariants(3, st.TurnCount))

	// Affirm resolves the pending cancel.
	upd, err = HandleAffirmConfirmation(context.Background(), env, st, command.Command{Type: command.TypeAffirmConfirmation})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Empty(t, st.FlowStack)
	assert.Equal(t, dialogue.FlowCancelled, st.Metadata.CompletedFlows[0].FlowState)
}

func TestDenyKeepsFlowAfterCancelQuestion(t *testing.T) {
	env := newEnv(func(rt *config.RuntimeConfig) {
		rt.Patterns.Cancellation.ConfirmBeforeCancel = config.BoolPtr(true)
	})
	st := dialogue.NewState()
	id := push(t, env, st, "book_flight", nil)

	upd, err := HandleCancelFlow(context.Background(), env, st, command.Command{Type: command.TypeCancelFlow})
	require.NoError(t, err)
	upd.Apply(st)

	upd, err = HandleDenyConfirmation(context.Background(), env, st, command.Command{Type: command.TypeDenyConfirmation})
	require.NoError(t, err)
	upd.Apply(st)

	require.Len(t, st.FlowStack, 1, "flow survives a declined cancel")
	assert.Equal(t, false, st.FlowSlots[id][cancelPendingMarker])
	assert.Equal(t, dialogue.StateWaitingForSlot, st.ConversationState)
	assert.Equal(t, "origin", st.WaitingForSlot, "conversation returns to the outstanding slot")
}

func TestAffirmConfirmationAdvancesToAction(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	id := atConfirmation(t, env, st)

	upd, err := HandleAffirmConfirmation(context.Background(), env, st, command.Command{Type: command.TypeAffirmConfirmation})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Equal(t, true, st.FlowSlots[id][flow.ConfirmedMarker("confirm_booking")])
	assert.Equal(t, dialogue.StateExecutingAction, st.ConversationState)
	assert.Equal(t, "book", st.CurrentStep)
	assert.Equal(t, 0, st.Metadata.ConfirmRetries)
}

func TestAffirmOutsideConfirmation(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()

	upd, err := HandleAffirmConfirmation(context.Background(), env, st, command.Command{Type: command.TypeAffirmConfirmation})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Contains(t, st.LastResponse, "nothing waiting for a yes")
}

func TestDenyConfirmationWithSlotToChange(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	id := atConfirmation(t, env, st)

	upd, err := HandleDenyConfirmation(context.Background(), env, st, command.Command{
		Type: command.TypeDenyConfirmation, SlotToChange: "destination",
	})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Equal(t, dialogue.StateWaitingForSlot, st.ConversationState)
	assert.Equal(t, "destination", st.WaitingForSlot)
	assert.Equal(t, "Where to?", st.LastResponse)
	assert.Equal(t, 1, st.Metadata.ConfirmRetries)
	assert.Equal(t, false, st.FlowSlots[id][flow.ConfirmPromptedMarker("confirm_booking")],
		"summary will be re-asked after the change")
}

func TestDenyConfirmationSlotMenu(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	atConfirmation(t, env, st)

	upd, err := HandleDenyConfirmation(context.Background(), env, st, command.Command{Type: command.TypeDenyConfirmation})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Equal(t, dialogue.StateConfirming, st.ConversationState,
		"the confirmation stays open until a slot is named")
	assert.Empty(t, st.WaitingForSlot)
	assert.Contains(t, st.LastResponse, "origin, destination")
	require.NoError(t, st.CheckInvariants(3, st.TurnCount))
}

func TestDenyConfirmationRetriesExceeded(t *testing.T) {
	env := newEnv(nil) // max_retries 3, on_max_retries cancel
	st := dialogue.NewState()
	atConfirmation(t, env, st)
	st.Metadata.ConfirmRetries = 3

	upd, err := HandleDenyConfirmation(context.Background(), env, st, command.Command{Type: command.TypeDenyConfirmation})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Empty(t, st.FlowStack, "flow cancelled after too many denials")
	assert.Equal(t, dialogue.FlowCancelled, st.Metadata.CompletedFlows[0].FlowState)
}

func TestHumanHandoff(t *testing.T) {
	env := newEnv(nil)
	st := dialogue.NewState()
	push(t, env, st, "book_flight", nil)

	upd, err := HandleHumanHandoff(context.Background(), env, st, command.Command{
		Type: command.TypeHumanHandoff, Reason: "explicit_request",
	})
	require.NoError(t, err)
	upd.Apply(st)

	assert.Equal(t, dialogue.StateError, st.ConversationState)
	assert.Equal(t, "human_handoff", st.Metadata.Error)
	assert.Equal(t, int32(1), env.handoffCalls.Load())
	assert.Contains(t, st.LastResponse, "human agent")
}

func TestTriggersFire(t *testing.T) {
	env := newEnv(nil)
	trg := NewTriggers(env.cfg.Runtime.Patterns.HumanHandoff, nil)

	st := dialogue.NewState()
	assert.Nil(t, trg.Check(st))

	st.Metadata.ValidationFailures = 6
	cmd := trg.Check(st)
	require.NotNil(t, cmd)
	assert.Equal(t, command.TypeHumanHandoff, cmd.Type)
	assert.Equal(t, "validation_failures > 5", cmd.Reason)

	st.ConversationState = dialogue.StateError
	assert.Nil(t, trg.Check(st), "error sessions are not re-escalated")
}

func TestTriggersDisabled(t *testing.T) {
	cfg := config.DefaultRuntimeConfig().Patterns.HumanHandoff
	cfg.Enabled = config.BoolPtr(false)
	trg := NewTriggers(cfg, nil)

	st := dialogue.NewState()
	st.DigressionDepth = 10
	assert.Nil(t, trg.Check(st))
}

func TestRegisterDisabledPatternStub(t *testing.T) {
	rt := config.DefaultRuntimeConfig()
	rt.Patterns.Correction.Enabled = config.BoolPtr(false)
	reg := command.NewRegistry()
	Register(reg, rt)

	h, err := reg.Get(command.TypeCorrectSlot)
	require.NoError(t, err, "disabled patterns still have a stub handler")

	env := newEnv(nil)
	st := dialogue.NewState()
	upd, err := h(context.Background(), env, st, command.Command{Type: command.TypeCorrectSlot})
	require.NoError(t, err)
	upd.Apply(st)
	assert.Contains(t, st.LastResponse, "can't do that")
}
