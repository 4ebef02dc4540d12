package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dialogkit/dialogkit/pkg/actions"
	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/dialogkit/dialogkit/pkg/flow"
	"github.com/dialogkit/dialogkit/pkg/graph"
	"github.com/dialogkit/dialogkit/pkg/nlu"
)

// Node names. They show up in checkpoints (next_nodes) and traces, so they
// are part of the persisted vocabulary.
const (
	nodeUnderstand       = "understand"
	nodeExecuteCommands  = "execute_commands"
	nodeValidateSlot     = "validate_slot"
	nodeCollectNextSlot  = "collect_next_slot"
	nodeExecuteAction    = "execute_action"
	nodeCompleteFlow     = "complete_flow"
	nodeGenerateResponse = "generate_response"
	nodeHandleError      = "handle_error"
)

// BuildGraph compiles the message-processing graph.
func BuildGraph() (*graph.Graph[*Runtime], error) {
	return graph.NewBuilder[*Runtime]().
		AddNode(nodeUnderstand, understand).
		AddNode(nodeExecuteCommands, executeCommands).
		AddNode(nodeValidateSlot, validateSlot).
		AddNode(nodeCollectNextSlot, collectNextSlot).
		AddNode(nodeExecuteAction, executeAction).
		AddNode(nodeCompleteFlow, completeFlow).
		AddNode(nodeGenerateResponse, generateResponse).
		AddNode(nodeHandleError, handleError).
		SetStart(nodeUnderstand).
		AddEdge(nodeUnderstand, nodeExecuteCommands).
		AddConditional(nodeExecuteCommands, routeByState(nodeGenerateResponse)).
		AddConditional(nodeValidateSlot, routeByState(nodeGenerateResponse)).
		AddEdge(nodeCollectNextSlot, nodeUnderstand).
		AddConditional(nodeExecuteAction, routeByState(nodeGenerateResponse)).
		AddConditional(nodeCompleteFlow, routeAfterComplete).
		AddEdge(nodeGenerateResponse, graph.End).
		AddEdge(nodeHandleError, nodeGenerateResponse).
		Compile()
}

// routeByState maps the post-update conversation state onto the next node.
// Confirmation prompts and terminal states fall through to the given default
// (the response node).
func routeByState(fallback string) graph.RouterFunc {
	return func(st *dialogue.DialogueState) string {
		switch st.ConversationState {
		case dialogue.StateWaitingForSlot:
			if st.WaitingForSlot != "" {
				return nodeCollectNextSlot
			}
			return fallback
		case dialogue.StateValidatingSlot:
			return nodeValidateSlot
		case dialogue.StateExecutingAction:
			return nodeExecuteAction
		case dialogue.StateCompleted:
			return nodeCompleteFlow
		default:
			return fallback
		}
	}
}

func routeAfterComplete(st *dialogue.DialogueState) string {
	if len(st.FlowStack) > 0 {
		return nodeUnderstand
	}
	return nodeGenerateResponse
}

// understand turns the user message into commands via the NLU adapter. An
// empty message is the auto-resume signal after a flow pop: no understanding
// runs, the resumed flow just advances to its next outstanding step.
func understand(ctx context.Context, rt *Runtime, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	now := dialogue.Now()

	if st.UserMessage == "" {
		upd := &dialogue.Updates{
			NLUResult: emptyResult,
			Trace: []dialogue.TraceEvent{{
				Event:     "auto_resume",
				Data:      map[string]any{"flow_stack_depth": len(st.FlowStack)},
				Timestamp: now,
			}},
		}
		if st.ActiveFlow() != nil {
			adv, err := rt.steps.AdvanceThroughCompletedSteps(st)
			if err != nil {
				return nil, err
			}
			dialogue.Merge(upd, adv)
		}
		return upd, nil
	}

	req := rt.contexts.Build(st, st.UserMessage)
	res, err := rt.adapter.Predict(ctx, req)
	if err != nil {
		slog.Warn("NLU adapter failed, falling back",
			"waiting_for_slot", st.WaitingForSlot, "error", err)
		res = nlu.Fallback(st.WaitingForSlot, st.UserMessage)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding nlu result: %w", err)
	}

	return &dialogue.Updates{
		Messages: []dialogue.Message{{
			Role: dialogue.RoleUser, Content: st.UserMessage, Timestamp: now,
		}},
		NLUResult:   raw,
		LastNLUCall: dialogue.Ptr(now),
		TurnCount:   dialogue.Ptr(st.TurnCount + 1),
	}, nil
}

var emptyResult = json.RawMessage(`{"commands":[],"confidence":1}`)

// executeCommands runs the understood command sequence, then evaluates the
// handoff trigger conditions over the post-turn counters.
func executeCommands(ctx context.Context, rt *Runtime, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	var res nlu.Result
	if len(st.NLUResult) > 0 {
		if err := json.Unmarshal(st.NLUResult, &res); err != nil {
			return nil, fmt.Errorf("decoding nlu result: %w", err)
		}
	}
	if len(res.Commands) == 0 {
		return nil, nil
	}

	upd, err := rt.executor.Execute(ctx, rt, st, res.Commands)
	if err != nil {
		return nil, err
	}

	ws, err := st.Clone()
	if err != nil {
		return nil, err
	}
	upd.Apply(ws)
	if cmd := rt.triggers.Check(ws); cmd != nil {
		tupd, terr := rt.executor.Execute(ctx, rt, ws, []command.Command{*cmd})
		if terr != nil {
			return nil, terr
		}
		dialogue.Merge(upd, tupd)
	}
	return upd, nil
}

// validateSlot drains metadata.pending_validation. A rejected value is
// removed from the heap and re-prompted; once everything passes, the flow
// advances to its next outstanding step.
func validateSlot(ctx context.Context, rt *Runtime, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil {
		return &dialogue.Updates{
			PendingValidation: &[]string{},
			ConversationState: dialogue.StatePtr(dialogue.StateIdle),
		}, nil
	}
	def, err := rt.cfg.Flows.Get(active.FlowName)
	if err != nil {
		return nil, err
	}

	slots := st.FlowSlots[active.FlowID]
	for _, slotName := range st.Metadata.PendingValidation {
		sd := def.Slot(slotName)
		if sd == nil || sd.Validator == "" {
			continue
		}
		if verr := rt.validators.Validate(sd.Validator, slots[slotName]); verr != nil {
			failures := st.Metadata.ValidationFailures + 1
			prompt := fmt.Sprintf("Sorry, that doesn't look right. %s", sd.Prompt)
			return &dialogue.Updates{
				LastResponse:       dialogue.Ptr(prompt),
				ConversationState:  dialogue.StatePtr(dialogue.StateWaitingForSlot),
				WaitingForSlot:     dialogue.Ptr(slotName),
				ValidationFailures: dialogue.Ptr(failures),
				PendingValidation:  &[]string{},
				DropSlotKeys:       map[string][]string{active.FlowID: {slotName}},
				Trace: []dialogue.TraceEvent{{
					Event:     "slot_rejected",
					Data:      map[string]any{"slot": slotName, "failures": failures, "error": verr.Error()},
					Timestamp: dialogue.Now(),
				}},
			}, nil
		}
	}

	upd := &dialogue.Updates{
		PendingValidation:  &[]string{},
		ValidationFailures: dialogue.Ptr(0),
	}
	ws, err := st.Clone()
	if err != nil {
		return nil, err
	}
	upd.Apply(ws)
	adv, err := rt.steps.AdvanceThroughCompletedSteps(ws)
	if err != nil {
		return nil, err
	}
	dialogue.Merge(upd, adv)
	return upd, nil
}

// collectNextSlot suspends on the outstanding slot's prompt. Anything
// already said this turn (a balance read-out, a chit-chat reply) is folded
// in front of the prompt so one message carries both. On resume the user's
// reply becomes the next user_message and control returns to understand.
func collectNextSlot(ctx context.Context, rt *Runtime, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	if v, ok := graph.Resume(ctx); ok {
		return &dialogue.Updates{
			UserMessage:  dialogue.Ptr(v),
			LastResponse: dialogue.Ptr(""),
		}, nil
	}

	active := st.ActiveFlow()
	if active == nil || st.WaitingForSlot == "" {
		return nil, fmt.Errorf("collect_next_slot: no slot outstanding")
	}
	def, err := rt.cfg.Flows.Get(active.FlowName)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("What is the %s?", st.WaitingForSlot)
	if sd := def.Slot(st.WaitingForSlot); sd != nil && sd.Prompt != "" {
		prompt = flow.RenderTemplate(sd.Prompt, st.FlowSlots[active.FlowID])
	}
	if st.LastResponse != "" && !strings.Contains(st.LastResponse, prompt) {
		prompt = st.LastResponse + " " + prompt
	} else if st.LastResponse != "" {
		prompt = st.LastResponse
	}

	upd := &dialogue.Updates{LastResponse: dialogue.Ptr(prompt)}
	if !lastAssistantSaid(st, prompt) {
		upd.Messages = []dialogue.Message{{
			Role: dialogue.RoleAssistant, Content: prompt, Timestamp: dialogue.Now(),
		}}
	}
	return nil, graph.Suspend(prompt, upd)
}

// executeAction dispatches the current action step, writes its declared
// outputs onto the flow context, and advances.
func executeAction(ctx context.Context, rt *Runtime, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil {
		return nil, flow.ErrNoActiveFlow
	}
	def, err := rt.cfg.Flows.Get(active.FlowName)
	if err != nil {
		return nil, err
	}
	step := def.Step(active.CurrentStep)
	if step == nil || step.Kind != config.StepAction {
		return nil, fmt.Errorf("execute_action: step %q of %s is not an action", active.CurrentStep, active.FlowName)
	}

	slots := st.FlowSlots[active.FlowID]
	inputs := make(map[string]any, len(step.Inputs))
	for slotName, arg := range step.Inputs {
		if v, ok := slots[slotName]; ok {
			inputs[arg] = v
		} else if v, ok := active.Outputs[slotName]; ok {
			inputs[arg] = v
		}
	}

	outputs, err := rt.dispatcher.Execute(ctx, step.Call, inputs)
	if err != nil {
		return nil, err
	}

	stored := outputs
	if len(step.Outputs) > 0 {
		stored = make(map[string]any, len(step.Outputs))
		for resultKey, outName := range step.Outputs {
			if v, ok := outputs[resultKey]; ok {
				stored[outName] = v
			}
		}
	}

	stack := append([]dialogue.FlowContext(nil), st.FlowStack...)
	top := &stack[len(stack)-1]
	merged := make(map[string]any, len(top.Outputs)+len(stored))
	for k, v := range top.Outputs {
		merged[k] = v
	}
	for k, v := range stored {
		merged[k] = v
	}
	top.Outputs = merged

	upd := &dialogue.Updates{
		FlowStack: &stack,
		FlowSlots: map[string]map[string]any{
			active.FlowID: {flow.ActionMarker(step.ID): "ok"},
		},
		Trace: []dialogue.TraceEvent{{
			Event:     "action_executed",
			Data:      map[string]any{"action": step.Call, "step": step.ID},
			Timestamp: dialogue.Now(),
		}},
	}

	ws, err := st.Clone()
	if err != nil {
		return nil, err
	}
	upd.Apply(ws)
	adv, err := rt.steps.AdvanceThroughCompletedSteps(ws)
	if err != nil {
		return nil, err
	}
	dialogue.Merge(upd, adv)
	return upd, nil
}

// completeFlow pops the finished flow. With flows still stacked the popped
// flow's parent resumes and the graph re-enters understand with an empty
// message, so the user is re-prompted without restating intent.
func completeFlow(ctx context.Context, rt *Runtime, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	upd, err := rt.flows.PopFlow(st, nil, dialogue.FlowCompleted)
	if err != nil {
		return nil, err
	}
	upd.UserMessage = dialogue.Ptr("")
	upd.WaitingForSlot = dialogue.Ptr("")
	upd.ConversationState = dialogue.StatePtr(dialogue.StateIdle)
	if len(st.FlowStack) > 1 {
		// Returning to the parent flow ends the digression.
		upd.DigressionDepth = dialogue.Ptr(0)
	}
	return upd, nil
}

// generateResponse settles the turn's assistant text: whatever the turn
// produced, else a declared response output of the latest flow, else a
// generic acknowledgement.
func generateResponse(ctx context.Context, rt *Runtime, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	text := st.LastResponse
	if text == "" {
		for _, key := range []string{"response", "confirmation", "message"} {
			if v, ok := latestOutputs(st)[key]; ok {
				text = fmt.Sprintf("%v", v)
				break
			}
		}
	}
	if text == "" {
		if st.Metadata.Error != "" {
			text = "Sorry, something went wrong on my end."
		} else {
			text = "Okay."
		}
	}

	upd := &dialogue.Updates{LastResponse: dialogue.Ptr(text)}
	if !lastAssistantSaid(st, text) {
		upd.Messages = []dialogue.Message{{
			Role: dialogue.RoleAssistant, Content: text, Timestamp: dialogue.Now(),
		}}
	}
	return upd, nil
}

// handleError converts a node failure into a recorded, user-visible outcome.
// Messages and the flow stack are left untouched; only the transient fields
// reset.
func handleError(ctx context.Context, rt *Runtime, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	err := graph.NodeError(ctx)
	kind := string(actions.KindOf(err))
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &dialogue.Updates{
		ConversationState: dialogue.StatePtr(dialogue.StateError),
		Error:             dialogue.Ptr(kind),
		WaitingForSlot:    dialogue.Ptr(""),
		LastResponse:      dialogue.Ptr("Sorry, something went wrong on my end. Let's try that again."),
		Trace: []dialogue.TraceEvent{{
			Event:     "error",
			Data:      map[string]any{"kind": kind, "where": nodeHandleError, "detail": detail},
			Timestamp: dialogue.Now(),
		}},
	}, nil
}

// latestOutputs returns the active flow's outputs, or the newest archived
// flow's when the stack is empty.
func latestOutputs(st *dialogue.DialogueState) map[string]any {
	if active := st.ActiveFlow(); active != nil {
		return active.Outputs
	}
	if n := len(st.Metadata.CompletedFlows); n > 0 {
		return st.Metadata.CompletedFlows[n-1].Outputs
	}
	return nil
}

func lastAssistantSaid(st *dialogue.DialogueState, text string) bool {
	if len(st.Messages) == 0 {
		return false
	}
	last := st.Messages[len(st.Messages)-1]
	return last.Role == dialogue.RoleAssistant && last.Content == text
}
