package flow

import (
	"fmt"
	"regexp"

	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// advanceLimit bounds one advancement pass. An ill-formed flow whose steps
// never become incomplete (a say/branch self-loop) would otherwise spin.
const advanceLimit = 20

// StepAdvancementExhausted is recorded in metadata.error when the bound
// is hit.
const StepAdvancementExhausted = "step_advancement_exhausted"

// Bookkeeping markers kept in the flow's slot heap. They ride along with the
// slots so a flow instance carries its own progress, and they are archived
// with it.
const (
	markerSaid            = "__said_"
	markerBranch          = "__branch_"
	markerAction          = "__action_"
	markerConfirmed       = "__confirmed_"
	markerConfirmPrompted = "__confirm_prompted_"
)

// SaidMarker returns the slot-heap key recording that a say step emitted.
func SaidMarker(stepID string) string { return markerSaid + stepID }

// BranchMarker returns the key recording a branch decision.
func BranchMarker(stepID string) string { return markerBranch + stepID }

// ActionMarker returns the key recording an action step's result status.
func ActionMarker(stepID string) string { return markerAction + stepID }

// ConfirmedMarker returns the key recording a received affirmation.
func ConfirmedMarker(stepID string) string { return markerConfirmed + stepID }

// ConfirmPromptedMarker returns the key recording that the confirmation
// summary was emitted for the current round.
func ConfirmPromptedMarker(stepID string) string { return markerConfirmPrompted + stepID }

// StepManager advances through a flow's declared steps. Steps are totally
// ordered by position; branch steps jump by explicit next-step ids.
type StepManager struct {
	flows     *config.FlowRegistry
	evaluator Evaluator
}

// NewStepManager creates a step manager. A nil evaluator uses the built-in
// predicate subset.
func NewStepManager(flows *config.FlowRegistry, evaluator Evaluator) *StepManager {
	if evaluator == nil {
		evaluator = DefaultEvaluator{}
	}
	return &StepManager{flows: flows, evaluator: evaluator}
}

// IsStepComplete reports whether the step needs no further work given the
// flow's slot heap.
func (sm *StepManager) IsStepComplete(step *config.StepDef, slots map[string]any) bool {
	switch step.Kind {
	case config.StepCollect:
		// Optional slots never block; they are filled only when the user
		// volunteers a value.
		if step.Optional {
			return true
		}
		_, present := slots[step.Slot]
		return present
	case config.StepAction:
		return slots[ActionMarker(step.ID)] == "ok"
	case config.StepBranch:
		// An empty decision counts as undecided so corrections can force a
		// re-evaluation by clearing the marker.
		next, ok := slots[BranchMarker(step.ID)].(string)
		return ok && next != ""
	case config.StepSay:
		return slots[SaidMarker(step.ID)] == true
	case config.StepConfirm:
		return slots[ConfirmedMarker(step.ID)] == true
	default:
		return false
	}
}

// AdvanceToNextStep computes the successor of stepID within the definition.
// Branch steps follow their recorded decision. The second return is false
// when the flow is exhausted.
func (sm *StepManager) AdvanceToNextStep(def *config.FlowDefinition, stepID string, slots map[string]any) (string, bool) {
	step := def.Step(stepID)
	if step == nil {
		return "", false
	}
	if step.Kind == config.StepBranch {
		if next, ok := slots[BranchMarker(step.ID)].(string); ok && next != "" {
			return next, true
		}
	}
	idx := def.StepIndex(stepID)
	if idx < 0 || idx+1 >= len(def.Steps) {
		return "", false
	}
	return def.Steps[idx+1].ID, true
}

// AdvanceThroughCompletedSteps walks the active flow from its current step,
// skipping completed steps, emitting say text and deciding branches, until
// it reaches a step that needs the user or the executor. When the flow is
// exhausted the returned updates carry conversation_state=completed so the
// orchestrator pops the flow.
func (sm *StepManager) AdvanceThroughCompletedSteps(st *dialogue.DialogueState) (*dialogue.Updates, error) {
	active := st.ActiveFlow()
	if active == nil {
		return nil, ErrNoActiveFlow
	}
	def, err := sm.flows.Get(active.FlowName)
	if err != nil {
		return nil, err
	}

	slots := copySlots(st.FlowSlots[active.FlowID])
	if slots == nil {
		slots = map[string]any{}
	}

	cur := active.CurrentStep
	if cur == "" {
		if fs := def.FirstStep(); fs != nil {
			cur = fs.ID
		}
	}

	acc := &dialogue.Updates{}
	setSlot := func(key string, value any) {
		if acc.FlowSlots == nil {
			acc.FlowSlots = map[string]map[string]any{}
		}
		if acc.FlowSlots[active.FlowID] == nil {
			acc.FlowSlots[active.FlowID] = map[string]any{}
		}
		acc.FlowSlots[active.FlowID][key] = value
		slots[key] = value
	}
	finish := func(state dialogue.ConversationState, waiting string) *dialogue.Updates {
		stack := append([]dialogue.FlowContext(nil), st.FlowStack...)
		stack[len(stack)-1].CurrentStep = cur
		acc.FlowStack = &stack
		acc.CurrentStep = dialogue.Ptr(cur)
		acc.ConversationState = dialogue.StatePtr(state)
		acc.WaitingForSlot = dialogue.Ptr(waiting)
		return acc
	}

	for i := 0; i < advanceLimit; i++ {
		step := def.Step(cur)
		if step == nil {
			// Past the last step: the flow is done.
			return finish(dialogue.StateCompleted, ""), nil
		}

		if !sm.IsStepComplete(step, slots) {
			switch step.Kind {
			case config.StepCollect:
				return finish(dialogue.StateWaitingForSlot, step.Slot), nil

			case config.StepAction:
				return finish(dialogue.StateExecutingAction, ""), nil

			case config.StepConfirm:
				if slots[ConfirmPromptedMarker(step.ID)] != true {
					summary := RenderTemplate(step.Summary, renderScope(slots, active.Outputs))
					setSlot(ConfirmPromptedMarker(step.ID), true)
					acc.LastResponse = dialogue.Ptr(summary)
					acc.Messages = append(acc.Messages, dialogue.Message{
						Role: dialogue.RoleAssistant, Content: summary, Timestamp: dialogue.Now(),
					})
				}
				return finish(dialogue.StateConfirming, ""), nil

			case config.StepSay:
				text := RenderTemplate(step.Text, renderScope(slots, active.Outputs))
				setSlot(SaidMarker(step.ID), true)
				acc.LastResponse = dialogue.Ptr(text)
				acc.Messages = append(acc.Messages, dialogue.Message{
					Role: dialogue.RoleAssistant, Content: text, Timestamp: dialogue.Now(),
				})
				continue // the step is now complete; fall through to advance

			case config.StepBranch:
				next, err := sm.decideBranch(step, slots)
				if err != nil {
					return nil, err
				}
				setSlot(BranchMarker(step.ID), next)
				cur = next
				continue
			}
		}

		next, ok := sm.AdvanceToNextStep(def, cur, slots)
		if !ok {
			return finish(dialogue.StateCompleted, ""), nil
		}
		cur = next
	}

	acc.ConversationState = dialogue.StatePtr(dialogue.StateError)
	acc.Error = dialogue.Ptr(StepAdvancementExhausted)
	acc.Trace = []dialogue.TraceEvent{{
		Event:     "error",
		Data:      map[string]any{"kind": StepAdvancementExhausted, "where": "advance_through_completed_steps"},
		Timestamp: dialogue.Now(),
	}}
	return acc, nil
}

// decideBranch evaluates the branch cases in order; the default edge is
// taken only when no conditional case matches.
func (sm *StepManager) decideBranch(step *config.StepDef, slots map[string]any) (string, error) {
	scope := predicateScope(slots)
	for _, bc := range step.Cases {
		pred, err := sm.evaluator.Parse(bc.When)
		if err != nil {
			return "", fmt.Errorf("branch %s: %w", step.ID, err)
		}
		ok, err := pred.Eval(scope)
		if err != nil {
			return "", fmt.Errorf("branch %s: %w", step.ID, err)
		}
		if ok {
			return bc.Next, nil
		}
	}
	if step.Default == "" {
		return "", fmt.Errorf("branch %s: no case matched and no default", step.ID)
	}
	return step.Default, nil
}

// predicateScope strips bookkeeping markers so predicates only see slots.
func predicateScope(slots map[string]any) map[string]any {
	out := make(map[string]any, len(slots))
	for k, v := range slots {
		if len(k) >= 2 && k[:2] == "__" {
			continue
		}
		out[k] = v
	}
	return out
}

func renderScope(slots, outputs map[string]any) map[string]any {
	scope := predicateScope(slots)
	for k, v := range outputs {
		scope[k] = v
	}
	return scope
}

var templateVarRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// RenderTemplate substitutes {name} placeholders from the scope. Unknown
// placeholders are left verbatim so missing data is visible in transcripts.
func RenderTemplate(text string, scope map[string]any) string {
	return templateVarRe.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := scope[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}
