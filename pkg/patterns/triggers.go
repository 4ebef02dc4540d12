package patterns

import (
	"log/slog"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/dialogkit/dialogkit/pkg/flow"
)

// explicitRequestCondition is matched by the user asking for a human
// directly, which arrives as a HumanHandoff command rather than through the
// trigger sweep; the sweep skips it.
const explicitRequestCondition = "explicit_request"

// Triggers evaluates the handoff trigger conditions after each executor
// turn. Conditions are predicate expressions over the session's frustration
// counters.
type Triggers struct {
	cfg       config.HumanHandoffConfig
	evaluator flow.Evaluator
}

// NewTriggers builds the trigger engine. A nil evaluator uses the built-in
// predicate subset.
func NewTriggers(cfg config.HumanHandoffConfig, evaluator flow.Evaluator) *Triggers {
	if evaluator == nil {
		evaluator = flow.DefaultEvaluator{}
	}
	return &Triggers{cfg: cfg, evaluator: evaluator}
}

// Check returns a HumanHandoff command when a trigger condition fires, nil
// otherwise. Sessions already in the error terminal are left alone.
func (t *Triggers) Check(st *dialogue.DialogueState) *command.Command {
	if !config.Enabled(t.cfg.Enabled) || st.ConversationState == dialogue.StateError {
		return nil
	}

	scope := map[string]any{
		"clarification_depth": st.DigressionDepth,
		"validation_failures": st.Metadata.ValidationFailures,
		"confirm_retries":     st.Metadata.ConfirmRetries,
		"turn_count":          st.TurnCount,
	}

	for _, cond := range t.cfg.TriggerConditions {
		if cond == explicitRequestCondition {
			continue
		}
		pred, err := t.evaluator.Parse(cond)
		if err != nil {
			slog.Warn("Skipping unparseable trigger condition", "condition", cond, "error", err)
			continue
		}
		ok, err := pred.Eval(scope)
		if err != nil {
			slog.Warn("Trigger condition evaluation failed", "condition", cond, "error", err)
			continue
		}
		if ok {
			return &command.Command{
				Type:   command.TypeHumanHandoff,
				Reason: cond,
			}
		}
	}
	return nil
}
