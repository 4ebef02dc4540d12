package nlu

import (
	"context"
	"strings"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
)

// RuleAdapter is a deterministic keyword-driven adapter used by the CLI and
// tests. It understands flow trigger keywords, yes/no during confirmation,
// cancellation phrases, and treats everything else as the outstanding slot's
// value (or small talk). Real deployments plug in a model-backed adapter.
type RuleAdapter struct {
	flows *config.FlowRegistry
}

// NewRuleAdapter creates a rule adapter over the flow registry.
func NewRuleAdapter(flows *config.FlowRegistry) *RuleAdapter {
	return &RuleAdapter{flows: flows}
}

var (
	cancelPhrases = []string{"never mind", "nevermind", "cancel", "forget it", "stop"}
	affirmWords   = map[string]bool{"yes": true, "yep": true, "yeah": true, "sure": true, "correct": true, "confirm": true, "ok": true, "okay": true}
	denyWords     = map[string]bool{"no": true, "nope": true, "wrong": true, "incorrect": true}
	handoffHints  = []string{"human", "agent", "real person", "representative"}
)

// Predict applies the rules in priority order: cancellation, handoff,
// confirmation answers, flow triggers, outstanding slot, small talk.
func (a *RuleAdapter) Predict(_ context.Context, req *Request) (*Result, error) {
	msg := strings.TrimSpace(req.UserMessage)
	lower := strings.ToLower(msg)

	if msg == "" {
		return &Result{
			Commands:   []command.Command{{Type: command.TypeChitChat, Hint: "I didn't catch that. What would you like to do?"}},
			Confidence: 0.5,
			Reasoning:  "empty message",
		}, nil
	}

	for _, phrase := range cancelPhrases {
		if strings.Contains(lower, phrase) {
			return single(command.Command{Type: command.TypeCancelFlow, Reason: msg}, 0.9, "cancellation phrase"), nil
		}
	}

	for _, hint := range handoffHints {
		if strings.Contains(lower, hint) {
			return single(command.Command{Type: command.TypeHumanHandoff, Reason: "explicit_request"}, 0.9, "handoff phrase"), nil
		}
	}

	if req.Context.CurrentState == "confirming" {
		if affirmWords[lower] {
			return single(command.Command{Type: command.TypeAffirmConfirmation}, 0.95, "affirmation word"), nil
		}
		if denyWords[lower] {
			return single(command.Command{Type: command.TypeDenyConfirmation}, 0.95, "denial word"), nil
		}
	}

	if cmd := a.matchTrigger(req, lower); cmd != nil {
		return single(*cmd, 0.85, "flow trigger keyword"), nil
	}

	if slot := req.Context.WaitingForSlot; slot != "" {
		return single(command.Command{
			Type: command.TypeSetSlot, Slot: slot, Value: msg, Confidence: 0.8,
		}, 0.8, "message taken as outstanding slot value"), nil
	}

	return single(command.Command{Type: command.TypeChitChat}, 0.4, "no rule matched"), nil
}

// matchTrigger finds the first eligible flow whose trigger keywords appear
// in the message.
func (a *RuleAdapter) matchTrigger(req *Request, lower string) *command.Command {
	for _, name := range req.Context.AvailableFlows {
		def, err := a.flows.Get(name)
		if err != nil || !def.MatchesKeyword(lower) {
			continue
		}
		return &command.Command{Type: command.TypeStartFlow, FlowName: name}
	}
	return nil
}

func single(cmd command.Command, confidence float64, reasoning string) *Result {
	return &Result{
		Commands:   []command.Command{cmd},
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}
