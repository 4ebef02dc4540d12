package flow

import (
	"sort"

	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// ScopeManager computes what is in scope for the current turn: which flows
// can be started and which already sit on the stack. The NLU context and the
// out-of-scope decision are both derived from it.
type ScopeManager struct {
	flows *config.FlowRegistry
}

// NewScopeManager creates a scope manager over the flow registry.
func NewScopeManager(flows *config.FlowRegistry) *ScopeManager {
	return &ScopeManager{flows: flows}
}

// EligibleFlows returns the names of flows that may be pushed this turn:
// every registered flow not already on the stack. A flow definition can run
// as multiple instances over a session, but not concurrently.
func (s *ScopeManager) EligibleFlows(st *dialogue.DialogueState) []string {
	onStack := make(map[string]bool, len(st.FlowStack))
	for _, fc := range st.FlowStack {
		onStack[fc.FlowName] = true
	}

	var eligible []string
	for _, name := range s.flows.Names() {
		if !onStack[name] {
			eligible = append(eligible, name)
		}
	}
	return eligible
}

// InScope reports whether the named flow is eligible this turn.
func (s *ScopeManager) InScope(st *dialogue.DialogueState, flowName string) bool {
	if !s.flows.Has(flowName) {
		return false
	}
	for _, fc := range st.FlowStack {
		if fc.FlowName == flowName {
			return false
		}
	}
	return true
}

// MatchEligible returns eligible flows whose trigger keywords match the
// message, sorted by name for determinism.
func (s *ScopeManager) MatchEligible(st *dialogue.DialogueState, message string) []string {
	var matched []string
	for _, name := range s.EligibleFlows(st) {
		def, err := s.flows.Get(name)
		if err != nil {
			continue
		}
		if def.MatchesKeyword(message) {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return matched
}
