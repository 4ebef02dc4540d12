package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// StepKind enumerates the declarative step kinds of a flow definition.
type StepKind string

const (
	StepCollect StepKind = "collect"
	StepAction  StepKind = "action"
	StepBranch  StepKind = "branch"
	StepSay     StepKind = "say"
	StepConfirm StepKind = "confirm"
)

// TriggerConfig declares what makes a flow eligible to start.
type TriggerConfig struct {
	Intents  []string `yaml:"intents,omitempty"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// FlowMetadata holds per-flow lifecycle toggles.
// CanBePaused/CanBeResumed default to true when unset.
type FlowMetadata struct {
	CanBePaused              *bool `yaml:"can_be_paused,omitempty"`
	CanBeResumed             *bool `yaml:"can_be_resumed,omitempty"`
	MaxPauseDurationSeconds  int   `yaml:"max_pause_duration,omitempty"`
}

// MaxPauseDuration returns the per-flow pause expiry, or 0 when the global
// abandon timeout applies.
func (m *FlowMetadata) MaxPauseDuration() time.Duration {
	return time.Duration(m.MaxPauseDurationSeconds) * time.Second
}

// SlotDef declares one piece of information a flow collects.
type SlotDef struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type,omitempty"`
	Validator  string `yaml:"validator,omitempty"`
	Normalizer string `yaml:"normalizer,omitempty"`
	Prompt     string `yaml:"prompt"`
}

// BranchCase is one conditional edge of a branch step. When is a predicate
// expression evaluated against the flow's slot scope.
type BranchCase struct {
	When string `yaml:"when"`
	Next string `yaml:"next"`
}

// StepDef is one declarative step. Fields are populated per Kind:
// collect uses Slot/Optional, action uses Call/Inputs/Outputs, branch uses
// Cases/Default, say uses Text, confirm uses Summary.
type StepDef struct {
	ID       string            `yaml:"id"`
	Kind     StepKind          `yaml:"kind"`
	Slot     string            `yaml:"slot,omitempty"`
	Optional bool              `yaml:"optional,omitempty"`
	Call     string            `yaml:"call,omitempty"`
	Inputs   map[string]string `yaml:"inputs,omitempty"`
	Outputs  map[string]string `yaml:"outputs,omitempty"`
	Cases    []BranchCase      `yaml:"cases,omitempty"`
	Default  string            `yaml:"default,omitempty"`
	Text     string            `yaml:"text,omitempty"`
	Summary  string            `yaml:"summary,omitempty"`
}

// FlowDefinition is one declaratively defined flow.
type FlowDefinition struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Triggers    TriggerConfig `yaml:"triggers,omitempty"`
	Metadata    FlowMetadata  `yaml:"metadata,omitempty"`
	Slots       []SlotDef     `yaml:"slots,omitempty"`
	Steps       []StepDef     `yaml:"steps"`
}

// Slot returns the slot definition by name, or nil.
func (f *FlowDefinition) Slot(name string) *SlotDef {
	for i := range f.Slots {
		if f.Slots[i].Name == name {
			return &f.Slots[i]
		}
	}
	return nil
}

// Step returns the step definition by id, or nil.
func (f *FlowDefinition) Step(id string) *StepDef {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i]
		}
	}
	return nil
}

// StepIndex returns the position of the step id, or -1.
func (f *FlowDefinition) StepIndex(id string) int {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// FirstStep returns the first declared step, or nil for an empty flow.
func (f *FlowDefinition) FirstStep() *StepDef {
	if len(f.Steps) == 0 {
		return nil
	}
	return &f.Steps[0]
}

// MatchesKeyword reports whether the message contains one of the flow's
// trigger keywords (case-insensitive substring match).
func (f *FlowDefinition) MatchesKeyword(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range f.Triggers.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// FlowRegistry stores flow definitions in memory with thread-safe access.
// It is read-only after Initialize.
type FlowRegistry struct {
	flows map[string]*FlowDefinition
	mu    sync.RWMutex
}

// NewFlowRegistry creates a flow registry from the given definitions.
func NewFlowRegistry(flows map[string]*FlowDefinition) *FlowRegistry {
	copied := make(map[string]*FlowDefinition, len(flows))
	for k, v := range flows {
		copied[k] = v
	}
	return &FlowRegistry{flows: copied}
}

// Get retrieves a flow definition by name.
func (r *FlowRegistry) Get(name string) (*FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, name)
	}
	return f, nil
}

// Has reports whether a flow definition exists.
func (r *FlowRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.flows[name]
	return ok
}

// Names returns all flow names, sorted.
func (r *FlowRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered flows.
func (r *FlowRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

// All returns a copy of the definitions map.
func (r *FlowRegistry) All() map[string]*FlowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*FlowDefinition, len(r.flows))
	for k, v := range r.flows {
		out[k] = v
	}
	return out
}
