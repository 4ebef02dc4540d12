package config

import "fmt"

// Config is the umbrella configuration object returned by Initialize and
// used throughout the runtime. Read-only after initialization; safe for
// concurrent readers.
type Config struct {
	configDir string

	// Runtime holds the closed set of runtime options with defaults applied.
	Runtime *RuntimeConfig

	// Flows is the registry of declarative flow definitions.
	Flows *FlowRegistry
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetFlow retrieves a flow definition by name.
// Convenience wrapper over Flows.Get.
func (c *Config) GetFlow(name string) (*FlowDefinition, error) {
	return c.Flows.Get(name)
}

// Referencer reports whether a named handler is registered. Satisfied by the
// action, validator, and normalizer registries.
type Referencer interface {
	Has(name string) bool
}

// ResolveReferences verifies every action, validator, and normalizer named by
// a flow definition (and by the handoff pattern) is actually registered.
// Called once at startup after the registries are populated; any failure is
// fatal (ConfigurationError).
func (c *Config) ResolveReferences(actions, validators, normalizers Referencer) error {
	for name, def := range c.Flows.All() {
		for _, slot := range def.Slots {
			if slot.Validator != "" && !validators.Has(slot.Validator) {
				return NewValidationError("flow", name, "slots."+slot.Name+".validator",
					fmt.Errorf("%w: validator %q", ErrInvalidReference, slot.Validator))
			}
			if slot.Normalizer != "" && !normalizers.Has(slot.Normalizer) {
				return NewValidationError("flow", name, "slots."+slot.Name+".normalizer",
					fmt.Errorf("%w: normalizer %q", ErrInvalidReference, slot.Normalizer))
			}
		}
		for _, step := range def.Steps {
			if step.Kind == StepAction && !actions.Has(step.Call) {
				return NewValidationError("flow", name, "steps."+step.ID+".call",
					fmt.Errorf("%w: action %q", ErrInvalidReference, step.Call))
			}
		}
	}

	if handoff := c.Runtime.Patterns.HumanHandoff; Enabled(handoff.Enabled) && handoff.Action != "" {
		if !actions.Has(handoff.Action) {
			return NewValidationError("runtime", "conversation_patterns.human_handoff", "action",
				fmt.Errorf("%w: action %q", ErrInvalidReference, handoff.Action))
		}
	}

	return nil
}
