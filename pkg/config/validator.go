package config

import (
	"errors"
	"fmt"
)

var (
	errMissingRequiredField = errors.New("missing required field")
	errInvalidValue         = errors.New("invalid field value")
)

// validate performs structural validation of the loaded configuration.
// Cross-references into the action/validator registries are checked later by
// Config.ResolveReferences, once the registries exist.
func validate(cfg *Config) error {
	if err := validateRuntime(cfg.Runtime); err != nil {
		return err
	}
	for name, def := range cfg.Flows.All() {
		if err := validateFlow(name, def); err != nil {
			return err
		}
	}
	return nil
}

func validateRuntime(rc *RuntimeConfig) error {
	if rc.FlowManagement.MaxStackDepth < 1 {
		return NewValidationError("runtime", "flow_management", "max_stack_depth",
			fmt.Errorf("%w: must be >= 1", errInvalidValue))
	}
	switch rc.FlowManagement.OnLimitReached {
	case LimitCancelOldest, LimitRejectNew, LimitAskUser:
	default:
		return NewValidationError("runtime", "flow_management", "on_limit_reached",
			fmt.Errorf("%w: %q", errInvalidValue, rc.FlowManagement.OnLimitReached))
	}
	if rc.Session.MessageTimeoutSeconds < 1 {
		return NewValidationError("runtime", "session", "message_timeout",
			fmt.Errorf("%w: must be >= 1", errInvalidValue))
	}
	if rc.Session.ActionTimeoutSeconds < 1 {
		return NewValidationError("runtime", "session", "action_timeout",
			fmt.Errorf("%w: must be >= 1", errInvalidValue))
	}
	if rc.Checkpoint.MaxStateBytes < 1024 {
		return NewValidationError("runtime", "checkpoint", "max_state_bytes",
			fmt.Errorf("%w: must be >= 1024", errInvalidValue))
	}
	if rc.Checkpoint.SessionRetentionSeconds > 0 && rc.Checkpoint.SweepIntervalSeconds < 1 {
		return NewValidationError("runtime", "checkpoint", "sweep_interval",
			fmt.Errorf("%w: must be >= 1 when session_retention is set", errInvalidValue))
	}
	switch rc.Patterns.Confirmation.OnMaxRetries {
	case "", "cancel", "human_handoff":
	default:
		return NewValidationError("runtime", "conversation_patterns.confirmation", "on_max_retries",
			fmt.Errorf("%w: %q", errInvalidValue, rc.Patterns.Confirmation.OnMaxRetries))
	}
	return nil
}

func validateFlow(name string, def *FlowDefinition) error {
	if len(def.Steps) == 0 {
		return NewValidationError("flow", name, "steps",
			fmt.Errorf("%w: at least one step", errMissingRequiredField))
	}

	slotNames := map[string]bool{}
	for _, slot := range def.Slots {
		if slot.Name == "" {
			return NewValidationError("flow", name, "slots",
				fmt.Errorf("%w: slot name", errMissingRequiredField))
		}
		if slotNames[slot.Name] {
			return NewValidationError("flow", name, "slots."+slot.Name,
				fmt.Errorf("%w: duplicate slot", errInvalidValue))
		}
		slotNames[slot.Name] = true
	}

	stepIDs := map[string]bool{}
	for _, step := range def.Steps {
		if step.ID == "" {
			return NewValidationError("flow", name, "steps",
				fmt.Errorf("%w: step id", errMissingRequiredField))
		}
		if stepIDs[step.ID] {
			return NewValidationError("flow", name, "steps."+step.ID,
				fmt.Errorf("%w: duplicate step id", errInvalidValue))
		}
		stepIDs[step.ID] = true
	}

	for _, step := range def.Steps {
		field := "steps." + step.ID
		switch step.Kind {
		case StepCollect:
			if step.Slot == "" {
				return NewValidationError("flow", name, field,
					fmt.Errorf("%w: collect step needs a slot", errMissingRequiredField))
			}
			if !slotNames[step.Slot] {
				return NewValidationError("flow", name, field,
					fmt.Errorf("%w: slot %q is not declared", ErrInvalidReference, step.Slot))
			}
		case StepAction:
			if step.Call == "" {
				return NewValidationError("flow", name, field,
					fmt.Errorf("%w: action step needs a call", errMissingRequiredField))
			}
		case StepBranch:
			if len(step.Cases) == 0 {
				return NewValidationError("flow", name, field,
					fmt.Errorf("%w: branch step needs cases", errMissingRequiredField))
			}
			for _, bc := range step.Cases {
				if !stepIDs[bc.Next] {
					return NewValidationError("flow", name, field,
						fmt.Errorf("%w: branch target %q", ErrInvalidReference, bc.Next))
				}
			}
			if step.Default != "" && !stepIDs[step.Default] {
				return NewValidationError("flow", name, field,
					fmt.Errorf("%w: default branch target %q", ErrInvalidReference, step.Default))
			}
		case StepSay:
			if step.Text == "" {
				return NewValidationError("flow", name, field,
					fmt.Errorf("%w: say step needs text", errMissingRequiredField))
			}
		case StepConfirm:
			if step.Summary == "" {
				return NewValidationError("flow", name, field,
					fmt.Errorf("%w: confirm step needs a summary", errMissingRequiredField))
			}
		default:
			return NewValidationError("flow", name, field,
				fmt.Errorf("%w: unknown step kind %q", errInvalidValue, step.Kind))
		}
	}

	return nil
}
