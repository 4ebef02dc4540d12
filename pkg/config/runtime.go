package config

import "time"

// LimitPolicy selects what happens when a push would exceed the flow stack
// depth limit.
type LimitPolicy string

const (
	LimitCancelOldest LimitPolicy = "cancel_oldest"
	LimitRejectNew    LimitPolicy = "reject_new"
	LimitAskUser      LimitPolicy = "ask_user"
)

// FlowManagementConfig bounds the flow stack and paused-flow lifetimes.
// Durations are configured in seconds, matching the on-disk format.
type FlowManagementConfig struct {
	MaxStackDepth         int         `yaml:"max_stack_depth"`
	OnLimitReached        LimitPolicy `yaml:"on_limit_reached"`
	AbandonTimeoutSeconds int         `yaml:"abandon_timeout"`
}

// AbandonTimeout returns the paused-flow expiry as a duration.
func (c *FlowManagementConfig) AbandonTimeout() time.Duration {
	return time.Duration(c.AbandonTimeoutSeconds) * time.Second
}

// MemoryManagementConfig holds the pruning bounds for the unbounded-growth
// parts of the state document.
type MemoryManagementConfig struct {
	MaxHistoryMessages         int `yaml:"max_history_messages"`
	MaxTraceEvents             int `yaml:"max_trace_events"`
	ArchiveCompletedFlowsAfter int `yaml:"archive_completed_flows_after"`
	MaxCommandLog              int `yaml:"max_command_log"`
	MaxQueuedMessages          int `yaml:"max_queued_messages"`
}

// CorrectionConfig toggles the slot-correction pattern.
// Enabled is a *bool: nil means "use default" (enabled), explicit false disables.
type CorrectionConfig struct {
	Enabled              *bool `yaml:"enabled,omitempty"`
	RevalidateDependents *bool `yaml:"revalidate_dependents,omitempty"`
}

// ClarificationConfig toggles the clarification pattern.
type ClarificationConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	MaxDepth int    `yaml:"max_depth,omitempty"`
	Fallback string `yaml:"fallback,omitempty"`
}

// CancellationConfig toggles the cancellation pattern.
type CancellationConfig struct {
	Enabled             *bool `yaml:"enabled,omitempty"`
	ConfirmBeforeCancel *bool `yaml:"confirm_before_cancel,omitempty"`
}

// HumanHandoffConfig toggles the human-handoff pattern.
type HumanHandoffConfig struct {
	Enabled           *bool    `yaml:"enabled,omitempty"`
	TriggerConditions []string `yaml:"trigger_conditions,omitempty"`
	Action            string   `yaml:"action,omitempty"`
}

// ConfirmationConfig toggles the confirmation pattern.
type ConfirmationConfig struct {
	Enabled      *bool  `yaml:"enabled,omitempty"`
	MaxRetries   int    `yaml:"max_retries,omitempty"`
	OnMaxRetries string `yaml:"on_max_retries,omitempty"`
}

// PatternsConfig groups the conversation-pattern overlays.
type PatternsConfig struct {
	Correction    CorrectionConfig    `yaml:"correction"`
	Clarification ClarificationConfig `yaml:"clarification"`
	Cancellation  CancellationConfig  `yaml:"cancellation"`
	HumanHandoff  HumanHandoffConfig  `yaml:"human_handoff"`
	Confirmation  ConfirmationConfig  `yaml:"confirmation"`
}

// SessionConfig holds per-message and per-action deadlines, in seconds.
type SessionConfig struct {
	MessageTimeoutSeconds int `yaml:"message_timeout"`
	ActionTimeoutSeconds  int `yaml:"action_timeout"`
}

// MessageTimeout returns the per-message deadline.
func (c *SessionConfig) MessageTimeout() time.Duration {
	return time.Duration(c.MessageTimeoutSeconds) * time.Second
}

// ActionTimeout returns the per-action deadline.
func (c *SessionConfig) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutSeconds) * time.Second
}

// CheckpointConfig bounds the serialized state document and sets the
// retention policy for stored sessions.
type CheckpointConfig struct {
	MaxStateBytes           int `yaml:"max_state_bytes"`
	SessionRetentionSeconds int `yaml:"session_retention"`
	SweepIntervalSeconds    int `yaml:"sweep_interval"`
}

// SessionRetention returns how long finished or idle sessions are kept.
// Zero disables the retention sweep.
func (c *CheckpointConfig) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionSeconds) * time.Second
}

// SweepInterval returns how often the retention sweep runs.
func (c *CheckpointConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// RuntimeConfig is the closed set of runtime options.
type RuntimeConfig struct {
	FlowManagement   FlowManagementConfig   `yaml:"flow_management"`
	MemoryManagement MemoryManagementConfig `yaml:"memory_management"`
	Patterns         PatternsConfig         `yaml:"conversation_patterns"`
	Session          SessionConfig          `yaml:"session"`
	Checkpoint       CheckpointConfig       `yaml:"checkpoint"`
}

// DefaultRuntimeConfig returns the built-in runtime defaults. User YAML is
// merged over these; any unset field keeps its default.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		FlowManagement: FlowManagementConfig{
			MaxStackDepth:         3,
			OnLimitReached:        LimitCancelOldest,
			AbandonTimeoutSeconds: 3600,
		},
		MemoryManagement: MemoryManagementConfig{
			MaxHistoryMessages:         50,
			MaxTraceEvents:             100,
			ArchiveCompletedFlowsAfter: 10,
			MaxCommandLog:              100,
			MaxQueuedMessages:          5,
		},
		Patterns: PatternsConfig{
			Correction: CorrectionConfig{
				Enabled:              BoolPtr(true),
				RevalidateDependents: BoolPtr(true),
			},
			Clarification: ClarificationConfig{
				Enabled:  BoolPtr(true),
				MaxDepth: 3,
				Fallback: "human_handoff",
			},
			Cancellation: CancellationConfig{
				Enabled:             BoolPtr(true),
				ConfirmBeforeCancel: BoolPtr(false),
			},
			HumanHandoff: HumanHandoffConfig{
				Enabled: BoolPtr(true),
				TriggerConditions: []string{
					"clarification_depth > 3",
					"validation_failures > 5",
					"explicit_request",
				},
				Action: "handoff_to_agent",
			},
			Confirmation: ConfirmationConfig{
				Enabled:      BoolPtr(true),
				MaxRetries:   3,
				OnMaxRetries: "cancel",
			},
		},
		Session: SessionConfig{
			MessageTimeoutSeconds: 30,
			ActionTimeoutSeconds:  10,
		},
		Checkpoint: CheckpointConfig{
			MaxStateBytes:           1 << 20,
			SessionRetentionSeconds: 30 * 24 * 3600,
			SweepIntervalSeconds:    3600,
		},
	}
}

// BoolPtr returns a pointer to b. Convenience for *bool struct fields.
func BoolPtr(b bool) *bool { return &b }

// Enabled interprets a *bool toggle: nil means enabled by default.
func Enabled(b *bool) bool { return b == nil || *b }
