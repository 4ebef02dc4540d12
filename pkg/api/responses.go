package api

// FlowSummary is one stack entry in a session response.
type FlowSummary struct {
	FlowID    string `json:"flow_id"`
	FlowName  string `json:"flow_name"`
	FlowState string `json:"flow_state"`
}

// SessionResponse is returned by GET /api/v1/sessions/:id.
type SessionResponse struct {
	SessionID         string        `json:"session_id"`
	CheckpointID      string        `json:"checkpoint_id"`
	ConversationState string        `json:"conversation_state"`
	WaitingForSlot    string        `json:"waiting_for_slot,omitempty"`
	TurnCount         int           `json:"turn_count"`
	Paused            bool          `json:"paused"`
	PendingPrompts    []string      `json:"pending_prompts,omitempty"`
	FlowStack         []FlowSummary `json:"flow_stack"`
	LastResponse      string        `json:"last_response,omitempty"`
}

// CheckpointSummary is one entry in the checkpoint history, newest first.
type CheckpointSummary struct {
	CheckpointID string   `json:"checkpoint_id"`
	ParentID     string   `json:"parent_id,omitempty"`
	CreatedAt    float64  `json:"created_at"`
	Paused       bool     `json:"paused"`
	NextNodes    []string `json:"next_nodes,omitempty"`
	TurnCount    int      `json:"turn_count"`
}

// CheckpointListResponse is returned by GET /api/v1/sessions/:id/checkpoints.
type CheckpointListResponse struct {
	SessionID   string              `json:"session_id"`
	Checkpoints []CheckpointSummary `json:"checkpoints"`
}

// HealthCheck is one component's health in a health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
