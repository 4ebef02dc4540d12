// Package nlu defines the boundary to the understanding layer: the adapter
// contract, the dialogue context handed to it, a TTL cache, and two
// reference adapters (rule-based and remote HTTP).
package nlu

import (
	"context"
	"errors"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// ErrAdapterFailed wraps understanding failures; the orchestrator recovers
// per the fallback policy instead of surfacing it.
var ErrAdapterFailed = errors.New("nlu adapter failed")

// DialogueContext is the structured situation summary the adapter predicts
// against.
type DialogueContext struct {
	CurrentSlots   map[string]any `json:"current_slots,omitempty"`
	AvailableFlows []string       `json:"available_flows,omitempty"`
	PausedFlows    []string       `json:"paused_flows,omitempty"`
	CurrentFlow    string         `json:"current_flow,omitempty"`
	CurrentState   string         `json:"current_state,omitempty"`
	WaitingForSlot string         `json:"waiting_for_slot,omitempty"`
	RecentCommands []string       `json:"recent_commands,omitempty"`
}

// Request is one prediction input. Now is informational (relative-date
// resolution) and excluded from cache keys.
type Request struct {
	UserMessage string             `json:"user_message"`
	History     []dialogue.Message `json:"conversation_history,omitempty"`
	Context     DialogueContext    `json:"dialogue_context"`
	Now         float64            `json:"now"`
}

// Entity is one extracted value.
type Entity struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Result is one prediction output. Adapters never return a nil Result on a
// nil error.
type Result struct {
	Commands   []command.Command `json:"commands"`
	Entities   []Entity          `json:"entities,omitempty"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// Adapter turns a user message plus context into commands. Implementations
// must tolerate an empty message and must not return (nil, nil).
type Adapter interface {
	Predict(ctx context.Context, req *Request) (*Result, error)
}

// fallbackConfidence marks slot values guessed from raw text after an
// adapter failure.
const fallbackConfidence = 0.3

// Fallback builds the recovery result used when the adapter errors out:
// with a slot outstanding the raw message becomes that slot's value at low
// confidence; otherwise the message is treated as not understood.
func Fallback(waitingForSlot, userMessage string) *Result {
	if waitingForSlot != "" {
		return &Result{
			Commands: []command.Command{{
				Type:       command.TypeSetSlot,
				Slot:       waitingForSlot,
				Value:      userMessage,
				Confidence: fallbackConfidence,
			}},
			Confidence: fallbackConfidence,
			Reasoning:  "adapter failure: raw message used as slot value",
		}
	}
	return &Result{
		Commands: []command.Command{{
			Type: command.TypeChitChat,
			Hint: "Sorry, I didn't quite understand that. Could you rephrase?",
		}},
		Confidence: fallbackConfidence,
		Reasoning:  "adapter failure: no slot outstanding",
	}
}
