package patterns

import (
	"context"
	"fmt"

	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// HandleClarify answers a side question through the injected answer adapter
// and re-prompts whatever slot the conversation was waiting on. Each
// clarification deepens the digression; past max_depth the configured
// fallback takes over.
func HandleClarify(ctx context.Context, env command.Env, st *dialogue.DialogueState, cmd command.Command) (*dialogue.Updates, error) {
	cfg := env.Config().Runtime.Patterns.Clarification
	depth := st.DigressionDepth + 1

	if cfg.MaxDepth > 0 && depth > cfg.MaxDepth {
		if cfg.Fallback == "human_handoff" {
			return HandleHumanHandoff(ctx, env, st, command.Command{
				Type:   command.TypeHumanHandoff,
				Reason: "clarification_depth_exceeded",
			})
		}
		return &dialogue.Updates{
			LastResponse:    dialogue.Ptr("I'm having trouble explaining this well. Let's get back to the task."),
			DigressionDepth: dialogue.Ptr(depth),
			Trace: []dialogue.TraceEvent{{
				Event:     "clarification_depth_exceeded",
				Data:      map[string]any{"depth": depth, "fallback": cfg.Fallback},
				Timestamp: dialogue.Now(),
			}},
		}, nil
	}

	answer, err := env.Answer(ctx, cmd.Topic)
	if err != nil {
		answer = "I don't have a good answer for that."
	}

	text := answer
	if st.WaitingForSlot != "" {
		if def, derr := env.Config().Flows.Get(st.ActiveFlow().FlowName); derr == nil {
			if sd := def.Slot(st.WaitingForSlot); sd != nil && sd.Prompt != "" {
				text = fmt.Sprintf("%s %s", answer, sd.Prompt)
			}
		}
	}

	upd := &dialogue.Updates{
		LastResponse:       dialogue.Ptr(text),
		DigressionDepth:    dialogue.Ptr(depth),
		LastDigressionType: dialogue.Ptr("clarification"),
		Trace: []dialogue.TraceEvent{{
			Event:     "clarification",
			Data:      map[string]any{"topic": cmd.Topic, "depth": depth},
			Timestamp: dialogue.Now(),
		}},
	}
	if st.WaitingForSlot != "" {
		upd.ConversationState = dialogue.StatePtr(dialogue.StateWaitingForSlot)
	}
	return upd, nil
}
