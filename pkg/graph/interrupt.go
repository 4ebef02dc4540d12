package graph

import (
	"context"
	"fmt"

	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// InterruptSignal is the error a node returns to suspend the run and ask the
// user something. Updates carries the writes made before the suspension so
// they land in the checkpoint; on resume the node runs again from the start,
// so everything before the suspension must be a pure recomputation.
type InterruptSignal struct {
	Prompt  string
	Updates *dialogue.Updates
}

func (s *InterruptSignal) Error() string {
	return fmt.Sprintf("interrupted: %s", s.Prompt)
}

// Suspend builds the interrupt signal for a node's return.
func Suspend(prompt string, upd *dialogue.Updates) error {
	return &InterruptSignal{Prompt: prompt, Updates: upd}
}

type ctxKey int

const (
	resumeKey ctxKey = iota
	nodeErrKey
)

// resumeValue is consumed at most once per run, so a second suspension in the
// same run pauses again instead of replaying the old reply.
type resumeValue struct {
	value string
	used  bool
}

func withResume(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, resumeKey, &resumeValue{value: v})
}

// Resume returns the pending resume value, if any, and consumes it. A node
// that previously suspended calls this first; when it reports false the node
// suspends, when it reports true the user's reply is in hand.
func Resume(ctx context.Context) (string, bool) {
	rv, ok := ctx.Value(resumeKey).(*resumeValue)
	if !ok || rv.used {
		return "", false
	}
	rv.used = true
	return rv.value, true
}

func withNodeError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, nodeErrKey, err)
}

// NodeError returns the failure that routed execution into the error node.
func NodeError(ctx context.Context) error {
	err, _ := ctx.Value(nodeErrKey).(error)
	return err
}
