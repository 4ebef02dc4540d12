package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dialogkit/dialogkit/pkg/checkpoint"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

const defaultMaxSteps = 50

// RunnerConfig tunes a Runner. ErrorNode, when set, receives control after
// any node failure; MaxSteps bounds node transitions per run (default 50).
type RunnerConfig struct {
	ErrorNode string
	MaxSteps  int
}

// Runner executes a compiled graph for one session at a time, checkpointing
// the state after every node transition. The caller hands over ownership of
// the state for the duration of the run.
type Runner[R any] struct {
	graph     *Graph[R]
	store     checkpoint.Checkpointer
	errorNode string
	maxSteps  int
}

func NewRunner[R any](g *Graph[R], store checkpoint.Checkpointer, cfg RunnerConfig) (*Runner[R], error) {
	if cfg.ErrorNode != "" && !g.Has(cfg.ErrorNode) {
		return nil, fmt.Errorf("%w: error node %q", ErrUnknownNode, cfg.ErrorNode)
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &Runner[R]{graph: g, store: store, errorNode: cfg.ErrorNode, maxSteps: maxSteps}, nil
}

// Outcome reports how a run ended. Paused means the session is waiting on
// the user with Prompt; otherwise the run reached End.
type Outcome struct {
	State        *dialogue.DialogueState
	Paused       bool
	Prompt       string
	CheckpointID string
	Steps        int
}

// Run executes the graph from its start node over a fresh state.
func (r *Runner[R]) Run(ctx context.Context, rt R, sessionID string, st *dialogue.DialogueState) (*Outcome, error) {
	return r.run(ctx, rt, sessionID, st, r.graph.start)
}

// ResumeRun re-enters a paused snapshot, handing value to the suspended node.
// The node runs again from its start; its suspension call now yields value
// instead of pausing.
func (r *Runner[R]) ResumeRun(ctx context.Context, rt R, sessionID string, snap *checkpoint.Snapshot, value string) (*Outcome, error) {
	if !snap.Paused() || len(snap.NextNodes) == 0 {
		return nil, fmt.Errorf("%w: snapshot %s is not paused", ErrUnknownNode, snap.CheckpointID)
	}
	node := snap.NextNodes[0]
	if !r.graph.Has(node) {
		return nil, fmt.Errorf("%w: paused node %q", ErrUnknownNode, node)
	}
	return r.run(withResume(ctx, value), rt, sessionID, snap.State, node)
}

func (r *Runner[R]) run(ctx context.Context, rt R, sessionID string, st *dialogue.DialogueState, node string) (*Outcome, error) {
	for steps := 1; steps <= r.maxSteps; steps++ {
		// The deadline check sits on the node boundary; an abandoned run
		// leaves the last saved checkpoint authoritative.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fn, ok := r.graph.nodes[node]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNode, node)
		}

		upd, err := fn(ctx, rt, st)

		var sig *InterruptSignal
		if errors.As(err, &sig) {
			if sig.Updates != nil {
				sig.Updates.Apply(st)
			}
			id, serr := r.save(ctx, sessionID, st, []string{node}, []string{sig.Prompt})
			if serr != nil {
				return nil, serr
			}
			return &Outcome{State: st, Paused: true, Prompt: sig.Prompt, CheckpointID: id, Steps: steps}, nil
		}
		if err != nil {
			if r.errorNode == "" || node == r.errorNode {
				return nil, fmt.Errorf("node %s: %w", node, err)
			}
			slog.Error("graph node failed", "session_id", sessionID, "node", node, "error", err)
			ctx = withNodeError(ctx, err)
			node = r.errorNode
			continue
		}
		if upd != nil {
			upd.Apply(st)
		}

		next, err := r.graph.next(node, st)
		if err != nil {
			return nil, err
		}
		var nextNodes []string
		if next != End {
			nextNodes = []string{next}
		}
		id, serr := r.save(ctx, sessionID, st, nextNodes, nil)
		if serr != nil {
			return nil, serr
		}
		if next == End {
			return &Outcome{State: st, CheckpointID: id, Steps: steps}, nil
		}
		node = next
	}
	return nil, fmt.Errorf("%w: %d transitions", ErrStepLimit, r.maxSteps)
}

func (r *Runner[R]) save(ctx context.Context, sessionID string, st *dialogue.DialogueState, next, interrupts []string) (string, error) {
	snap := &checkpoint.Snapshot{State: st, NextNodes: next, PendingInterrupts: interrupts}
	id, err := r.store.Save(ctx, sessionID, snap)
	if err != nil {
		return "", fmt.Errorf("checkpointing after node: %w", err)
	}
	return id, nil
}
