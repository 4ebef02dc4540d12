package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dialogkit/dialogkit/pkg/checkpoint"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
	"github.com/dialogkit/dialogkit/pkg/graph"
)

// Reply is what the session gets back for one message.
type Reply struct {
	SessionID    string                  `json:"session_id"`
	Text         string                  `json:"text"`
	Paused       bool                    `json:"paused"`
	CheckpointID string                  `json:"checkpoint_id"`
	State        *dialogue.DialogueState `json:"-"`
}

// Loop drives the graph per session: load the checkpoint, resume or start a
// run, enforce the message deadline, and hand back the response. It owns no
// conversation logic of its own.
type Loop struct {
	rt     *Runtime
	runner *graph.Runner[*Runtime]
	store  checkpoint.Checkpointer

	mu   sync.Mutex
	busy map[string]struct{}
}

// NewLoop compiles the graph and wires the orchestrator.
func NewLoop(rt *Runtime, store checkpoint.Checkpointer) (*Loop, error) {
	g, err := BuildGraph()
	if err != nil {
		return nil, err
	}
	runner, err := graph.NewRunner(g, store, graph.RunnerConfig{ErrorNode: nodeHandleError})
	if err != nil {
		return nil, err
	}
	return &Loop{rt: rt, runner: runner, store: store, busy: map[string]struct{}{}}, nil
}

// HandleMessage processes one user message for the session. A second
// concurrent call for the same session is rejected with ErrSessionBusy;
// messages within a session never interleave.
func (l *Loop) HandleMessage(ctx context.Context, sessionID, message string) (*Reply, error) {
	if !l.acquire(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	defer l.release(sessionID)

	if timeout := l.rt.cfg.Runtime.Session.MessageTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	snap, err := l.store.Load(ctx, sessionID)
	fresh := errors.Is(err, checkpoint.ErrNotFound)
	if err != nil && !fresh {
		return nil, err
	}

	var out *graph.Outcome
	prevTurn := 0
	switch {
	case fresh:
		st := dialogue.NewState()
		st.UserMessage = message
		out, err = l.runner.Run(ctx, l.rt, sessionID, st)

	case snap.Paused():
		prevTurn = snap.State.TurnCount
		l.sweep(snap.State)
		out, err = l.runner.ResumeRun(ctx, l.rt, sessionID, snap, message)

	default:
		st := snap.State
		prevTurn = st.TurnCount
		l.sweep(st)
		st.UserMessage = message
		st.LastResponse = ""
		st.Metadata.Error = ""
		out, err = l.runner.Run(ctx, l.rt, sessionID, st)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The in-flight node is abandoned; the last saved checkpoint
			// stays authoritative.
			slog.Warn("Message deadline expired", "session_id", sessionID)
			return &Reply{SessionID: sessionID, Text: "request timed out"}, nil
		}
		return nil, err
	}

	st := out.State
	if ierr := st.CheckInvariants(l.rt.cfg.Runtime.FlowManagement.MaxStackDepth, prevTurn); ierr != nil {
		slog.Error("State invariant violated, freezing session",
			"session_id", sessionID, "error", ierr)
		return &Reply{
			SessionID:    sessionID,
			Text:         "Sorry, something went wrong on my end.",
			CheckpointID: out.CheckpointID,
		}, nil
	}

	if err := l.checkSize(st); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	return &Reply{
		SessionID:    sessionID,
		Text:         st.LastResponse,
		Paused:       out.Paused,
		CheckpointID: out.CheckpointID,
		State:        st,
	}, nil
}

// Session returns the latest snapshot.
func (l *Loop) Session(ctx context.Context, sessionID string) (*checkpoint.Snapshot, error) {
	return l.store.Load(ctx, sessionID)
}

// History lists the session's checkpoints, newest first.
func (l *Loop) History(ctx context.Context, sessionID string) ([]*checkpoint.Snapshot, error) {
	return l.store.List(ctx, sessionID)
}

// RewindTo makes an older checkpoint the latest again, discarding everything
// after it.
func (l *Loop) RewindTo(ctx context.Context, sessionID, checkpointID string) (*checkpoint.Snapshot, error) {
	if !l.acquire(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	defer l.release(sessionID)
	return l.store.Rewind(ctx, sessionID, checkpointID)
}

// EndSession deletes the session's checkpoints. Subsequent messages start a
// fresh conversation.
func (l *Loop) EndSession(ctx context.Context, sessionID string) error {
	if !l.acquire(sessionID) {
		return fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	defer l.release(sessionID)
	return l.store.Delete(ctx, sessionID)
}

// sweep runs the pre-message housekeeping on a loaded state: expire paused
// flows past their pause budget and trim the unbounded-growth lists.
func (l *Loop) sweep(st *dialogue.DialogueState) {
	if expired := l.rt.flows.ExpirePaused(st, dialogue.Now()); expired > 0 {
		slog.Info("Expired paused flows", "count", expired)
	}
	l.rt.flows.Prune(st)
}

// checkSize enforces the serialized-state budget. Pruning already ran; a
// document still over budget is a hard failure with the last snapshot kept.
func (l *Loop) checkSize(st *dialogue.DialogueState) error {
	max := l.rt.cfg.Runtime.Checkpoint.MaxStateBytes
	if max <= 0 {
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if len(raw) > max {
		l.rt.flows.Prune(st)
		if raw, err = json.Marshal(st); err == nil && len(raw) <= max {
			return nil
		}
		return fmt.Errorf("%w: %d bytes over %d budget", ErrStateTooLarge, len(raw), max)
	}
	return nil
}

func (l *Loop) acquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.busy[sessionID]; taken {
		return false
	}
	l.busy[sessionID] = struct{}{}
	return true
}

func (l *Loop) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.busy, sessionID)
}
