package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogkit/dialogkit/pkg/checkpoint"
	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

type testRT struct {
	greeting string
}

func noop(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
	return nil, nil
}

func respond(text string) NodeFunc[*testRT] {
	return func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
		return &dialogue.Updates{LastResponse: dialogue.Ptr(text)}, nil
	}
}

func TestCompileValidation(t *testing.T) {
	t.Run("no start", func(t *testing.T) {
		_, err := NewBuilder[*testRT]().AddNode("a", noop).AddEdge("a", End).Compile()
		assert.ErrorIs(t, err, ErrGraphInvalid)
	})

	t.Run("start not registered", func(t *testing.T) {
		_, err := NewBuilder[*testRT]().AddNode("a", noop).AddEdge("a", End).SetStart("b").Compile()
		assert.ErrorIs(t, err, ErrGraphInvalid)
	})

	t.Run("node without outgoing edge", func(t *testing.T) {
		_, err := NewBuilder[*testRT]().AddNode("a", noop).SetStart("a").Compile()
		assert.ErrorIs(t, err, ErrGraphInvalid)
	})

	t.Run("edge and router on same node", func(t *testing.T) {
		_, err := NewBuilder[*testRT]().
			AddNode("a", noop).
			AddEdge("a", End).
			AddConditional("a", func(*dialogue.DialogueState) string { return End }).
			SetStart("a").
			Compile()
		assert.ErrorIs(t, err, ErrGraphInvalid)
	})

	t.Run("edge to unregistered node", func(t *testing.T) {
		_, err := NewBuilder[*testRT]().AddNode("a", noop).AddEdge("a", "b").SetStart("a").Compile()
		assert.ErrorIs(t, err, ErrGraphInvalid)
	})

	t.Run("valid graph", func(t *testing.T) {
		g, err := NewBuilder[*testRT]().
			AddNode("a", noop).
			AddNode("b", noop).
			AddEdge("a", "b").
			AddEdge("b", End).
			SetStart("a").
			Compile()
		require.NoError(t, err)
		assert.Equal(t, "a", g.Start())
		assert.True(t, g.Has("b"))
		assert.False(t, g.Has("c"))
	})
}

func newRunner(t *testing.T, g *Graph[*testRT], cfg RunnerConfig) (*Runner[*testRT], checkpoint.Checkpointer) {
	store := checkpoint.NewMemoryStore()
	runner, err := NewRunner(g, store, cfg)
	require.NoError(t, err)
	return runner, store
}

func TestRunLinearGraph(t *testing.T) {
	g, err := NewBuilder[*testRT]().
		AddNode("first", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return &dialogue.Updates{TurnCount: dialogue.Ptr(st.TurnCount + 1)}, nil
		}).
		AddNode("second", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return &dialogue.Updates{LastResponse: dialogue.Ptr(rt.greeting)}, nil
		}).
		AddEdge("first", "second").
		AddEdge("second", End).
		SetStart("first").
		Compile()
	require.NoError(t, err)

	runner, store := newRunner(t, g, RunnerConfig{})
	out, err := runner.Run(context.Background(), &testRT{greeting: "hello"}, "s1", dialogue.NewState())
	require.NoError(t, err)

	assert.False(t, out.Paused)
	assert.Equal(t, 2, out.Steps)
	assert.Equal(t, 1, out.State.TurnCount)
	assert.Equal(t, "hello", out.State.LastResponse)

	// One checkpoint per transition, newest first, the last one terminal.
	chain, err := store.List(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, out.CheckpointID, chain[0].CheckpointID)
	assert.True(t, chain[0].Terminal())
	assert.Equal(t, []string{"second"}, chain[1].NextNodes)
}

func TestRunConditionalRouting(t *testing.T) {
	g, err := NewBuilder[*testRT]().
		AddNode("classify", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return nil, nil
		}).
		AddNode("busy", respond("busy")).
		AddNode("idle", respond("idle")).
		AddConditional("classify", func(st *dialogue.DialogueState) string {
			if st.TurnCount > 0 {
				return "busy"
			}
			return "idle"
		}).
		AddEdge("busy", End).
		AddEdge("idle", End).
		SetStart("classify").
		Compile()
	require.NoError(t, err)

	runner, _ := newRunner(t, g, RunnerConfig{})

	out, err := runner.Run(context.Background(), &testRT{}, "s1", dialogue.NewState())
	require.NoError(t, err)
	assert.Equal(t, "idle", out.State.LastResponse)

	st := dialogue.NewState()
	st.TurnCount = 3
	out, err = runner.Run(context.Background(), &testRT{}, "s2", st)
	require.NoError(t, err)
	assert.Equal(t, "busy", out.State.LastResponse)
}

// askGraph suspends on user input in "ask" and echoes the reply in "reply".
func askGraph(t *testing.T) *Graph[*testRT] {
	g, err := NewBuilder[*testRT]().
		AddNode("ask", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			if v, ok := Resume(ctx); ok {
				return &dialogue.Updates{UserMessage: dialogue.Ptr(v)}, nil
			}
			return nil, Suspend("What city?", &dialogue.Updates{LastResponse: dialogue.Ptr("What city?")})
		}).
		AddNode("reply", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return &dialogue.Updates{LastResponse: dialogue.Ptr("Flying to " + st.UserMessage + ".")}, nil
		}).
		AddEdge("ask", "reply").
		AddEdge("reply", End).
		SetStart("ask").
		Compile()
	require.NoError(t, err)
	return g
}

func TestInterruptAndResume(t *testing.T) {
	runner, store := newRunner(t, askGraph(t), RunnerConfig{})
	ctx := context.Background()

	out, err := runner.Run(ctx, &testRT{}, "s1", dialogue.NewState())
	require.NoError(t, err)
	assert.True(t, out.Paused)
	assert.Equal(t, "What city?", out.Prompt)
	assert.Equal(t, "What city?", out.State.LastResponse, "pre-suspension writes are applied")

	snap, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, snap.Paused())
	assert.Equal(t, []string{"ask"}, snap.NextNodes)
	assert.Equal(t, []string{"What city?"}, snap.PendingInterrupts)

	out, err = runner.ResumeRun(ctx, &testRT{}, "s1", snap, "Prague")
	require.NoError(t, err)
	assert.False(t, out.Paused)
	assert.Equal(t, "Flying to Prague.", out.State.LastResponse)
}

func TestResumeValueConsumedOnce(t *testing.T) {
	// Two suspension points in sequence: the resume value satisfies the
	// first, the second pauses again.
	suspendNode := func(prompt string) NodeFunc[*testRT] {
		return func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			if v, ok := Resume(ctx); ok {
				return &dialogue.Updates{UserMessage: dialogue.Ptr(v)}, nil
			}
			return nil, Suspend(prompt, nil)
		}
	}
	g, err := NewBuilder[*testRT]().
		AddNode("first", suspendNode("first?")).
		AddNode("second", suspendNode("second?")).
		AddEdge("first", "second").
		AddEdge("second", End).
		SetStart("first").
		Compile()
	require.NoError(t, err)

	runner, store := newRunner(t, g, RunnerConfig{})
	ctx := context.Background()

	out, err := runner.Run(ctx, &testRT{}, "s1", dialogue.NewState())
	require.NoError(t, err)
	require.Equal(t, "first?", out.Prompt)

	snap, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	out, err = runner.ResumeRun(ctx, &testRT{}, "s1", snap, "answer one")
	require.NoError(t, err)
	assert.True(t, out.Paused)
	assert.Equal(t, "second?", out.Prompt, "reply is not replayed into the next suspension")
}

func TestInterruptIdempotent(t *testing.T) {
	runner, _ := newRunner(t, askGraph(t), RunnerConfig{})
	ctx := context.Background()

	first, err := runner.Run(ctx, &testRT{}, "s1", dialogue.NewState())
	require.NoError(t, err)
	second, err := runner.Run(ctx, &testRT{}, "s2", dialogue.NewState())
	require.NoError(t, err)

	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, first.State, second.State, "identical input yields identical pre-suspension state")
}

func TestResumeRunRejectsNonPaused(t *testing.T) {
	runner, _ := newRunner(t, askGraph(t), RunnerConfig{})
	snap := &checkpoint.Snapshot{State: dialogue.NewState()}
	_, err := runner.ResumeRun(context.Background(), &testRT{}, "s1", snap, "x")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestErrorRoutesToErrorNode(t *testing.T) {
	boom := errors.New("downstream unavailable")
	g, err := NewBuilder[*testRT]().
		AddNode("work", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return nil, boom
		}).
		AddNode("handle_error", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return &dialogue.Updates{
				ConversationState: dialogue.StatePtr(dialogue.StateError),
				LastResponse:      dialogue.Ptr("Something went wrong: " + NodeError(ctx).Error()),
			}, nil
		}).
		AddEdge("work", End).
		AddEdge("handle_error", End).
		SetStart("work").
		Compile()
	require.NoError(t, err)

	runner, _ := newRunner(t, g, RunnerConfig{ErrorNode: "handle_error"})
	out, err := runner.Run(context.Background(), &testRT{}, "s1", dialogue.NewState())
	require.NoError(t, err)
	assert.Equal(t, dialogue.StateError, out.State.ConversationState)
	assert.Contains(t, out.State.LastResponse, "downstream unavailable")
}

func TestErrorWithoutErrorNode(t *testing.T) {
	boom := errors.New("no handler")
	g, err := NewBuilder[*testRT]().
		AddNode("work", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return nil, boom
		}).
		AddEdge("work", End).
		SetStart("work").
		Compile()
	require.NoError(t, err)

	runner, _ := newRunner(t, g, RunnerConfig{})
	_, err = runner.Run(context.Background(), &testRT{}, "s1", dialogue.NewState())
	assert.ErrorIs(t, err, boom)
}

func TestErrorNodeFailurePropagates(t *testing.T) {
	boom := errors.New("still broken")
	g, err := NewBuilder[*testRT]().
		AddNode("work", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return nil, errors.New("first failure")
		}).
		AddNode("handle_error", func(ctx context.Context, rt *testRT, st *dialogue.DialogueState) (*dialogue.Updates, error) {
			return nil, boom
		}).
		AddEdge("work", End).
		AddEdge("handle_error", End).
		SetStart("work").
		Compile()
	require.NoError(t, err)

	runner, _ := newRunner(t, g, RunnerConfig{ErrorNode: "handle_error"})
	_, err = runner.Run(context.Background(), &testRT{}, "s1", dialogue.NewState())
	assert.ErrorIs(t, err, boom)
}

func TestStepLimit(t *testing.T) {
	g, err := NewBuilder[*testRT]().
		AddNode("a", noop).
		AddNode("b", noop).
		AddEdge("a", "b").
		AddEdge("b", "a").
		SetStart("a").
		Compile()
	require.NoError(t, err)

	runner, _ := newRunner(t, g, RunnerConfig{MaxSteps: 7})
	_, err = runner.Run(context.Background(), &testRT{}, "s1", dialogue.NewState())
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestCancelledContextStopsRun(t *testing.T) {
	runner, store := newRunner(t, askGraph(t), RunnerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx, &testRT{}, "s1", dialogue.NewState())
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound, "nothing checkpointed for an abandoned run")
}
