package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Dispatcher executes registered actions with input-shape validation and a
// per-action deadline. Timeout and unavailable failures are retried once
// before escalating.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Execute runs the named action with the given inputs and returns its
// declared outputs. All failures are classified ActionErrors.
func (d *Dispatcher) Execute(ctx context.Context, name string, inputs map[string]any) (map[string]any, error) {
	action, err := d.registry.Get(name)
	if err != nil {
		return nil, err
	}

	for _, required := range action.Inputs {
		if _, ok := inputs[required]; !ok {
			return nil, NewActionError(name, KindBadInputs,
				fmt.Errorf("missing input %q", required))
		}
	}

	outputs, err := d.invoke(ctx, action, inputs)
	if err != nil {
		kind := KindOf(err)
		if kind == KindTimeout || kind == KindUnavailable {
			slog.Warn("Action failed transiently, retrying once",
				"action", name, "kind", kind, "error", err)
			outputs, err = d.invoke(ctx, action, inputs)
		}
	}
	if err != nil {
		return nil, err
	}

	// Restrict the result to the declared output shape.
	if len(action.Outputs) > 0 {
		declared := make(map[string]any, len(action.Outputs))
		for _, key := range action.Outputs {
			if v, ok := outputs[key]; ok {
				declared[key] = v
			}
		}
		outputs = declared
	}
	return outputs, nil
}

// invoke runs the handler on its own goroutine so a stuck action cannot
// block the session past its deadline.
func (d *Dispatcher) invoke(ctx context.Context, action *Action, inputs map[string]any) (map[string]any, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if d.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	type result struct {
		outputs map[string]any
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outputs, err := action.Handler(runCtx, inputs)
		done <- result{outputs, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, classify(action.Name, res.err)
		}
		return res.outputs, nil
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, NewActionError(action.Name, KindTimeout, runCtx.Err())
		}
		return nil, NewActionError(action.Name, KindInternal, runCtx.Err())
	}
}

func classify(name string, err error) error {
	var ae *ActionError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, ErrUnavailable) {
		return NewActionError(name, KindUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewActionError(name, KindTimeout, err)
	}
	return NewActionError(name, KindInternal, err)
}
