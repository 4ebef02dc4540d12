// Package runtime assembles the dialogue engine: it implements the command
// environment over the flow, action, and understanding layers, compiles the
// message-processing graph, and drives it per session with checkpointing.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/dialogkit/dialogkit/pkg/actions"
	"github.com/dialogkit/dialogkit/pkg/command"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/flow"
	"github.com/dialogkit/dialogkit/pkg/nlu"
	"github.com/dialogkit/dialogkit/pkg/patterns"
)

var (
	// ErrSessionBusy indicates a second concurrent message on a session
	// already processing one. The caller retries.
	ErrSessionBusy = errors.New("session busy")

	// ErrStateTooLarge indicates the state document stayed over the size
	// budget even after pruning. Fatal; the last snapshot is retained.
	ErrStateTooLarge = errors.New("state document too large")
)

// AnswerFunc supplies clarification answers; domain knowledge lives outside
// the engine.
type AnswerFunc func(ctx context.Context, topic string) (string, error)

func defaultAnswer(_ context.Context, topic string) (string, error) {
	if topic == "" {
		return "Good question. I don't have more detail on that, I'm afraid.", nil
	}
	return fmt.Sprintf("Good question. I don't have more detail on %s, I'm afraid.", topic), nil
}

// Options configures New. Config and Adapter are required; nil registries
// default to empty ones and a nil Answer to a canned reply.
type Options struct {
	Config        *config.Config
	Adapter       nlu.Adapter
	Actions       *actions.Registry
	Validators    *actions.ValidatorRegistry
	Normalizers   *actions.NormalizerRegistry
	Answer        AnswerFunc
	HistoryWindow int
}

// Runtime is the per-process dependency bundle handed to every graph node.
// It implements command.Env. Immutable after New; safe to share across
// sessions.
type Runtime struct {
	cfg         *config.Config
	flows       *flow.Manager
	steps       *flow.StepManager
	scope       *flow.ScopeManager
	validators  *actions.ValidatorRegistry
	normalizers *actions.NormalizerRegistry
	dispatcher  *actions.Dispatcher
	registry    *command.Registry
	executor    *command.Executor
	triggers    *patterns.Triggers
	adapter     nlu.Adapter
	contexts    *nlu.ContextBuilder
	answer      AnswerFunc
}

// New wires the runtime from its configuration and registries. Flow
// definitions referencing unregistered actions, validators, or normalizers
// fail here, at startup, not mid-conversation.
func New(opts Options) (*Runtime, error) {
	if opts.Config == nil {
		return nil, errors.New("runtime: Config is required")
	}
	if opts.Adapter == nil {
		return nil, errors.New("runtime: NLU Adapter is required")
	}

	actionReg := opts.Actions
	if actionReg == nil {
		actionReg = actions.NewRegistry()
	}
	validators := opts.Validators
	if validators == nil {
		validators = actions.NewValidatorRegistry()
	}
	normalizers := opts.Normalizers
	if normalizers == nil {
		normalizers = actions.NewNormalizerRegistry()
	}
	answer := opts.Answer
	if answer == nil {
		answer = defaultAnswer
	}

	if err := opts.Config.ResolveReferences(actionReg, validators, normalizers); err != nil {
		return nil, err
	}
	actionReg.Freeze()
	validators.Freeze()
	normalizers.Freeze()

	registry := command.NewRegistry()
	command.RegisterCoreHandlers(registry)
	patterns.Register(registry, opts.Config.Runtime)
	registry.Freeze()

	scope := flow.NewScopeManager(opts.Config.Flows)
	rt := &Runtime{
		cfg:         opts.Config,
		flows:       flow.NewManager(opts.Config),
		steps:       flow.NewStepManager(opts.Config.Flows, nil),
		scope:       scope,
		validators:  validators,
		normalizers: normalizers,
		dispatcher:  actions.NewDispatcher(actionReg, opts.Config.Runtime.Session.ActionTimeout()),
		registry:    registry,
		executor:    command.NewExecutor(registry),
		triggers:    patterns.NewTriggers(opts.Config.Runtime.Patterns.HumanHandoff, flow.DefaultEvaluator{}),
		adapter:     opts.Adapter,
		contexts:    nlu.NewContextBuilder(scope, opts.HistoryWindow),
		answer:      answer,
	}
	return rt, nil
}

func (r *Runtime) Config() *config.Config { return r.cfg }

func (r *Runtime) Flows() *flow.Manager { return r.flows }

func (r *Runtime) Steps() *flow.StepManager { return r.steps }

func (r *Runtime) Scope() *flow.ScopeManager { return r.scope }

func (r *Runtime) Validators() *actions.ValidatorRegistry { return r.validators }

func (r *Runtime) Normalizers() *actions.NormalizerRegistry { return r.normalizers }

func (r *Runtime) Actions() *actions.Dispatcher { return r.dispatcher }

// Answer delegates clarification questions to the injected answer adapter.
func (r *Runtime) Answer(ctx context.Context, topic string) (string, error) {
	return r.answer(ctx, topic)
}
