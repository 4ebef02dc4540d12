package command

import (
	"context"

	"github.com/dialogkit/dialogkit/pkg/actions"
	"github.com/dialogkit/dialogkit/pkg/config"
	"github.com/dialogkit/dialogkit/pkg/flow"
)

// Env is the injected runtime context handlers execute against. The runtime
// orchestrator implements it; handlers stay decoupled from the orchestrator
// package.
type Env interface {
	Config() *config.Config
	Flows() *flow.Manager
	Steps() *flow.StepManager
	Scope() *flow.ScopeManager
	Validators() *actions.ValidatorRegistry
	Normalizers() *actions.NormalizerRegistry
	Actions() *actions.Dispatcher

	// Answer resolves a clarification question. Domain knowledge lives
	// outside the runtime; the default implementation declines politely.
	Answer(ctx context.Context, topic string) (string, error)
}
