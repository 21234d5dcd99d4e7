// Package stage defines the contract between the workflow manager and the
// per-job-type handlers that implement each pipeline step.
package stage

import (
	"context"

	"birdwatcher/internal/store"
)

// Handler executes one job type. Execute returning nil marks the job
// completed; any error marks it failed with a user-facing message.
type Handler interface {
	Execute(ctx context.Context, job *store.Job) error
	HealthCheck(ctx context.Context) Health
}

// Func adapts a function into a Handler that always reports healthy.
type Func struct {
	Name string
	Fn   func(ctx context.Context, job *store.Job) error
}

// Execute implements Handler.
func (f Func) Execute(ctx context.Context, job *store.Job) error {
	return f.Fn(ctx, job)
}

// HealthCheck implements Handler.
func (f Func) HealthCheck(context.Context) Health {
	return Healthy(f.Name)
}
