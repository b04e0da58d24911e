package domain

import (
	"context"
	"time"
)

// RunnerPort runs the pipeline loops until the context ends
type RunnerPort interface {
	Run(ctx context.Context) error
}

// ControlPort is the operator surface behind the local API
type ControlPort interface {
	// Enable resumes spraying from paused. Rejected while in fail-safe
	Enable(ctx context.Context) error
	// Disable pauses spraying and closes every nozzle
	Disable(ctx context.Context) error
	// ResetFailsafe clears latched faults and returns to running
	ResetFailsafe(ctx context.Context) error
	// Pulse opens one nozzle for the given duration, then closes it.
	// Only honored while paused
	Pulse(ctx context.Context, nozzle int, open time.Duration) error
	// Status snapshots the pipeline for the control plane
	Status(ctx context.Context) Status
}
