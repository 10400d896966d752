package supervisor

import (
	"context"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
)

// BaseSupervisor defines the interface every capability supervisor
// implements (spec §4.5).
type BaseSupervisor interface {
	// Lifecycle
	Start(ctx context.Context) error
	Stop() error

	// Job submission (non-blocking)
	Submit(job *foundation.Job) (<-chan *foundation.Result, error)
	SubmitBatch(ctx context.Context, jobs []*foundation.Job) ([]*foundation.Result, error)

	// Execution (overridden by capability-specific supervisors)
	ExecuteJob(job *foundation.Job) *foundation.Result

	// Delegation to a capability-matched peer (spec §10)
	Coordinate(ctx context.Context, job *foundation.Job) (*foundation.Result, error)

	// Health & observability
	Health() *foundation.HealthStatus
	Metrics() *foundation.SupervisorMetrics
	Anomalies() []string

	// Capabilities
	Capabilities() []string
	SupportsOperation(op string) bool
}
