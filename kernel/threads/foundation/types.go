package foundation

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Priority levels a job may be submitted with.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Status is the outcome discriminant carried by a Result (spec §6 "Results
// mirror this with {job_id, status ∈ {success, failed}, ...}").
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
)

// Job is the wire record described in spec §6: {job_id, library, method,
// input, params}. The core never parses Params — it is opaque bytes the
// handling capability understands, carried here as a structpb.Struct so the
// module can round-trip it without depending on its schema.
type Job struct {
	ID       string
	Library  string
	Method   string
	Input    []byte
	Params   *structpb.Struct

	// Scheduling metadata; carried in the wire record (priority,
	// deadline_ns, source) alongside the fields above.
	Priority Priority
	Deadline time.Time
	Source   string

	// Set by the supervisor on submission; never part of the wire record.
	ResultChan  chan *Result
	SubmittedAt time.Time
}

// Operation is the capability-dispatch key a supervisor matches against its
// capability set — derived as "<library>.<method>".
func (j *Job) Operation() string {
	return j.Library + "." + j.Method
}

// Result mirrors Job on the wire: {job_id, status, output, error_message,
// execution_time_ns}.
type Result struct {
	JobID           string
	Status          Status
	Output          []byte
	ErrorMessage    string
	ExecutionTimeNs uint64
	CompletedAt     time.Time
}

// Success reports whether Status is StatusSuccess.
func (r *Result) Success() bool { return r.Status == StatusSuccess }

// FailedResult builds a Result with Status=StatusFailed and the given
// message, stamping CompletedAt.
func FailedResult(jobID, message string) *Result {
	return &Result{JobID: jobID, Status: StatusFailed, ErrorMessage: message, CompletedAt: time.Now()}
}

// HealthStatus is the snapshot produced by a supervisor's monitor/health
// loops (spec §4.5).
type HealthStatus struct {
	Healthy       bool
	Issues        []string
	LastCheck     time.Time
	JobsProcessed uint64
	ErrorRate     float64
}

// SupervisorMetrics is the snapshot returned by Supervisor.Metrics().
type SupervisorMetrics struct {
	JobsSubmitted  uint64
	JobsCompleted  uint64
	JobsFailed     uint64
	AverageLatency time.Duration
	QueueDepth     int
}

// Pattern is the unit exchanged through the Pattern Exchange region — an
// opaque aggregate a learning collaborator contributes; the core only
// transports it.
type Pattern struct {
	ID         string
	Confidence float64
	Payload    []byte
}

// MeshDelegator forwards a job to a peer supervisor. It is an external
// collaborator per spec §4.5 "coordinate delegates to an external mesh
// delegator (out of scope)" — the core only defines the seam.
type MeshDelegator interface {
	DelegateJob(job *Job) (*Result, error)
}
