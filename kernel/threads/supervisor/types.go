package supervisor

// Shared types and constants for the supervisor package.

// MessagePriority orders work inside a single supervisor's job queue; it is
// not a wire-protocol concept since delegation is in-process (spec §10).
type MessagePriority uint8

const (
	PriorityCritical   MessagePriority = 0 // System health, OOM
	PriorityHigh       MessagePriority = 1 // Job requests, responses
	PriorityNormal     MessagePriority = 2 // Pattern sharing, coordination
	PriorityLow        MessagePriority = 3 // Statistics, monitoring
	PriorityBackground MessagePriority = 4 // Garbage collection, cleanup
)
