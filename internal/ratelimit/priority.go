package ratelimit

import "context"

// Priority selects the budget pool a call draws from.
type Priority int

const (
	// PriorityBackground is for scheduled jobs such as snapshots and perps sync.
	PriorityBackground Priority = iota
	// PriorityInteractive is for calls an agent is waiting on, such as trade quotes.
	PriorityInteractive
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityInteractive:
		return "interactive"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority returns a context whose provider calls use priority p.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the priority set by WithPriority, or PriorityBackground.
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityBackground
}
