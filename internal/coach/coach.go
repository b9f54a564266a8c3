package coach

import "context"

// Coach turns a finalized transcript line into a short piece of live sales
// coaching. Implementations must be safe for concurrent calls.
type Coach interface {
	Feedback(ctx context.Context, transcript string) (string, error)
}

// Nop never produces feedback. Used when no coaching backend is configured.
type Nop struct{}

func (Nop) Feedback(context.Context, string) (string, error) { return "", nil }
