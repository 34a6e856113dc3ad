package auth

import "context"

// Actor identifies who is performing an operation, for audit attribution.
// The zero value means an unattributed system action (scheduler tick, worker).
type Actor struct {
	ParentID  int64
	IP        string
	UserAgent string
}

type contextKey string

const contextKeyActor contextKey = "actor"

// WithActor attaches the acting parent to the context
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKeyActor, actor)
}

// ActorFromContext extracts the acting parent from the context
func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(contextKeyActor).(Actor); ok {
		return actor
	}
	return Actor{}
}

// System reports whether the actor is the service itself rather than a parent.
func (a Actor) System() bool {
	return a.ParentID == 0
}
