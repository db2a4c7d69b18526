package shared

import "context"

type actorContextKey struct{}

// Actor identifies the verified caller of a request for audit purposes.
type Actor struct {
	AccountID string
	Email     string
}

// ContextWithActor stores the verified actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
