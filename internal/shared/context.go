package shared

import "context"

// Actor is the upstream-authenticated caller of a request.
type Actor struct {
	UserID int64
	Team   string
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.UserID <= 0 {
		return Actor{}, false
	}
	return actor, true
}
