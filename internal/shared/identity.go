package shared

import "context"

// Actor identifies the caller of a request. Identity and authorization live
// upstream; the service only ever receives the resolved pair.
type Actor struct {
	ID          int64
	WarehouseID int64
}

// Known reports whether the actor carries a usable identity.
func (a Actor) Known() bool {
	return a.ID != 0 && a.WarehouseID != 0
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
