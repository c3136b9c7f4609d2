package auth

import (
	"context"

	"github.com/debemdeboas/forum-attachments/internal/model"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

// ContextKeyActor is the key for the authenticated actor in request context
const ContextKeyActor ContextKey = "actor"

// Actor is the identity asserted by the upstream gateway. CanAttach is the
// platform permission to attach and manage images, resolved upstream.
type Actor struct {
	ID        model.UserID
	CanAttach bool
}

// ContextWithActor returns a new context with the actor set
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// ActorFromContext extracts the actor from context
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(Actor)
	return actor, ok
}
