package auth

import (
	"net/http"
)

type AuthProvider interface {
	WithHeaderAuthorization() func(http.Handler) http.Handler

	GetActorFromRequest(r *http.Request) (Actor, error)

	// EnforceActor writes 401 and returns an error when the request carries no actor.
	EnforceActor(w http.ResponseWriter, r *http.Request) (Actor, error)

	// EnforceCanAttach additionally writes 403 when the actor may not attach images.
	EnforceCanAttach(w http.ResponseWriter, r *http.Request) (Actor, error)
}
