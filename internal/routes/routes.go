// Package routes defines HTTP route constants for the application.
package routes

// API Routes
const (
	// Drafts
	APIDrafts        = "/api/drafts"
	APIDraft         = "/api/drafts/{token}"
	APIDraftImages   = "/api/drafts/{token}/images"
	APIDraftFinalize = "/api/drafts/{token}/finalize"
	APIDraftCommit   = "/api/drafts/{token}/commit"

	// Posts
	APIPosts = "/api/posts"
	APIPost  = "/api/posts/{id}"

	// SSE
	SSEPath = "/sse"

	// Objects served by the local storage backend
	MediaPath = "/media/"

	HealthPath = "/healthz"
)

// Path parameters
const (
	ParamToken = "token"
	ParamID    = "id"
)
