package config

const (
	HCType        = "Content-Type"
	HCacheControl = "Cache-Control"

	CTypeJSON = "application/json"
)

const (
	HTTPErrMethodNotAllowed = "Method not allowed"
)

// Form fields accepted by the draft endpoints.
const (
	FormImage        = "image"
	FormContent      = "content"
	FormAllowPartial = "allow_partial"
	FormPostID       = "post_id"
	FormScopeHint    = "scope_hint"
	FormTitle        = "title"
	FormKind         = "kind"
	FormParentID     = "parent_id"
)

const (
	// Hash of the content the client edited, for optimistic updates.
	FormContentHash = "content_hash"
)
