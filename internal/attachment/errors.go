package attachment

import "errors"

// Error kinds returned by Service. Callers match them with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrExpired              = errors.New("draft expired")
	ErrIncompleteAttachment = errors.New("incomplete attachment")
	ErrUnresolvedTarget     = errors.New("unresolved commit target")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrConflict             = errors.New("concurrent modification")
)
