// Package refindex answers whether a storage key is still referenced by
// persisted content. It is the only gate in front of destructive deletes.
package refindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Corpus searches persisted, non-draft content. pattern is a LIKE pattern
// using '\' as the escape character.
type Corpus interface {
	Contains(ctx context.Context, scope, pattern string) (bool, error)
}

var indexLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	indexLogger = l
}

type Index struct {
	corpus Corpus
	scopes []string
}

// New returns an index over the given corpus scopes. With no scopes the
// whole corpus ("posts") is searched.
func New(corpus Corpus, scopes ...string) *Index {
	if len(scopes) == 0 {
		scopes = []string{"posts"}
	}
	return &Index{corpus: corpus, scopes: scopes}
}

// IsReferenced reports whether any scope contains key. When the corpus
// cannot answer, it returns true along with the error so callers that only
// look at the boolean never delete.
func (i *Index) IsReferenced(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	pattern := "%" + EscapeLike(key) + "%"
	for _, scope := range i.scopes {
		found, err := i.corpus.Contains(ctx, scope, pattern)
		if err != nil {
			indexLogger.Warn().Err(err).Str("key", key).Str("scope", scope).Msg("Reference lookup failed, treating key as referenced")
			return true, fmt.Errorf("reference lookup in %s: %w", scope, err)
		}
		if found {
			indexLogger.Debug().Str("key", key).Str("scope", scope).Msg("Key is referenced")
			return true, nil
		}
	}
	return false, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes s for use inside a LIKE pattern with ESCAPE '\'.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
