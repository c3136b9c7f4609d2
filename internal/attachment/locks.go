package attachment

import (
	"sync"

	"github.com/debemdeboas/forum-attachments/internal/model"
)

// draftLocks serializes state-changing calls per draft token. Entries are
// dropped once nobody holds or waits on them.
type draftLocks struct {
	mu    sync.Mutex
	locks map[model.DraftToken]*draftLock
}

type draftLock struct {
	sync.Mutex
	refs int
}

func newDraftLocks() *draftLocks {
	return &draftLocks{locks: make(map[model.DraftToken]*draftLock)}
}

func (l *draftLocks) lock(token model.DraftToken) (unlock func()) {
	l.mu.Lock()
	dl, ok := l.locks[token]
	if !ok {
		dl = &draftLock{}
		l.locks[token] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.Lock()
	return func() {
		dl.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, token)
		}
		l.mu.Unlock()
	}
}

func (l *draftLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
