package chat

import (
	"sync"

	"github.com/BTreeMap/Kiko/internal/models"
)

// identityLocks serializes turns per identity. Entries are dropped once no
// goroutine holds or waits on them.
type identityLocks struct {
	mu    sync.Mutex
	locks map[models.Identity]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{locks: make(map[models.Identity]*refLock)}
}

// lock acquires the lock for id and returns its release func.
func (l *identityLocks) lock(id models.Identity) func() {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &refLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *identityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
