package ledger

import "sync"

// locker hands out one RWMutex per account and drops it once nobody holds it.
type locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sync.RWMutex
	refs int
}

func newLocker() *locker {
	return &locker{locks: make(map[string]*entry)}
}

func (l *locker) acquire(id string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[id]
	if !ok {
		e = &entry{}
		l.locks[id] = e
	}
	e.refs++

	return e
}

func (l *locker) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.locks[id]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}

// Lock serializes writers of one account. The returned func unlocks.
func (l *locker) Lock(id string) func() {
	e := l.acquire(id)
	e.Lock()

	return func() {
		e.Unlock()
		l.release(id)
	}
}

func (l *locker) RLock(id string) func() {
	e := l.acquire(id)
	e.RLock()

	return func() {
		e.RUnlock()
		l.release(id)
	}
}
