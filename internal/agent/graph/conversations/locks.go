package conversations

import "sync"

// threadLocks hands out one mutex per thread id and forgets it once no turn
// holds or waits on it.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*threadLock)}
}

func (l *threadLocks) lock(threadID string) func() {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			tl.mu.Unlock()
			l.mu.Lock()
			tl.refs--
			if tl.refs == 0 {
				delete(l.locks, threadID)
			}
			l.mu.Unlock()
		})
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
