package sharing

import "sync"

// postLocks serializes mutations per post id.
type postLocks struct {
	mu      sync.Mutex
	entries map[string]*postLock
}

type postLock struct {
	mu   sync.Mutex
	refs int
}

func newPostLocks() *postLocks {
	return &postLocks{entries: make(map[string]*postLock)}
}

// lock blocks until postID is free and returns the matching unlock function.
func (l *postLocks) lock(postID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[postID]
	if !ok {
		entry = &postLock{}
		l.entries[postID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, postID)
		}
		l.mu.Unlock()
	}
}
