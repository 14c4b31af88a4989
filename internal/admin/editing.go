package admin

import "sync"

// EditTracker records which provider each admin session is editing. A
// session edits at most one provider at a time.
type EditTracker struct {
	mu      sync.Mutex
	editing map[string]int64
}

// NewEditTracker creates an empty tracker.
func NewEditTracker() *EditTracker {
	return &EditTracker{editing: make(map[string]int64)}
}

// Begin makes pid the provider edited by session and returns the provider
// that was being edited before, or 0.
func (t *EditTracker) Begin(session string, pid int64) (closed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.editing[session]
	t.editing[session] = pid
	if prev == pid {
		return 0
	}
	return prev
}

// End stops editing pid. It reports false when session was not editing pid.
func (t *EditTracker) End(session string, pid int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.editing[session]; !ok || cur != pid {
		return false
	}
	delete(t.editing, session)
	return true
}

// Editing returns the provider edited by session, or 0.
func (t *EditTracker) Editing(session string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.editing[session]
}

// Forget ends every session editing pid, e.g. after the provider was deleted.
func (t *EditTracker) Forget(pid int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s, cur := range t.editing {
		if cur == pid {
			delete(t.editing, s)
		}
	}
}
