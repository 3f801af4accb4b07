package proctor

import "sync"

// priorityLock is a mutex whose urgent waiters are admitted before ordinary
// ones. The holder is never interrupted; urgency only reorders the queue.
type priorityLock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	held   bool
	urgent int
}

func newPriorityLock() *priorityLock {
	l := &priorityLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *priorityLock) Lock(urgent bool) {
	l.mu.Lock()
	if urgent {
		l.urgent++
	}
	for l.held || (!urgent && l.urgent > 0) {
		l.cond.Wait()
	}
	if urgent {
		l.urgent--
	}
	l.held = true
	l.mu.Unlock()
}

func (l *priorityLock) Unlock() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	l.cond.Broadcast()
}

// TryLock takes the lock only when it is free and no urgent waiter is queued.
func (l *priorityLock) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held || l.urgent > 0 {
		return false
	}
	l.held = true
	return true
}
