package proctor

import (
	"container/heap"
	"sync"
	"time"
)

type deadlineEntry struct {
	sessionID string
	deadline  time.Time
	index     int
}

type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	e := x.(*deadlineEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// DeadlineController tracks pending deadlines ordered by time. It only says
// which sessions are due; the Manager performs the expiry.
type DeadlineController struct {
	mu      sync.Mutex
	heap    deadlineHeap
	entries map[string]*deadlineEntry
}

// NewDeadlineController creates an empty controller.
func NewDeadlineController() *DeadlineController {
	return &DeadlineController{entries: make(map[string]*deadlineEntry)}
}

// Schedule sets the deadline of sessionID, replacing any earlier one.
func (d *DeadlineController) Schedule(sessionID string, deadline time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[sessionID]; ok {
		e.deadline = deadline
		heap.Fix(&d.heap, e.index)
		return
	}
	e := &deadlineEntry{sessionID: sessionID, deadline: deadline}
	heap.Push(&d.heap, e)
	d.entries[sessionID] = e
}

// Cancel forgets sessionID.
func (d *DeadlineController) Cancel(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[sessionID]
	if !ok {
		return
	}
	heap.Remove(&d.heap, e.index)
	delete(d.entries, sessionID)
}

// Due removes and returns every session whose deadline is at or before now,
// earliest first.
func (d *DeadlineController) Due(now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var due []string
	for d.heap.Len() > 0 && !d.heap[0].deadline.After(now) {
		e := heap.Pop(&d.heap).(*deadlineEntry)
		delete(d.entries, e.sessionID)
		due = append(due, e.sessionID)
	}
	return due
}

// Next returns the earliest pending deadline.
func (d *DeadlineController) Next() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.heap.Len() == 0 {
		return time.Time{}, false
	}
	return d.heap[0].deadline, true
}

// Len returns the number of pending deadlines.
func (d *DeadlineController) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heap.Len()
}
