// Package publish runs the publish scheduler: an in-memory min-heap of
// scheduled publish times that wakes the dispatch loop exactly when the next
// upload is due. The database stays the source of truth; the heap only
// decides when to look.
package publish

import "time"

// heapEntry is one scheduled publish in the wake-up index.
type heapEntry struct {
	publishID string
	at        time.Time
}

// publishHeap orders entries by (scheduled time, publish id). Cancellations
// are lazy: cancelled ids stay in the slice and get dropped when they
// surface at the head.
type publishHeap []heapEntry

func (h publishHeap) Len() int { return len(h) }

func (h publishHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].publishID < h[j].publishID
	}
	return h[i].at.Before(h[j].at)
}

func (h publishHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *publishHeap) Push(x any) {
	*h = append(*h, x.(heapEntry))
}

func (h *publishHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
