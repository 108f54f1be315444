package queue

import (
	"container/heap"
	"time"

	"github.com/resumeforge/aiqueue/pkg/types"
)

type outcome struct {
	resp *types.Response
	err  error
}

type pendingItem struct {
	req         *types.Request
	fingerprint string
	seq         uint64
	enqueuedAt  time.Time
	attempts    int
	done        chan outcome
}

// pendingHeap orders waiting requests by priority weight, then by
// submission order within a priority level.
type pendingHeap []*pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	wi, wj := h[i].req.Priority.Weight(), h[j].req.Priority.Weight()
	if wi != wj {
		return wi > wj
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x interface{}) {
	*h = append(*h, x.(*pendingItem))
}

func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*pendingHeap)(nil)
