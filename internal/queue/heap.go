package queue

import "github.com/auditengine/siteauditor/internal/types"

// itemHeap is a container/heap.Interface over pending work items, ordered
// by priority descending, then by insertion sequence ascending (FIFO
// tiebreak within a priority tier).
type itemHeap []*types.WorkItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq() < h[j].Seq()
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*types.WorkItem))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
