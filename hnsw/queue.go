package hnsw

import "container/heap"

// queueItem pairs a node id with its distance to the current query.
type queueItem struct {
	id   uint32
	dist float32
}

// itemHeap is a binary heap over queueItems. With max set it behaves as a
// max-heap (furthest on top), otherwise as a min-heap (nearest on top).
type itemHeap struct {
	items []queueItem
	max   bool
}

var _ heap.Interface = (*itemHeap)(nil)

func (h *itemHeap) Len() int { return len(h.items) }

func (h *itemHeap) Less(i, j int) bool {
	if h.max {
		return h.items[i].dist > h.items[j].dist
	}
	return h.items[i].dist < h.items[j].dist
}

func (h *itemHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *itemHeap) Push(x any) { h.items = append(h.items, x.(queueItem)) }

func (h *itemHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}

func (h *itemHeap) top() queueItem { return h.items[0] }
