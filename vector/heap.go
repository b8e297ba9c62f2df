package vector

import "container/heap"

// candidate is a scored graph node during search. Lower dist is better;
// seq breaks ties so result order never depends on map iteration.
type candidate struct {
	seq  uint32
	dist float32
}

func candidateLess(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.seq < b.seq
}

// minHeap pops the closest candidate first (the expansion frontier).
type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return candidateLess(h[i], h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// maxHeap pops the farthest candidate first (the bounded result set).
type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return candidateLess(h[j], h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

func pushMin(h *minHeap, c candidate) { heap.Push(h, c) }

func popMin(h *minHeap) candidate { return heap.Pop(h).(candidate) }

func pushMax(h *maxHeap, c candidate) { heap.Push(h, c) }

func popMax(h *maxHeap) candidate { return heap.Pop(h).(candidate) }
