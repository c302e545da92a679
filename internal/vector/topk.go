package vector

import "container/heap"

// scored is a candidate hit during a scan.
type scored struct {
	id    string
	score float64
	seq   uint64
}

// worse reports whether a ranks below b: lower score, or later insertion on
// equal score.
func (a scored) worse(b scored) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.seq > b.seq
}

// topK keeps the k best candidates seen so far in a min-heap keyed by rank,
// so a full O(n log n) sort of every candidate is avoided.
type topK struct {
	k     int
	items minHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make(minHeap, 0, k)}
}

// offer considers a candidate, evicting the current worst when full.
func (t *topK) offer(s scored) {
	if len(t.items) < t.k {
		heap.Push(&t.items, s)
		return
	}
	if t.items[0].worse(s) {
		t.items[0] = s
		heap.Fix(&t.items, 0)
	}
}

// results drains the heap best-first. The heap is consumed.
func (t *topK) results() []Result {
	if len(t.items) == 0 {
		return nil
	}
	out := make([]Result, len(t.items))
	for i := len(t.items) - 1; i >= 0; i-- {
		s := heap.Pop(&t.items).(scored)
		out[i] = Result{ID: s.id, Score: s.score}
	}
	return out
}

type minHeap []scored

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].worse(h[j]) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
