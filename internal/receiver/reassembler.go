package receiver

import (
	"container/heap"
)

// unit is one received content payload awaiting its turn.
type unit struct {
	index   int32
	payload []byte
}

// Reassembler restores unit order for a single transfer. Every index is
// accepted at most once; payloads that arrive ahead of the cursor wait in a
// min-heap until the gap before them is filled.
//
// It is owned by the receive loop and needs no locking.
type Reassembler struct {
	total    int32
	cursor   int32 // lowest index not yet handed out
	received *bitmap
	pending  unitHeap
}

// NewReassembler creates a reassembler for total units, expecting index 0 first.
func NewReassembler(total int32) *Reassembler {
	return &Reassembler{
		total:    total,
		received: newBitmap(int(total)),
	}
}

// Feed records a unit and returns the payloads that are now contiguous with
// everything handed out before, in index order. Duplicates and indices
// outside [0, total) return nil and change nothing.
func (r *Reassembler) Feed(index int32, payload []byte) [][]byte {
	if index < 0 || index >= r.total || r.received.get(int(index)) {
		return nil
	}
	r.received.set(int(index))
	heap.Push(&r.pending, unit{index: index, payload: payload})

	var ready [][]byte
	for r.pending.Len() > 0 && r.pending[0].index == r.cursor {
		ready = append(ready, heap.Pop(&r.pending).(unit).payload)
		r.cursor++
	}
	return ready
}

// Seen reports whether index has already been accepted.
func (r *Reassembler) Seen(index int32) bool {
	return r.received.get(int(index))
}

// Cursor returns the lowest index not yet handed out.
func (r *Reassembler) Cursor() int32 { return r.cursor }

// Pending returns how many accepted units are waiting for a gap to fill.
func (r *Reassembler) Pending() int { return r.pending.Len() }

// Received returns how many distinct units have been accepted.
func (r *Reassembler) Received() int { return r.received.count() }

// Complete reports whether every unit has been handed out.
func (r *Reassembler) Complete() bool { return r.cursor == r.total }

// ---------------------------------------------------------------------------
// unitHeap implements a min-heap sorted by index.
// ---------------------------------------------------------------------------

type unitHeap []unit

func (h unitHeap) Len() int            { return len(h) }
func (h unitHeap) Less(i, j int) bool  { return h[i].index < h[j].index }
func (h unitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *unitHeap) Push(x interface{}) { *h = append(*h, x.(unit)) }

func (h *unitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = unit{} // avoid memory leak
	*h = old[:n-1]
	return item
}
