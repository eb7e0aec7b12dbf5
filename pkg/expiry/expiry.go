// Package expiry tracks when time limited events become eligible for
// removal. The index is ordered by expiry time, not by event index, so a
// sweep only touches entries that are due.
package expiry

import (
	"container/heap"
	"slices"

	"github.com/liangmulu/open-chat/pkg/models"
)

// Range is a closed interval of event indexes.
type Range struct {
	From models.EventIndex `json:"from"`
	To   models.EventIndex `json:"to"`
}

// Len returns the number of indexes in r.
func (r Range) Len() int { return int(r.To-r.From) + 1 }

// Contains reports whether i lies in r.
func (r Range) Contains(i models.EventIndex) bool { return i >= r.From && i <= r.To }

type entry struct {
	at    models.TimestampMillis
	index models.EventIndex
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].index < h[j].index
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// Index orders (expires_at, index) pairs. Removal is lazy: the heap may
// hold entries that no longer match the live set and these are skipped
// when they surface. Not safe for concurrent use.
type Index struct {
	h    entryHeap
	live map[models.EventIndex]models.TimestampMillis
}

func New() *Index {
	return &Index{live: make(map[models.EventIndex]models.TimestampMillis)}
}

// Register records that index expires at at. Registering an index again
// replaces its expiry.
func (x *Index) Register(index models.EventIndex, at models.TimestampMillis) {
	if prev, ok := x.live[index]; ok && prev == at {
		return
	}
	x.live[index] = at
	heap.Push(&x.h, entry{at: at, index: index})
}

// Remove forgets index. It reports whether the index was registered.
func (x *Index) Remove(index models.EventIndex) bool {
	if _, ok := x.live[index]; !ok {
		return false
	}
	delete(x.live, index)
	if len(x.h) > 2*len(x.live)+64 {
		x.compact()
	}
	return true
}

// Len returns the number of registered indexes.
func (x *Index) Len() int { return len(x.live) }

// ExpiresAt returns the registered expiry of index.
func (x *Index) ExpiresAt(index models.EventIndex) (models.TimestampMillis, bool) {
	at, ok := x.live[index]
	return at, ok
}

// NextExpiry returns the earliest registered expiry.
func (x *Index) NextExpiry() (models.TimestampMillis, bool) {
	x.dropStale()
	if len(x.h) == 0 {
		return 0, false
	}
	return x.h[0].at, true
}

// TakeExpired removes every index whose expiry is at or before now and
// returns them as sorted, coalesced ranges.
func (x *Index) TakeExpired(now models.TimestampMillis) []Range {
	var due []models.EventIndex
	for {
		x.dropStale()
		if len(x.h) == 0 || x.h[0].at > now {
			break
		}
		e := heap.Pop(&x.h).(entry)
		delete(x.live, e.index)
		due = append(due, e.index)
	}
	return Coalesce(due)
}

func (x *Index) dropStale() {
	for len(x.h) > 0 {
		top := x.h[0]
		if at, ok := x.live[top.index]; ok && at == top.at {
			return
		}
		heap.Pop(&x.h)
	}
}

func (x *Index) compact() {
	h := make(entryHeap, 0, len(x.live))
	for i, at := range x.live {
		h = append(h, entry{at: at, index: i})
	}
	heap.Init(&h)
	x.h = h
}

// Coalesce merges indexes into sorted ranges of consecutive values.
// Duplicates are ignored and the input is not modified.
func Coalesce(indexes []models.EventIndex) []Range {
	if len(indexes) == 0 {
		return nil
	}
	sorted := slices.Clone(indexes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	out := []Range{{From: sorted[0], To: sorted[0]}}
	for _, i := range sorted[1:] {
		last := &out[len(out)-1]
		if i == last.To+1 {
			last.To = i
			continue
		}
		out = append(out, Range{From: i, To: i})
	}
	return out
}

// Merge adds r to ranges, which must be sorted and disjoint, joining
// neighbours that touch or overlap.
func Merge(ranges []Range, r Range) []Range {
	i, _ := slices.BinarySearchFunc(ranges, r.From, func(a Range, from models.EventIndex) int {
		switch {
		case a.To+1 < from:
			return -1
		case a.From > from:
			return 1
		}
		return 0
	})
	out := append(slices.Clone(ranges[:i]), r)
	for _, next := range ranges[i:] {
		last := &out[len(out)-1]
		if next.From <= last.To+1 {
			if next.From < last.From {
				last.From = next.From
			}
			if next.To > last.To {
				last.To = next.To
			}
			continue
		}
		out = append(out, next)
	}
	return out
}
