package scheduler

import (
	"container/heap"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

type entry struct {
	article  tracker.Article
	index    int // position in dueQueue, -1 when not queued
	inFlight bool
}

// dueQueue is a min-heap on (NextDue, ID).
type dueQueue []*entry

var _ heap.Interface = (*dueQueue)(nil)

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	a, b := q[i].article, q[j].article
	if !a.NextDue.Equal(b.NextDue) {
		return a.NextDue.Before(b.NextDue)
	}
	return a.ID < b.ID
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (q *dueQueue) enqueue(e *entry) {
	if e.index >= 0 {
		heap.Fix(q, e.index)
		return
	}
	heap.Push(q, e)
}

func (q *dueQueue) remove(e *entry) {
	if e.index >= 0 {
		heap.Remove(q, e.index)
	}
}
