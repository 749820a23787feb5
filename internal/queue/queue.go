// Package queue implements the priority job queue. Jobs are ordered by
// priority band (critical first) and FIFO within a band. Retried jobs
// can be reinserted at the front of their band.
//
// The queue is not safe for concurrent use: it is owned by the
// pipeline's control loop, which is the only goroutine that touches it.
package queue

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/seantiz/docpipe/internal/model"
)

// ErrDuplicateJob is returned when a job ID is already queued.
var ErrDuplicateJob = errors.New("job already queued")

// item wraps a queued job with its heap bookkeeping.
type item struct {
	job *model.Job
	// seq breaks ties inside a priority band. Normal inserts take
	// increasing positive values, front inserts decreasing negative
	// ones, so front inserts sort before everything queued so far.
	seq   int64
	index int
}

// jobHeap orders items by (priority rank, seq). It implements heap.Interface.
type jobHeap []*item

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	ri, rj := h[i].job.Priority.Rank(), h[j].job.Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a priority queue of pending jobs with O(log n) insert and
// pop and O(1) membership checks by job ID.
type Queue struct {
	heap     jobHeap
	byID     map[string]*item
	tailSeq  int64
	frontSeq int64
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{byID: make(map[string]*item)}
}

// Push inserts a job behind all jobs of the same priority.
func (q *Queue) Push(j *model.Job) error {
	q.tailSeq++
	return q.insert(j, q.tailSeq)
}

// PushFront inserts a job ahead of all jobs of the same priority.
// The retry path uses this so a retried job does not wait behind
// work that arrived while it was processing.
func (q *Queue) PushFront(j *model.Job) error {
	q.frontSeq--
	return q.insert(j, q.frontSeq)
}

func (q *Queue) insert(j *model.Job, seq int64) error {
	if j == nil {
		return errors.New("nil job")
	}
	if j.ID == "" {
		return errors.New("job has no ID")
	}
	if _, ok := q.byID[j.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, j.ID)
	}
	it := &item{job: j, seq: seq}
	heap.Push(&q.heap, it)
	q.byID[j.ID] = it
	return nil
}

// Pop removes and returns the most urgent job, or nil when empty.
func (q *Queue) Pop() *model.Job {
	if len(q.heap) == 0 {
		return nil
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.byID, it.job.ID)
	return it.job
}

// Peek returns the most urgent job without removing it, or nil when empty.
func (q *Queue) Peek() *model.Job {
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0].job
}

// Remove deletes the job with the given ID, reporting whether it was queued.
func (q *Queue) Remove(id string) bool {
	it, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.byID, id)
	return true
}

// Contains reports whether a job with the given ID is queued.
func (q *Queue) Contains(id string) bool {
	_, ok := q.byID[id]
	return ok
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.heap)
}
