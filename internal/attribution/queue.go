package attribution

import (
	"context"
	"sync"
)

// SliceQueue is an in-memory CandidateQueue over a fixed candidate list. It keeps every
// acknowledged result.
type SliceQueue struct {
	mu         sync.Mutex
	candidates []Candidate
	next       int
	results    []Result
}

func NewSliceQueue(candidates []Candidate) *SliceQueue {
	return &SliceQueue{candidates: candidates}
}

func (q *SliceQueue) Next(_ context.Context, limit int) ([]Candidate, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	end := min(q.next+limit, len(q.candidates))
	batch := q.candidates[q.next:end]
	q.next = end
	return batch, nil
}

func (q *SliceQueue) Ack(_ context.Context, results []Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, results...)
	return nil
}

// Results returns the acknowledged results in evaluation order.
func (q *SliceQueue) Results() []Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Result(nil), q.results...)
}
