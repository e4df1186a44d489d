package notifier

import (
	"sync"
	"time"

	"pivotflow/internal/model"
)

// Queue buffers pending requests until the dispatcher lets them through.
// It is unbounded; only delivery is rate limited.
type Queue struct {
	mu    sync.Mutex
	items []model.PendingRequest
}

func (q *Queue) Enqueue(r model.PendingRequest) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

func (q *Queue) EnqueueMany(rs []model.PendingRequest) {
	if len(rs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, rs...)
	q.mu.Unlock()
}

// DequeueIfDue pops the head if the queue is non-empty and at least interval
// has passed since last.
func (q *Queue) DequeueIfDue(now, last time.Time, interval time.Duration) (model.PendingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || now.Sub(last) < interval {
		return model.PendingRequest{}, false
	}
	head := q.items[0]
	q.items[0] = model.PendingRequest{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return head, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
