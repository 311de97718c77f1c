package circulation

import (
	"sort"

	"github.com/google/uuid"
)

// RequestQueue is the ordered set of open requests for one item. It is loaded
// for a single transaction and never shared between transactions.
type RequestQueue struct {
	itemID   uuid.UUID
	requests []Request
}

// NewRequestQueue orders the open requests by position. Requests without a
// position keep their relative order after positioned ones.
func NewRequestQueue(itemID uuid.UUID, requests []Request) RequestQueue {
	open := make([]Request, 0, len(requests))
	for _, r := range requests {
		if r.IsOpen() {
			open = append(open, r)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		pi, pj := open[i].Position, open[j].Position
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return *pi < *pj
		}
	})
	return RequestQueue{itemID: itemID, requests: open}
}

func (q RequestQueue) ItemID() uuid.UUID {
	return q.itemID
}

// Requests returns the queue in priority order.
func (q RequestQueue) Requests() []Request {
	return append([]Request(nil), q.requests...)
}

func (q RequestQueue) Size() int {
	return len(q.requests)
}

func (q RequestQueue) HasOutstandingFulfillableRequests() bool {
	_, ok := q.HighestPriorityFulfillableRequest()
	return ok
}

// HighestPriorityFulfillableRequest returns the first open hold shelf request.
func (q RequestQueue) HighestPriorityFulfillableRequest() (Request, bool) {
	for _, r := range q.requests {
		if r.IsOpen() && r.IsFulfillable() {
			return r, true
		}
	}
	return Request{}, false
}

// HasOpenHolds reports whether anyone is still waiting on the item with a hold.
func (q RequestQueue) HasOpenHolds() bool {
	for _, r := range q.requests {
		if r.IsOpen() && r.Type == RequestHold {
			return true
		}
	}
	return false
}

func (q RequestQueue) Contains(id uuid.UUID) bool {
	_, ok := q.indexOf(id)
	return ok
}

func (q RequestQueue) HighestPosition() int {
	highest := 0
	for _, r := range q.requests {
		if p := r.PositionValue(); p > highest {
			highest = p
		}
	}
	return highest
}

// Add places the request at the back of the queue.
func (q RequestQueue) Add(r Request) (RequestQueue, Request) {
	r = r.ChangePosition(q.HighestPosition() + 1)
	q.requests = append(q.Requests(), r)
	return q, r
}

// Replace swaps in a newer version of a queued request.
func (q RequestQueue) Replace(r Request) RequestQueue {
	i, ok := q.indexOf(r.ID)
	if !ok {
		return q
	}
	requests := q.Requests()
	requests[i] = r
	q.requests = requests
	return q
}

// Remove takes the request out of the queue and closes the gap it leaves.
func (q RequestQueue) Remove(id uuid.UUID) RequestQueue {
	i, ok := q.indexOf(id)
	if !ok {
		return q.Renumber()
	}
	requests := make([]Request, 0, len(q.requests)-1)
	requests = append(requests, q.requests[:i]...)
	requests = append(requests, q.requests[i+1:]...)
	q.requests = requests
	return q.Renumber()
}

// Renumber assigns dense positions 1..N in the existing order.
func (q RequestQueue) Renumber() RequestQueue {
	requests := q.Requests()
	for i := range requests {
		requests[i] = requests[i].ChangePosition(i + 1)
	}
	q.requests = requests
	return q
}

// ChangedRequests are the requests whose position must be written back.
func (q RequestQueue) ChangedRequests() []Request {
	var changed []Request
	for _, r := range q.requests {
		if r.PositionChanged() {
			changed = append(changed, r)
		}
	}
	return changed
}

func (q RequestQueue) indexOf(id uuid.UUID) (int, bool) {
	for i, r := range q.requests {
		if r.ID == id {
			return i, true
		}
	}
	return -1, false
}
