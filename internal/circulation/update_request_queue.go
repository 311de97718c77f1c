package circulation

import (
	"context"
	"fmt"
)

// QueueTransition is the in-memory outcome of a queue change, before anything
// is written. Promoted is the request whose status changed, if any.
type QueueTransition struct {
	Queue    RequestQueue
	Promoted *Request
}

// CheckInTransition moves the first fulfillable request to awaiting pickup.
// Positions are left alone. A request already awaiting pickup is not promoted again.
func CheckInTransition(queue RequestQueue) (QueueTransition, error) {
	first, ok := queue.HighestPriorityFulfillableRequest()
	if !ok || first.Status == RequestOpenAwaitingPickup {
		return QueueTransition{Queue: queue}, nil
	}
	promoted, err := first.ChangeStatus(RequestOpenAwaitingPickup)
	if err != nil {
		return QueueTransition{}, err
	}
	return QueueTransition{Queue: queue.Replace(promoted), Promoted: &promoted}, nil
}

// CheckOutTransition fills the first fulfillable request and takes it out of
// the queue. The remaining requests are renumbered.
func CheckOutTransition(queue RequestQueue) (QueueTransition, error) {
	first, ok := queue.HighestPriorityFulfillableRequest()
	if !ok {
		return QueueTransition{Queue: queue}, nil
	}
	filled, err := first.ChangeStatus(RequestClosedFilled)
	if err != nil {
		return QueueTransition{}, err
	}
	filled = filled.RemovePosition()
	return QueueTransition{Queue: queue.Remove(filled.ID), Promoted: &filled}, nil
}

// CancellationTransition closes the gap left by a cancelled request. Requests
// that are not cancelled leave the queue untouched.
func CancellationTransition(request Request, queue RequestQueue) QueueTransition {
	if !request.IsCancelled() {
		return QueueTransition{Queue: queue}
	}
	return QueueTransition{Queue: queue.Remove(request.ID)}
}

// UpdateRequestQueue applies check-in, check-out and cancellation effects to
// an item's request queue and writes back only what changed.
type UpdateRequestQueue struct {
	requests RequestRepository
}

func NewUpdateRequestQueue(requests RequestRepository) *UpdateRequestQueue {
	return &UpdateRequestQueue{requests: requests}
}

func (u *UpdateRequestQueue) OnCheckIn(ctx context.Context, queue RequestQueue) (RequestQueue, error) {
	transition, err := CheckInTransition(queue)
	if err != nil {
		return queue, err
	}
	return u.Apply(ctx, transition)
}

func (u *UpdateRequestQueue) OnCheckOut(ctx context.Context, queue RequestQueue) (RequestQueue, error) {
	transition, err := CheckOutTransition(queue)
	if err != nil {
		return queue, err
	}
	return u.Apply(ctx, transition)
}

func (u *UpdateRequestQueue) OnCancellation(ctx context.Context, request Request, queue RequestQueue) (RequestQueue, error) {
	return u.Apply(ctx, CancellationTransition(request, queue))
}

// Apply writes the promoted request first, then every request whose position
// changed. A transition without changes issues no writes.
func (u *UpdateRequestQueue) Apply(ctx context.Context, transition QueueTransition) (RequestQueue, error) {
	queue := transition.Queue

	if transition.Promoted != nil {
		updated, err := u.requests.UpdateRequest(ctx, *transition.Promoted)
		if err != nil {
			return queue, fmt.Errorf("failed to update request %s: %w", transition.Promoted.ID, err)
		}
		queue = queue.Replace(updated.Persisted())
	}

	for _, changed := range queue.ChangedRequests() {
		updated, err := u.requests.UpdateRequest(ctx, changed)
		if err != nil {
			return queue, fmt.Errorf("failed to update position of request %s: %w", changed.ID, err)
		}
		queue = queue.Replace(updated.Persisted())
	}

	return queue, nil
}
