package circulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RequestType string

const (
	RequestHold   RequestType = "Hold"
	RequestRecall RequestType = "Recall"
	RequestPage   RequestType = "Page"
)

type RequestStatus string

const (
	RequestOpenNotYetFilled   RequestStatus = "Open - Not yet filled"
	RequestOpenAwaitingPickup RequestStatus = "Open - Awaiting pickup"
	RequestClosedFilled       RequestStatus = "Closed - Filled"
	RequestClosedCancelled    RequestStatus = "Closed - Cancelled"
)

func (s RequestStatus) IsOpen() bool {
	return s == RequestOpenNotYetFilled || s == RequestOpenAwaitingPickup
}

func (s RequestStatus) IsClosed() bool {
	return s == RequestClosedFilled || s == RequestClosedCancelled
}

// Valid reports whether s is one of the known statuses.
func (s RequestStatus) Valid() bool {
	return s.IsOpen() || s.IsClosed()
}

type FulfilmentPreference string

const (
	FulfilmentHoldShelf FulfilmentPreference = "Hold Shelf"
	FulfilmentDelivery  FulfilmentPreference = "Delivery"
)

// ErrInvalidStatusTransition is returned when a request cannot move to the requested status.
var ErrInvalidStatusTransition = errors.New("invalid request status transition")

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestOpenNotYetFilled:   {RequestOpenAwaitingPickup, RequestClosedFilled, RequestClosedCancelled},
	RequestOpenAwaitingPickup: {RequestClosedFilled, RequestClosedCancelled},
}

// Request is a patron's claim on an item. Requests are values: every change
// returns a new Request.
type Request struct {
	ID                   uuid.UUID            `json:"id"`
	ItemID               uuid.UUID            `json:"itemId"`
	RequesterID          uuid.UUID            `json:"requesterId"`
	Type                 RequestType          `json:"requestType"`
	Status               RequestStatus        `json:"status"`
	FulfilmentPreference FulfilmentPreference `json:"fulfilmentPreference"`
	Position             *int                 `json:"position,omitempty"`
	RequestDate          time.Time            `json:"requestDate"`
	PickupServicePointID uuid.UUID            `json:"pickupServicePointId"`
	CancelledDate        *time.Time           `json:"cancelledDate,omitempty"`
	CancellationReason   string               `json:"cancellationReasonId,omitempty"`
	Version              int                  `json:"version"`

	positionChanged bool
}

func (r Request) IsOpen() bool {
	return r.Status.IsOpen()
}

func (r Request) IsCancelled() bool {
	return r.Status == RequestClosedCancelled
}

// IsFulfillable reports whether the request may be promoted to the hold shelf.
func (r Request) IsFulfillable() bool {
	return r.FulfilmentPreference == FulfilmentHoldShelf
}

// PositionChanged reports whether the position differs from when it was loaded.
func (r Request) PositionChanged() bool {
	return r.positionChanged
}

// PositionValue returns the position, or 0 when the request has none.
func (r Request) PositionValue() int {
	if r.Position == nil {
		return 0
	}
	return *r.Position
}

func (r Request) ChangePosition(position int) Request {
	if r.Position != nil && *r.Position == position {
		return r
	}
	r.Position = &position
	r.positionChanged = true
	return r
}

func (r Request) RemovePosition() Request {
	if r.Position == nil {
		return r
	}
	r.Position = nil
	r.positionChanged = true
	return r
}

// ChangeStatus moves the request through its lifecycle. Setting the current
// status again is a no-op.
func (r Request) ChangeStatus(status RequestStatus) (Request, error) {
	if r.Status == status {
		return r, nil
	}
	for _, allowed := range requestTransitions[r.Status] {
		if allowed == status {
			r.Status = status
			return r, nil
		}
	}
	return r, fmt.Errorf("%w: %q to %q", ErrInvalidStatusTransition, r.Status, status)
}

// Cancel closes the request as cancelled and takes it out of the ordering.
func (r Request) Cancel(at time.Time, reasonID string) (Request, error) {
	cancelled, err := r.ChangeStatus(RequestClosedCancelled)
	if err != nil {
		return r, err
	}
	cancelled.CancelledDate = &at
	cancelled.CancellationReason = reasonID
	return cancelled.RemovePosition(), nil
}

// Persisted clears the changed flag once the request has been written.
func (r Request) Persisted() Request {
	r.positionChanged = false
	return r
}
