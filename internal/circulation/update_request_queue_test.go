package circulation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func storedQueue(t *testing.T, n int) (*fakeRequests, RequestQueue, []Request) {
	t.Helper()
	itemID := uuid.New()
	var requests []Request
	for i := 1; i <= n; i++ {
		requests = append(requests, newRequest(itemID, RequestHold, i))
	}
	store := newFakeRequests(&journal{}, requests...)
	return store, NewRequestQueue(itemID, requests), requests
}

func TestOnCheckOut_FillsFirstRequestAndRenumbers(t *testing.T) {
	store, queue, requests := storedQueue(t, 3)

	updated, err := NewUpdateRequestQueue(store).OnCheckOut(context.Background(), queue)

	require.NoError(t, err)
	filled := store.get(requests[0].ID)
	assert.Equal(t, RequestClosedFilled, filled.Status)
	assert.Nil(t, filled.Position)

	assert.Equal(t, []uuid.UUID{requests[1].ID, requests[2].ID}, ids(updated.Requests()))
	assert.Equal(t, []int{1, 2}, positions(updated))
	assert.Equal(t, 1, store.get(requests[1].ID).PositionValue())
	assert.Equal(t, 2, store.get(requests[2].ID).PositionValue())
	assert.Equal(t, 3, store.writes())
	assert.Empty(t, updated.ChangedRequests())
}

func TestOnCheckOut_WithoutFulfillableRequestsIsANoOp(t *testing.T) {
	itemID := uuid.New()
	recall := newRequest(itemID, RequestRecall, 1)
	recall.FulfilmentPreference = FulfilmentDelivery
	store := newFakeRequests(&journal{}, recall)
	queue := NewRequestQueue(itemID, []Request{recall})

	updated, err := NewUpdateRequestQueue(store).OnCheckOut(context.Background(), queue)

	require.NoError(t, err)
	assert.Equal(t, queue, updated)
	assert.Zero(t, store.writes())
}

func TestOnCheckIn_PromotesFirstFulfillableOnly(t *testing.T) {
	store, queue, requests := storedQueue(t, 2)

	updated, err := NewUpdateRequestQueue(store).OnCheckIn(context.Background(), queue)

	require.NoError(t, err)
	assert.Equal(t, RequestOpenAwaitingPickup, store.get(requests[0].ID).Status)
	assert.Equal(t, RequestOpenNotYetFilled, store.get(requests[1].ID).Status)
	assert.Equal(t, []int{1, 2}, positions(updated))
	assert.Equal(t, 1, store.writes())
}

func TestCheckInTransition_AlreadyAwaitingPickup(t *testing.T) {
	_, queue, requests := storedQueue(t, 2)
	awaiting, err := requests[0].ChangeStatus(RequestOpenAwaitingPickup)
	require.NoError(t, err)
	queue = queue.Replace(awaiting.Persisted())

	transition, err := CheckInTransition(queue)

	require.NoError(t, err)
	assert.Nil(t, transition.Promoted)
	assert.Equal(t, queue, transition.Queue)
}

func TestOnCancellation_ClosesTheGap(t *testing.T) {
	store, queue, requests := storedQueue(t, 3)
	cancelled, err := requests[1].Cancel(requests[1].RequestDate, "")
	require.NoError(t, err)

	updated, err := NewUpdateRequestQueue(store).OnCancellation(context.Background(), cancelled, queue)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{requests[0].ID, requests[2].ID}, ids(updated.Requests()))
	assert.Equal(t, 1, store.get(requests[0].ID).PositionValue())
	assert.Equal(t, 2, store.get(requests[2].ID).PositionValue())
	assert.Equal(t, 1, store.writes(), "only the request behind the gap moves")
}

func TestOnCancellation_IgnoresOpenRequests(t *testing.T) {
	store, queue, requests := storedQueue(t, 3)

	updated, err := NewUpdateRequestQueue(store).OnCancellation(context.Background(), requests[1], queue)

	require.NoError(t, err)
	assert.Equal(t, queue, updated)
	assert.Zero(t, store.writes())
}

func TestProperty_PositionsStayDense(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		itemID := uuid.New()
		n := rapid.IntRange(0, 8).Draw(t, "requests")
		var requests []Request
		for i := 1; i <= n; i++ {
			r := newRequest(itemID, RequestHold, i)
			if rapid.Bool().Draw(t, "delivery") {
				r.FulfilmentPreference = FulfilmentDelivery
			}
			requests = append(requests, r)
		}
		store := newFakeRequests(nil, requests...)
		updater := NewUpdateRequestQueue(store)
		queue := NewRequestQueue(itemID, requests)
		ctx := context.Background()

		steps := rapid.IntRange(0, 6).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			var err error
			if queue.Size() > 0 && rapid.Bool().Draw(t, "cancel") {
				victim := queue.Requests()[rapid.IntRange(0, queue.Size()-1).Draw(t, "victim")]
				cancelled, cancelErr := victim.Cancel(victim.RequestDate, "")
				if cancelErr != nil {
					t.Fatalf("cancel: %v", cancelErr)
				}
				if cancelled, err = store.UpdateRequest(ctx, cancelled); err != nil {
					t.Fatalf("persist cancellation: %v", err)
				}
				queue, err = updater.OnCancellation(ctx, cancelled, queue)
			} else {
				queue, err = updater.OnCheckOut(ctx, queue)
			}
			if err != nil {
				t.Fatalf("step %d: %v", i, err)
			}

			stored, _ := store.FindOpenRequests(ctx, itemID)
			reloaded := NewRequestQueue(itemID, stored)
			for j, r := range reloaded.Requests() {
				if r.PositionValue() != j+1 {
					t.Fatalf("position %d at index %d", r.PositionValue(), j)
				}
			}
			if got, want := ids(reloaded.Requests()), ids(queue.Requests()); !equalIDs(got, want) {
				t.Fatalf("stored order %v differs from queue order %v", got, want)
			}
		}
	})
}

func equalIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
