package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"circulus/internal/circulation"
	"circulus/internal/result"
)

type requestRow struct {
	ID                   uuid.UUID  `db:"id"`
	ItemID               uuid.UUID  `db:"item_id"`
	RequesterID          uuid.UUID  `db:"requester_id"`
	Type                 string     `db:"request_type"`
	Status               string     `db:"status"`
	FulfilmentPreference string     `db:"fulfilment_preference"`
	Position             *int       `db:"position"`
	RequestDate          time.Time  `db:"request_date"`
	PickupServicePointID uuid.UUID  `db:"pickup_service_point_id"`
	CancelledDate        *time.Time `db:"cancelled_date"`
	CancellationReason   string     `db:"cancellation_reason_id"`
	Version              int        `db:"version"`
}

var requestColumns = []interface{}{
	"id", "item_id", "requester_id", "request_type", "status", "fulfilment_preference", "position",
	"request_date", "pickup_service_point_id", "cancelled_date", "cancellation_reason_id", "version",
}

func (r requestRow) toRequest() circulation.Request {
	return circulation.Request{
		ID:                   r.ID,
		ItemID:               r.ItemID,
		RequesterID:          r.RequesterID,
		Type:                 circulation.RequestType(r.Type),
		Status:               circulation.RequestStatus(r.Status),
		FulfilmentPreference: circulation.FulfilmentPreference(r.FulfilmentPreference),
		Position:             r.Position,
		RequestDate:          r.RequestDate,
		PickupServicePointID: r.PickupServicePointID,
		CancelledDate:        r.CancelledDate,
		CancellationReason:   r.CancellationReason,
		Version:              r.Version,
	}
}

func requestRecord(request circulation.Request) goqu.Record {
	return goqu.Record{
		"item_id":                 request.ItemID.String(),
		"requester_id":            request.RequesterID.String(),
		"request_type":            string(request.Type),
		"status":                  string(request.Status),
		"fulfilment_preference":   string(request.FulfilmentPreference),
		"position":                request.Position,
		"request_date":            request.RequestDate,
		"pickup_service_point_id": request.PickupServicePointID.String(),
		"cancelled_date":          request.CancelledDate,
		"cancellation_reason_id":  request.CancellationReason,
	}
}

func (s *Store) CreateRequest(ctx context.Context, request circulation.Request) (circulation.Request, error) {
	record := requestRecord(request)
	record["id"] = request.ID.String()
	record["version"] = 1

	if _, err := s.exec(ctx, s.dialect.Insert(tableRequests).Prepared(true).Rows(record)); err != nil {
		return circulation.Request{}, fmt.Errorf("failed to insert request %s: %w", request.ID, err)
	}
	request.Version = 1
	return request, nil
}

// UpdateRequest writes the request if nobody else changed it since it was read.
func (s *Store) UpdateRequest(ctx context.Context, request circulation.Request) (circulation.Request, error) {
	record := requestRecord(request)
	record["version"] = request.Version + 1
	record["updated_at"] = goqu.L("NOW()")

	affected, err := s.exec(ctx, s.dialect.Update(tableRequests).Prepared(true).
		Set(record).
		Where(goqu.C("id").Eq(request.ID.String()), goqu.C("version").Eq(request.Version)))
	if err != nil {
		return circulation.Request{}, fmt.Errorf("failed to update request %s: %w", request.ID, err)
	}
	if affected == 0 {
		return circulation.Request{}, result.Conflict("request", request.ID.String())
	}
	request.Version++
	return request, nil
}

func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (circulation.Request, error) {
	var row requestRow
	err := s.get(ctx, &row, s.dialect.From(tableRequests).Prepared(true).
		Select(requestColumns...).
		Where(goqu.C("id").Eq(id.String())))
	if isNoRows(err) {
		return circulation.Request{}, result.NotFound("request", id.String())
	}
	if err != nil {
		return circulation.Request{}, fmt.Errorf("failed to get request %s: %w", id, err)
	}
	return row.toRequest(), nil
}

// FindOpenRequests returns the item's open requests in queue order.
func (s *Store) FindOpenRequests(ctx context.Context, itemID uuid.UUID) ([]circulation.Request, error) {
	var rows []requestRow
	err := s.selectAll(ctx, &rows, s.dialect.From(tableRequests).Prepared(true).
		Select(requestColumns...).
		Where(
			goqu.C("item_id").Eq(itemID.String()),
			goqu.C("status").In(string(circulation.RequestOpenNotYetFilled), string(circulation.RequestOpenAwaitingPickup)),
		).
		Order(goqu.C("position").Asc().NullsLast(), goqu.C("request_date").Asc()))
	if err != nil {
		return nil, fmt.Errorf("failed to find open requests for item %s: %w", itemID, err)
	}

	requests := make([]circulation.Request, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, row.toRequest())
	}
	return requests, nil
}
