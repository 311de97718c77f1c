// Package eventstore keeps the append-only history of loans and requests.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// AnyVersion appends after whatever the stream currently holds.
const AnyVersion = -1

const maxAppendAttempts = 3

// Aggregate types with a history.
const (
	AggregateLoan    = "loan"
	AggregateRequest = "request"
)

// Event is one recorded change of a loan or request.
type Event struct {
	ID            int64               `json:"id" db:"id"`
	AggregateID   uuid.UUID           `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string              `json:"aggregate_type" db:"aggregate_type"`
	EventType     string              `json:"event_type" db:"event_type"`
	EventData     jsoniter.RawMessage `json:"event_data" db:"event_data"`
	Metadata      map[string]string   `json:"metadata,omitempty" db:"metadata"`
	Version       int                 `json:"version" db:"version"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}

// NewEvent marshals data into an event ready to append.
func NewEvent(eventType string, data any) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: payload}, nil
}

// EventStore appends and loads history with optimistic concurrency per aggregate.
type EventStore struct {
	db       *sql.DB
	tracer   trace.Tracer
	appended metric.Int64Counter
	now      func() time.Time
}

func NewEventStore(db *sql.DB) *EventStore {
	appended, _ := otel.Meter("circulus/eventstore").Int64Counter(
		"eventstore.events.appended",
		metric.WithDescription("Number of events appended to circulation history."),
	)
	return &EventStore{
		db:       db,
		tracer:   otel.Tracer("circulus/eventstore"),
		appended: appended,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record appends a single event after the current end of the aggregate's stream.
func (es *EventStore) Record(ctx context.Context, aggregateID uuid.UUID, aggregateType, eventType string, data any) error {
	event, err := NewEvent(eventType, data)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err = es.AppendEvents(ctx, aggregateID, aggregateType, AnyVersion, []Event{event})
		if !errors.Is(err, ErrConcurrencyConflict) || attempt == maxAppendAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
}

// AppendEvents atomically appends events. expectedVersion must match the
// stream's current version unless it is AnyVersion.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < AnyVersion {
		return ErrInvalidVersion
	}

	tx, err := es.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&currentVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query current version: %w", err)
	}

	if expectedVersion == AnyVersion {
		expectedVersion = currentVersion
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, event := range events {
		version := expectedVersion + i + 1
		metadata, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata of event %d: %w", i, err)
		}

		var eventID int64
		err = stmt.QueryRowContext(ctx,
			aggregateID,
			aggregateType,
			event.EventType,
			[]byte(event.EventData),
			metadata,
			version,
			es.now(),
		).Scan(&eventID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if es.appended != nil {
		es.appended.Add(ctx, int64(len(events)), metric.WithAttributes(attribute.String("aggregate.type", aggregateType)))
	}
	return nil
}

// LoadEvents returns an aggregate's history in version order.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	rows, err := es.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			data     []byte
			metadata []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&data,
			&metadata,
			&event.Version,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.EventData = data
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
