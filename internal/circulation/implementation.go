package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"circulus/internal/eventstore"
	"circulus/internal/metrics"
	"circulus/internal/result"
	"circulus/internal/rules"
)

const tracerName = "circulus/internal/circulation"

// service implements the Service interface.
type service struct {
	items    ItemRepository
	users    UserRepository
	loans    LoanRepository
	requests RequestRepository
	policies LoanPolicyStore
	resolver rules.Resolver
	history  History
	queue    *UpdateRequestQueue

	logger *zap.Logger
	tracer trace.Tracer
	clock  func() time.Time
}

// Option configures a Service.
type Option func(*service)

// WithClock replaces the source of the system date used by renewals.
func WithClock(clock func() time.Time) Option {
	return func(s *service) { s.clock = clock }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *service) { s.tracer = tracer }
}

// NewService creates a new circulation service instance.
func NewService(deps Dependencies, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		items:    deps.Items,
		users:    deps.Users,
		loans:    deps.Loans,
		requests: deps.Requests,
		policies: deps.Policies,
		resolver: deps.Resolver,
		history:  deps.History,
		queue:    NewUpdateRequestQueue(deps.Requests),
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type itemAndUser struct {
	item Item
	user User
}

func newItemAndUser(item Item, user User) itemAndUser {
	return itemAndUser{item: item, user: user}
}

type checkOutRecords struct {
	loan       Loan
	item       Item
	user       User
	policy     LoanPolicy
	transition QueueTransition
}

// CheckOut lends an item. Once the item status has been written, a failure to
// create the loan puts the status back.
func (s *service) CheckOut(ctx context.Context, req CheckOutRequest) (_ Loan, err error) {
	ctx, done := s.observe(ctx, "check_out", attribute.String("item.id", req.ItemID.String()))
	defer func() { done(err) }()

	if err := validateCheckOut(req); err != nil {
		return Loan{}, err
	}

	item := result.Go(ctx, func(ctx context.Context) (Item, error) { return s.getItem(ctx, req.ItemID) })
	user := result.Go(ctx, func(ctx context.Context) (User, error) { return s.getUser(ctx, req.UserID) })
	records := result.CombineFutures(ctx, item, user, func(item Item, user User) checkOutRecords {
		loan := NewLoan(item.ID, user.ID, req.LoanDate).WithCheckoutServicePoint(req.ServicePointID)
		return checkOutRecords{loan: loan, item: item, user: user}
	})
	records = result.Check(records,
		func(r checkOutRecords) bool { return r.item.Status == ItemCheckedOut },
		func(r checkOutRecords) error {
			return result.Validation(fmt.Sprintf("Item %s is already checked out", r.item.Barcode), "itemBarcode", r.item.Barcode)
		})

	records = result.Next(records, func(r checkOutRecords) result.Result[checkOutRecords] {
		queue := result.Go(ctx, func(ctx context.Context) (RequestQueue, error) { return s.loadQueue(ctx, r.item.ID) })
		policy := result.Go(ctx, func(ctx context.Context) (LoanPolicy, error) { return s.lookupPolicy(ctx, r.item, r.user) })
		return result.CombineToResult(queue.Await(ctx), policy.Await(ctx),
			func(queue RequestQueue, policy LoanPolicy) result.Result[checkOutRecords] {
				transition, err := CheckOutTransition(queue)
				if err != nil {
					return result.Failed[checkOutRecords](result.ServerFrom(err))
				}
				if transition.Queue.HasOpenHolds() {
					policy = policy.ForItemOnHold()
				}
				r.policy = policy
				r.transition = transition
				return result.Succeeded(r)
			})
	})

	records = result.Next(records, func(r checkOutRecords) result.Result[checkOutRecords] {
		return result.Map(result.From(r.policy.CalculateInitialDueDate(r.loan)), func(due time.Time) checkOutRecords {
			r.loan = r.loan.WithDueDate(due).WithPolicy(r.policy.ID)
			return r
		})
	})

	records = result.Next(records, func(r checkOutRecords) result.Result[checkOutRecords] {
		return result.From(s.writeCheckOut(ctx, r))
	})

	written, err := records.Unwrap()
	if err != nil {
		return Loan{}, err
	}

	loan := written.loan
	s.record(ctx, loan.ID, eventstore.AggregateLoan, EventLoanCreated, LoanCreatedEvent{
		LoanID:   loan.ID,
		UserID:   loan.UserID,
		ItemID:   loan.ItemID,
		PolicyID: loan.PolicyID,
		LoanDate: loan.LoanDate,
		DueDate:  loan.DueDate,
	})
	if promoted := written.transition.Promoted; promoted != nil {
		s.recordStatusChange(ctx, *promoted)
	}
	return loan, nil
}

// writeCheckOut writes the item, then the loan, then the queue. The queue is
// only touched once the loan exists, so a failed check-out leaves every
// request where it was.
func (s *service) writeCheckOut(ctx context.Context, r checkOutRecords) (checkOutRecords, error) {
	updated, err := s.items.UpdateItemStatus(ctx, r.item, ItemCheckedOut)
	if err != nil {
		return r, fmt.Errorf("failed to update status of item %s: %w", r.item.ID, err)
	}

	created, err := s.loans.CreateLoan(ctx, r.loan.WithItemStatus(updated.Status))
	if err != nil {
		s.compensate(ctx, "restore item status", r.item.ID, func(ctx context.Context) error {
			_, err := s.items.UpdateItemStatus(ctx, updated, r.item.Status)
			return err
		})
		return r, fmt.Errorf("failed to create loan: %w", err)
	}

	r.item = updated
	r.loan = created

	// The loan stands once created. A queue that could not be written is left
	// for the audit to report rather than failing a completed check-out.
	if _, err := s.queue.Apply(ctx, r.transition); err != nil {
		s.logger.Error("failed to update request queue after check out",
			zap.String("item_id", r.item.ID.String()),
			zap.String("loan_id", created.ID.String()),
			zap.Error(err))
		r.transition.Promoted = nil
	}
	return r, nil
}

// CheckIn closes the open loan on the item, if there is one, and moves the
// next fulfillable request to awaiting pickup.
func (s *service) CheckIn(ctx context.Context, req CheckInRequest) (_ CheckInResult, err error) {
	ctx, done := s.observe(ctx, "check_in", attribute.String("item.barcode", req.ItemBarcode))
	defer func() { done(err) }()

	if err := validateCheckIn(req); err != nil {
		return CheckInResult{}, err
	}

	item, err := s.items.FindItemByBarcode(ctx, req.ItemBarcode)
	if err != nil {
		return CheckInResult{}, notFoundAsValidation(err,
			fmt.Sprintf("No item with barcode %s exists", req.ItemBarcode), "itemBarcode", req.ItemBarcode)
	}

	loan := result.Go(ctx, func(ctx context.Context) (*Loan, error) { return s.singleOpenLoan(ctx, item.ID) })
	queue := result.Go(ctx, func(ctx context.Context) (RequestQueue, error) { return s.loadQueue(ctx, item.ID) })
	records := result.CombineFutures(ctx, loan, queue, func(loan *Loan, queue RequestQueue) CheckInResult {
		return CheckInResult{Loan: loan, Item: item, Queue: queue}
	})
	checkedIn, err := result.Next(records, func(r CheckInResult) result.Result[CheckInResult] {
		return result.From(s.writeCheckIn(ctx, r, req))
	}).Unwrap()
	if err != nil {
		return CheckInResult{}, err
	}

	if checkedIn.Loan != nil {
		s.record(ctx, checkedIn.Loan.ID, eventstore.AggregateLoan, EventLoanClosed, LoanClosedEvent{
			LoanID:     checkedIn.Loan.ID,
			ItemID:     checkedIn.Loan.ItemID,
			ReturnDate: req.CheckInDate,
		})
	}
	return checkedIn, nil
}

func (s *service) writeCheckIn(ctx context.Context, r CheckInResult, req CheckInRequest) (CheckInResult, error) {
	transition, err := CheckInTransition(r.Queue)
	if err != nil {
		return r, result.ServerFrom(err)
	}
	queue, err := s.queue.Apply(ctx, transition)
	if err != nil {
		return r, err
	}
	if transition.Promoted != nil {
		s.recordStatusChange(ctx, *transition.Promoted)
	}

	status := ItemAvailable
	if r.Queue.HasOutstandingFulfillableRequests() {
		status = ItemAwaitingPickup
	}
	item, err := s.items.UpdateItemStatus(ctx, r.Item, status)
	if err != nil {
		return r, fmt.Errorf("failed to update status of item %s: %w", r.Item.ID, err)
	}

	r.Item = item
	r.Queue = queue
	if r.Loan == nil {
		return r, nil
	}

	closed, err := s.loans.UpdateLoan(ctx, r.Loan.CheckedIn(req.CheckInDate, req.ServicePointID).WithItemStatus(item.Status))
	if err != nil {
		return r, fmt.Errorf("failed to close loan %s: %w", r.Loan.ID, err)
	}
	r.Loan = &closed
	return r, nil
}

// RenewLoan renews an open loan as of systemDate.
func (s *service) RenewLoan(ctx context.Context, loanID uuid.UUID, systemDate time.Time) (_ Loan, err error) {
	ctx, done := s.observe(ctx, "renew", attribute.String("loan.id", loanID.String()))
	defer func() { done(err) }()

	loan, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return Loan{}, notFoundAsValidation(err, fmt.Sprintf("No loan with ID %s exists", loanID), "loanId", loanID.String())
	}
	if !loan.IsOpen() {
		return Loan{}, result.Validation(closedLoanMessage, "loanId", loanID.String())
	}

	item := result.Go(ctx, func(ctx context.Context) (Item, error) { return s.getItem(ctx, loan.ItemID) })
	user := result.Go(ctx, func(ctx context.Context) (User, error) { return s.getUser(ctx, loan.UserID) })
	return s.renew(ctx, loan, item, user, systemDate)
}

// RenewByBarcode renews the open loan of the item for the user holding it.
func (s *service) RenewByBarcode(ctx context.Context, req RenewByBarcodeRequest) (_ Loan, err error) {
	ctx, done := s.observe(ctx, "renew_by_barcode", attribute.String("item.barcode", req.ItemBarcode))
	defer func() { done(err) }()

	if err := validateRenewByBarcode(req); err != nil {
		return Loan{}, err
	}

	item := result.Go(ctx, func(ctx context.Context) (Item, error) {
		item, err := s.items.FindItemByBarcode(ctx, req.ItemBarcode)
		return item, notFoundAsValidation(err,
			fmt.Sprintf("No item with barcode %s exists", req.ItemBarcode), "itemBarcode", req.ItemBarcode)
	})
	user := result.Go(ctx, func(ctx context.Context) (User, error) {
		user, err := s.users.FindUserByBarcode(ctx, req.UserBarcode)
		return user, notFoundAsValidation(err, userNotFoundMessage, "userBarcode", req.UserBarcode)
	})
	return s.renewOpenLoan(ctx, item, user, "userBarcode", req.UserBarcode)
}

// RenewByID renews the open loan of the item for the user holding it.
func (s *service) RenewByID(ctx context.Context, req RenewByIDRequest) (_ Loan, err error) {
	ctx, done := s.observe(ctx, "renew_by_id", attribute.String("item.id", req.ItemID.String()))
	defer func() { done(err) }()

	if err := validateRenewByID(req); err != nil {
		return Loan{}, err
	}

	item := result.Go(ctx, func(ctx context.Context) (Item, error) { return s.getItem(ctx, req.ItemID) })
	user := result.Go(ctx, func(ctx context.Context) (User, error) { return s.getUser(ctx, req.UserID) })
	return s.renewOpenLoan(ctx, item, user, "userId", req.UserID.String())
}

func (s *service) renewOpenLoan(ctx context.Context, item *result.Future[Item], user *result.Future[User], userKey, userValue string) (Loan, error) {
	both := result.CombineFutures(ctx, item, user, newItemAndUser)

	loan, err := result.Next(both, func(r itemAndUser) result.Result[Loan] {
		loan, err := s.singleOpenLoan(ctx, r.item.ID)
		if err != nil {
			return result.Failed[Loan](err)
		}
		if loan == nil {
			return result.Failed[Loan](result.Validation(
				fmt.Sprintf("No open loan for item %s", r.item.ID), "itemId", r.item.ID.String()))
		}
		if loan.UserID != r.user.ID {
			return result.Failed[Loan](result.Validation(differentUserMessage, userKey, userValue))
		}
		return result.Succeeded(*loan)
	}).Unwrap()
	if err != nil {
		return Loan{}, err
	}
	return s.renew(ctx, loan, item, user, s.clock())
}

// renew re-resolves the policy for the loan, because the rules may have
// changed since check out, and applies it.
func (s *service) renew(ctx context.Context, loan Loan, item *result.Future[Item], user *result.Future[User], systemDate time.Time) (Loan, error) {
	policy := result.Next(result.CombineFutures(ctx, item, user, newItemAndUser), func(r itemAndUser) result.Result[LoanPolicy] {
		return result.From(s.lookupPolicy(ctx, r.item, r.user))
	})

	renewed, err := result.Next(policy, func(policy LoanPolicy) result.Result[Loan] {
		return result.From(policy.Renew(loan, systemDate))
	}).Unwrap()
	if err != nil {
		return Loan{}, err
	}

	updated, err := s.loans.UpdateLoan(ctx, renewed)
	if err != nil {
		return Loan{}, fmt.Errorf("failed to update loan %s: %w", loan.ID, err)
	}

	s.record(ctx, updated.ID, eventstore.AggregateLoan, EventLoanRenewed, LoanRenewedEvent{
		LoanID:       updated.ID,
		PolicyID:     updated.PolicyID,
		DueDate:      updated.DueDate,
		RenewalCount: updated.RenewalCount,
	})
	return updated, nil
}

// PlaceRequest adds a request to the end of the item's queue.
func (s *service) PlaceRequest(ctx context.Context, req PlaceRequestRequest) (_ Request, err error) {
	if req.FulfilmentPreference == "" {
		req.FulfilmentPreference = FulfilmentHoldShelf
	}
	if req.RequestDate.IsZero() {
		req.RequestDate = s.clock()
	}

	ctx, done := s.observe(ctx, "place_request", attribute.String("item.id", req.ItemID.String()))
	defer func() { done(err) }()

	if err := validatePlaceRequest(req); err != nil {
		return Request{}, err
	}

	item := result.Go(ctx, func(ctx context.Context) (Item, error) { return s.getItem(ctx, req.ItemID) })
	requester := result.Go(ctx, func(ctx context.Context) (User, error) {
		user, err := s.users.GetUser(ctx, req.RequesterID)
		return user, notFoundAsValidation(err, userNotFoundMessage, "requesterId", req.RequesterID.String())
	})
	allowed := result.Check(
		result.CombineFutures(ctx, item, requester, func(item Item, _ User) Item { return item }),
		func(item Item) bool { return !requestAllowed(req.Type, item.Status) },
		func(Item) error {
			return result.Validation(
				fmt.Sprintf("%s requests are not allowed for this patron and item combination", req.Type),
				"requestType", string(req.Type))
		})

	placed, err := result.Next(allowed, func(item Item) result.Result[Request] {
		queue, err := s.loadQueue(ctx, item.ID)
		if err != nil {
			return result.Failed[Request](err)
		}
		_, request := queue.Add(Request{
			ID:                   uuid.New(),
			ItemID:               item.ID,
			RequesterID:          req.RequesterID,
			Type:                 req.Type,
			Status:               RequestOpenNotYetFilled,
			FulfilmentPreference: req.FulfilmentPreference,
			RequestDate:          req.RequestDate,
			PickupServicePointID: req.PickupServicePointID,
		})
		return result.From(s.requests.CreateRequest(ctx, request.Persisted()))
	}).Unwrap()
	if err != nil {
		return Request{}, err
	}

	s.record(ctx, placed.ID, eventstore.AggregateRequest, EventRequestPlaced, RequestPlacedEvent{
		RequestID:   placed.ID,
		ItemID:      placed.ItemID,
		RequesterID: placed.RequesterID,
		Type:        placed.Type,
		Position:    placed.PositionValue(),
	})
	return placed, nil
}

// UpdateRequest writes a change to an open request. Cancelling a request
// closes the gap it leaves in the queue.
func (s *service) UpdateRequest(ctx context.Context, request Request) (_ RequestAndQueue, err error) {
	ctx, done := s.observe(ctx, "update_request", attribute.String("request.id", request.ID.String()))
	defer func() { done(err) }()

	existing, err := s.requests.GetRequest(ctx, request.ID)
	if err != nil {
		return RequestAndQueue{}, notFoundAsValidation(err,
			fmt.Sprintf("No request with ID %s exists", request.ID), "id", request.ID.String())
	}
	if existing.Status.IsClosed() {
		return RequestAndQueue{}, result.Validation(closedRequestMessage, "id", request.ID.String())
	}

	changed, err := s.applyChanges(existing, request)
	if err != nil {
		return RequestAndQueue{}, err
	}

	updated, err := s.requests.UpdateRequest(ctx, changed)
	if err != nil {
		return RequestAndQueue{}, fmt.Errorf("failed to update request %s: %w", request.ID, err)
	}
	updated = updated.Persisted()

	queue, err := s.loadQueue(ctx, updated.ItemID)
	if err != nil {
		return RequestAndQueue{}, err
	}
	queue, err = s.queue.OnCancellation(ctx, updated, queue)
	if err != nil {
		return RequestAndQueue{}, err
	}

	if updated.Status != existing.Status {
		s.recordStatusChange(ctx, updated)
	}
	return RequestAndQueue{Request: updated, Queue: queue}, nil
}

// applyChanges takes the editable fields from the submitted request. The item,
// requester and position are owned by the queue.
func (s *service) applyChanges(existing, submitted Request) (Request, error) {
	changed := existing
	if submitted.FulfilmentPreference != "" {
		changed.FulfilmentPreference = submitted.FulfilmentPreference
	}
	if submitted.PickupServicePointID != uuid.Nil {
		changed.PickupServicePointID = submitted.PickupServicePointID
	}

	if submitted.Status == "" || submitted.Status == existing.Status {
		return changed, nil
	}
	if !submitted.Status.Valid() {
		return Request{}, result.Validation(
			fmt.Sprintf("Request status %q is not recognised", submitted.Status), "status", string(submitted.Status))
	}

	var err error
	if submitted.Status == RequestClosedCancelled {
		cancelledAt := s.clock()
		if submitted.CancelledDate != nil {
			cancelledAt = *submitted.CancelledDate
		}
		changed, err = changed.Cancel(cancelledAt, submitted.CancellationReason)
	} else {
		changed, err = changed.ChangeStatus(submitted.Status)
	}
	if errors.Is(err, ErrInvalidStatusTransition) {
		return Request{}, result.Validation(
			fmt.Sprintf("Request cannot move from %q to %q", existing.Status, submitted.Status), "status", string(submitted.Status))
	}
	return changed, err
}

func (s *service) GetLoan(ctx context.Context, id uuid.UUID) (Loan, error) {
	return s.loans.GetLoan(ctx, id)
}

func (s *service) GetQueue(ctx context.Context, itemID uuid.UUID) (RequestQueue, error) {
	return s.loadQueue(ctx, itemID)
}

func (s *service) LoanHistory(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.loans.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.history.LoadEvents(ctx, loanID)
}

func (s *service) getItem(ctx context.Context, id uuid.UUID) (Item, error) {
	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		return Item{}, notFoundAsValidation(err, fmt.Sprintf("No item with ID %s exists", id), "itemId", id.String())
	}
	return item, nil
}

func (s *service) getUser(ctx context.Context, id uuid.UUID) (User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		return User{}, notFoundAsValidation(err, userNotFoundMessage, "userId", id.String())
	}
	return user, nil
}

// lookupPolicy resolves the policy id from the circulation rules and loads it.
func (s *service) lookupPolicy(ctx context.Context, item Item, user User) (LoanPolicy, error) {
	id, err := s.resolver.ResolveLoanPolicyID(ctx, rules.Criteria{
		MaterialTypeID: item.MaterialTypeID,
		LoanTypeID:     item.LoanTypeID(),
		PatronGroupID:  user.PatronGroupID,
		LocationID:     item.EffectiveLocationID,
	})
	if err != nil {
		return LoanPolicy{}, err
	}

	policy, err := s.policies.GetLoanPolicy(ctx, id)
	if err != nil {
		return LoanPolicy{}, notFoundAsValidation(err,
			fmt.Sprintf("Loan policy %s could not be found, please check circulation rules", id), "loanPolicyId", id)
	}
	return policy, nil
}

func (s *service) loadQueue(ctx context.Context, itemID uuid.UUID) (RequestQueue, error) {
	requests, err := s.requests.FindOpenRequests(ctx, itemID)
	if err != nil {
		return RequestQueue{}, err
	}
	return NewRequestQueue(itemID, requests), nil
}

// singleOpenLoan returns nil when the item is not on loan.
func (s *service) singleOpenLoan(ctx context.Context, itemID uuid.UUID) (*Loan, error) {
	loans, err := s.loans.FindOpenLoans(ctx, itemID)
	if err != nil {
		return nil, err
	}
	switch len(loans) {
	case 0:
		return nil, nil
	case 1:
		return &loans[0], nil
	default:
		return nil, result.Server("More than one open loan for item %s", itemID)
	}
}

// record appends to the history. The transaction has already been written, so
// a failure here is logged rather than returned.
func (s *service) record(ctx context.Context, aggregateID uuid.UUID, aggregateType, eventType string, data any) {
	if err := s.history.Record(ctx, aggregateID, aggregateType, eventType, data); err != nil {
		s.logger.Error("failed to record history",
			zap.String("aggregate_id", aggregateID.String()),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *service) recordStatusChange(ctx context.Context, request Request) {
	s.record(ctx, request.ID, eventstore.AggregateRequest, EventRequestStatusChanged, RequestStatusChangedEvent{
		RequestID: request.ID,
		ItemID:    request.ItemID,
		Status:    request.Status,
	})
}

func (s *service) compensate(ctx context.Context, action string, itemID uuid.UUID, fn func(context.Context) error) {
	s.logger.Warn("compensating failed check out", zap.String("action", action), zap.String("item_id", itemID.String()))
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("compensation failed",
			zap.String("action", action),
			zap.String("item_id", itemID.String()),
			zap.Error(err))
	}
}

// observe opens a span for a transaction. The returned func closes it and
// records the outcome.
func (s *service) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "circulation."+operation, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()

		outcome := outcomeOf(err)
		metrics.RecordTransaction(operation, outcome, time.Since(start))
		if err == nil {
			return
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if outcome == "server_error" {
			s.logger.Error("circulation transaction failed", zap.String("operation", operation), zap.Error(err))
			return
		}
		s.logger.Info("circulation transaction refused",
			zap.String("operation", operation),
			zap.String("outcome", outcome),
			zap.Error(err))
	}
}

func outcomeOf(err error) string {
	var (
		validation *result.ValidationFailure
		notFound   *result.NotFoundFailure
		conflict   *result.ConflictFailure
		upstream   *result.UpstreamFailure
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &validation):
		return "validation_failed"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &upstream):
		return "upstream_error"
	default:
		return "server_error"
	}
}
