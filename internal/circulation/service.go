package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"circulus/internal/eventstore"
	"circulus/internal/rules"
)

// Service defines the circulation transactions.
type Service interface {
	CheckOut(ctx context.Context, req CheckOutRequest) (Loan, error)
	CheckIn(ctx context.Context, req CheckInRequest) (CheckInResult, error)
	RenewLoan(ctx context.Context, loanID uuid.UUID, systemDate time.Time) (Loan, error)
	RenewByBarcode(ctx context.Context, req RenewByBarcodeRequest) (Loan, error)
	RenewByID(ctx context.Context, req RenewByIDRequest) (Loan, error)
	PlaceRequest(ctx context.Context, req PlaceRequestRequest) (Request, error)
	UpdateRequest(ctx context.Context, request Request) (RequestAndQueue, error)
	GetLoan(ctx context.Context, id uuid.UUID) (Loan, error)
	GetQueue(ctx context.Context, itemID uuid.UUID) (RequestQueue, error)
	LoanHistory(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error)
}

type CheckOutRequest struct {
	ItemID         uuid.UUID `json:"itemId"`
	UserID         uuid.UUID `json:"userId"`
	LoanDate       time.Time `json:"loanDate"`
	ServicePointID uuid.UUID `json:"servicePointId"`
}

type CheckInRequest struct {
	ItemBarcode    string    `json:"itemBarcode"`
	CheckInDate    time.Time `json:"checkInDate"`
	ServicePointID uuid.UUID `json:"servicePointId"`
}

// CheckInResult carries the closed loan, if the item was on loan, with the
// item and its queue as they were written.
type CheckInResult struct {
	Loan  *Loan
	Item  Item
	Queue RequestQueue
}

type RenewByBarcodeRequest struct {
	ItemBarcode string `json:"itemBarcode"`
	UserBarcode string `json:"userBarcode"`
}

type RenewByIDRequest struct {
	ItemID uuid.UUID `json:"itemId"`
	UserID uuid.UUID `json:"userId"`
}

type PlaceRequestRequest struct {
	ItemID               uuid.UUID            `json:"itemId"`
	RequesterID          uuid.UUID            `json:"requesterId"`
	Type                 RequestType          `json:"requestType"`
	FulfilmentPreference FulfilmentPreference `json:"fulfilmentPreference"`
	RequestDate          time.Time            `json:"requestDate"`
	PickupServicePointID uuid.UUID            `json:"pickupServicePointId"`
}

// RequestAndQueue is a written request with the queue it now belongs to.
type RequestAndQueue struct {
	Request Request
	Queue   RequestQueue
}

type ItemRepository interface {
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	FindItemByBarcode(ctx context.Context, barcode string) (Item, error)
	UpdateItemStatus(ctx context.Context, item Item, status ItemStatus) (Item, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	FindUserByBarcode(ctx context.Context, barcode string) (User, error)
}

type LoanRepository interface {
	CreateLoan(ctx context.Context, loan Loan) (Loan, error)
	UpdateLoan(ctx context.Context, loan Loan) (Loan, error)
	GetLoan(ctx context.Context, id uuid.UUID) (Loan, error)
	FindOpenLoans(ctx context.Context, itemID uuid.UUID) ([]Loan, error)
}

type RequestRepository interface {
	CreateRequest(ctx context.Context, request Request) (Request, error)
	UpdateRequest(ctx context.Context, request Request) (Request, error)
	GetRequest(ctx context.Context, id uuid.UUID) (Request, error)
	FindOpenRequests(ctx context.Context, itemID uuid.UUID) ([]Request, error)
}

// LoanPolicyStore returns hydrated policies by id.
type LoanPolicyStore interface {
	GetLoanPolicy(ctx context.Context, id string) (LoanPolicy, error)
}

type History interface {
	Record(ctx context.Context, aggregateID uuid.UUID, aggregateType, eventType string, data any) error
	LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error)
}

// Dependencies groups the collaborators a Service is built from.
type Dependencies struct {
	Items    ItemRepository
	Users    UserRepository
	Loans    LoanRepository
	Requests RequestRepository
	Policies LoanPolicyStore
	Resolver rules.Resolver
	History  History
}
