package circulation

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the availability of an item as recorded in the inventory.
type ItemStatus string

const (
	ItemAvailable      ItemStatus = "Available"
	ItemCheckedOut     ItemStatus = "Checked out"
	ItemAwaitingPickup ItemStatus = "Awaiting pickup"
)

// Item is the subset of an inventory item circulation needs.
type Item struct {
	ID                  uuid.UUID  `json:"id"`
	Barcode             string     `json:"barcode"`
	Title               string     `json:"title,omitempty"`
	Status              ItemStatus `json:"status"`
	MaterialTypeID      string     `json:"materialTypeId"`
	PermanentLoanTypeID string     `json:"permanentLoanTypeId"`
	TemporaryLoanTypeID string     `json:"temporaryLoanTypeId,omitempty"`
	EffectiveLocationID string     `json:"effectiveLocationId"`
	Version             int        `json:"version"`
}

// LoanTypeID prefers the temporary loan type over the permanent one.
func (i Item) LoanTypeID() string {
	if i.TemporaryLoanTypeID != "" {
		return i.TemporaryLoanTypeID
	}
	return i.PermanentLoanTypeID
}

func (i Item) WithStatus(status ItemStatus) Item {
	i.Status = status
	return i
}

// User is the subset of a patron record circulation needs.
type User struct {
	ID            uuid.UUID `json:"id"`
	Barcode       string    `json:"barcode"`
	PatronGroupID string    `json:"patronGroup"`
	Active        bool      `json:"active"`
}

type LoanStatus string

const (
	LoanOpen   LoanStatus = "Open"
	LoanClosed LoanStatus = "Closed"
)

// Loan actions recorded with each change of a loan.
const (
	ActionCheckedOut = "checkedout"
	ActionRenewed    = "renewed"
	ActionCheckedIn  = "checkedin"
)

// Loan represents an item lent to a user.
type Loan struct {
	ID                     uuid.UUID  `json:"id"`
	ItemID                 uuid.UUID  `json:"itemId"`
	UserID                 uuid.UUID  `json:"userId"`
	LoanDate               time.Time  `json:"loanDate"`
	DueDate                time.Time  `json:"dueDate"`
	ReturnDate             *time.Time `json:"returnDate,omitempty"`
	Status                 LoanStatus `json:"status"`
	Action                 string     `json:"action"`
	PolicyID               string     `json:"loanPolicyId,omitempty"`
	RenewalCount           int        `json:"renewalCount"`
	ItemStatus             ItemStatus `json:"itemStatus,omitempty"`
	CheckoutServicePointID uuid.UUID  `json:"checkoutServicePointId"`
	CheckinServicePointID  uuid.UUID  `json:"checkinServicePointId"`
	Version                int        `json:"version"`
}

// NewLoan creates an open loan that has not yet been given a due date.
func NewLoan(itemID, userID uuid.UUID, loanDate time.Time) Loan {
	return Loan{
		ID:       uuid.New(),
		ItemID:   itemID,
		UserID:   userID,
		LoanDate: loanDate,
		Status:   LoanOpen,
		Action:   ActionCheckedOut,
	}
}

func (l Loan) IsOpen() bool {
	return l.Status == LoanOpen
}

func (l Loan) WithDueDate(due time.Time) Loan {
	l.DueDate = due
	return l
}

func (l Loan) WithPolicy(policyID string) Loan {
	l.PolicyID = policyID
	return l
}

func (l Loan) WithItemStatus(status ItemStatus) Loan {
	l.ItemStatus = status
	return l
}

func (l Loan) WithCheckoutServicePoint(id uuid.UUID) Loan {
	l.CheckoutServicePointID = id
	return l
}

// Renewed records a successful renewal.
func (l Loan) Renewed(due time.Time, policyID string) Loan {
	l.DueDate = due
	l.RenewalCount++
	l.PolicyID = policyID
	l.Action = ActionRenewed
	return l
}

// CheckedIn closes the loan.
func (l Loan) CheckedIn(returnDate time.Time, servicePointID uuid.UUID) Loan {
	l.ReturnDate = &returnDate
	l.Status = LoanClosed
	l.Action = ActionCheckedIn
	l.CheckinServicePointID = servicePointID
	return l
}

// Event types appended to the circulation history.
const (
	EventLoanCreated          = "LoanCreated"
	EventLoanRenewed          = "LoanRenewed"
	EventLoanClosed           = "LoanClosed"
	EventRequestPlaced        = "RequestPlaced"
	EventRequestStatusChanged = "RequestStatusChanged"
)

// LoanCreatedEvent is recorded when an item is checked out.
type LoanCreatedEvent struct {
	LoanID   uuid.UUID `json:"loan_id"`
	UserID   uuid.UUID `json:"user_id"`
	ItemID   uuid.UUID `json:"item_id"`
	PolicyID string    `json:"loan_policy_id"`
	LoanDate time.Time `json:"loan_date"`
	DueDate  time.Time `json:"due_date"`
}

// LoanRenewedEvent is recorded when a loan is renewed.
type LoanRenewedEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	PolicyID     string    `json:"loan_policy_id"`
	DueDate      time.Time `json:"due_date"`
	RenewalCount int       `json:"renewal_count"`
}

// LoanClosedEvent is recorded when an item is checked in.
type LoanClosedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	ItemID     uuid.UUID `json:"item_id"`
	ReturnDate time.Time `json:"return_date"`
}

// RequestPlacedEvent is recorded when a request joins a queue.
type RequestPlacedEvent struct {
	RequestID   uuid.UUID   `json:"request_id"`
	ItemID      uuid.UUID   `json:"item_id"`
	RequesterID uuid.UUID   `json:"requester_id"`
	Type        RequestType `json:"request_type"`
	Position    int         `json:"position"`
}

// RequestStatusChangedEvent is recorded when a request is promoted, filled or cancelled.
type RequestStatusChangedEvent struct {
	RequestID uuid.UUID     `json:"request_id"`
	ItemID    uuid.UUID     `json:"item_id"`
	Status    RequestStatus `json:"status"`
}
