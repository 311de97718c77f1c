package circulation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"circulus/internal/result"
)

const (
	servicePointRequiredMessage = "A Service Point must be specified."
	closedRequestMessage        = "Cannot edit a closed request"
	differentUserMessage        = "Cannot renew item checked out to different user"
	closedLoanMessage           = "Cannot renew a loan that is closed"
	userNotFoundMessage         = "user is not found"
)

// fieldCheck is a local validation that runs before any collaborator is called.
type fieldCheck struct {
	missing bool
	message string
	key     string
	value   string
}

// firstFailure returns the first failing check. Only renewal aggregates causes.
func firstFailure(checks ...fieldCheck) error {
	for _, c := range checks {
		if c.missing {
			return result.Validation(c.message, c.key, c.value)
		}
	}
	return nil
}

func validateCheckOut(req CheckOutRequest) error {
	return firstFailure(
		fieldCheck{req.ItemID == uuid.Nil, "Check out request must have an item ID", "itemId", ""},
		fieldCheck{req.UserID == uuid.Nil, "Check out request must have a user ID", "userId", ""},
		fieldCheck{req.LoanDate.IsZero(), "Check out request must have a loan date", "loanDate", ""},
		fieldCheck{req.ServicePointID == uuid.Nil, servicePointRequiredMessage, "servicePointId", ""},
	)
}

func validateCheckIn(req CheckInRequest) error {
	return firstFailure(
		fieldCheck{req.ItemBarcode == "", "Checkin request must have an item barcode", "itemBarcode", ""},
		fieldCheck{req.CheckInDate.IsZero(), "Checkin request must have a check in date", "checkInDate", ""},
		fieldCheck{req.ServicePointID == uuid.Nil, servicePointRequiredMessage, "servicePointId", ""},
	)
}

func validateRenewByBarcode(req RenewByBarcodeRequest) error {
	return firstFailure(
		fieldCheck{req.ItemBarcode == "", "Renewal request must have an item barcode", "itemBarcode", ""},
		fieldCheck{req.UserBarcode == "", "Renewal request must have a user barcode", "userBarcode", ""},
	)
}

func validateRenewByID(req RenewByIDRequest) error {
	return firstFailure(
		fieldCheck{req.ItemID == uuid.Nil, "Renewal request must have an item ID", "itemId", ""},
		fieldCheck{req.UserID == uuid.Nil, "Renewal request must have a user ID", "userId", ""},
	)
}

func validatePlaceRequest(req PlaceRequestRequest) error {
	validType := req.Type == RequestHold || req.Type == RequestRecall || req.Type == RequestPage
	validPreference := req.FulfilmentPreference == FulfilmentHoldShelf || req.FulfilmentPreference == FulfilmentDelivery
	return firstFailure(
		fieldCheck{req.ItemID == uuid.Nil, "Request must have an item ID", "itemId", ""},
		fieldCheck{req.RequesterID == uuid.Nil, "Request must have a requester ID", "requesterId", ""},
		fieldCheck{!validType, fmt.Sprintf("Request type %q is not recognised", req.Type), "requestType", string(req.Type)},
		fieldCheck{!validPreference, fmt.Sprintf("Fulfilment preference %q is not recognised", req.FulfilmentPreference),
			"fulfilmentPreference", string(req.FulfilmentPreference)},
	)
}

// notFoundAsValidation turns a missing record into a failure the patron can act on.
func notFoundAsValidation(err error, message, key, value string) error {
	var notFound *result.NotFoundFailure
	if errors.As(err, &notFound) {
		return result.Validation(message, key, value)
	}
	return err
}

// requestAllowed reports whether a request of this type can be placed on an
// item in the given status. Pages are for items on the shelf; holds and
// recalls are for items that are not.
func requestAllowed(requestType RequestType, status ItemStatus) bool {
	if requestType == RequestPage {
		return status == ItemAvailable
	}
	return status != ItemAvailable
}
