package circulation

import (
	"errors"
	"fmt"
	"time"

	"circulus/internal/result"
)

const (
	loanDateOutsideSchedules    = "loan date falls outside of the date ranges in the loan policy"
	renewalDateOutsideSchedules = "renewal date falls outside of the date ranges in the loan policy"
	unrecognisedIntervalMessage = "the interval \"%s\" in the loan policy is not recognised"
	invalidDurationMessage      = "the duration \"%d\" in the loan policy is invalid"
	unrecognisedPeriodMessage   = "the loan period in the loan policy is not recognised"
	unrecognisedCheckOutProfile = "Item can't be checked out as profile \"%s\" in the loan policy is not recognised."
	unrecognisedRenewalProfile  = "Item can't be renewed as profile \"%s\" in the loan policy is not recognised."
)

// DueDateStrategy calculates the due date of a loan under one policy rule.
// The set of strategies is closed; see LoanPolicy.strategy.
type DueDateStrategy interface {
	CalculateDueDate(loan Loan, systemDate time.Time) (time.Time, error)
	dueDateStrategy()
}

type strategyPolicy struct {
	id   string
	name string
}

func (s strategyPolicy) validationError(message string) result.ValidationError {
	return result.ValidationError{
		Message: message,
		Parameters: map[string]string{
			"loanPolicyId":   s.id,
			"loanPolicyName": s.name,
		},
	}
}

func (s strategyPolicy) fail(message string) error {
	return result.ValidationErrors(s.validationError(message))
}

func (s strategyPolicy) periodFailure(err error) error {
	var interval *UnrecognisedIntervalError
	var duration *InvalidDurationError
	switch {
	case errors.As(err, &interval):
		return s.fail(fmt.Sprintf(unrecognisedIntervalMessage, interval.Interval))
	case errors.As(err, &duration):
		return s.fail(fmt.Sprintf(invalidDurationMessage, duration.Duration))
	default:
		return s.fail(unrecognisedPeriodMessage)
	}
}

type rollingCheckOutStrategy struct {
	strategyPolicy
	period    Period
	schedules FixedSchedules
}

func (s rollingCheckOutStrategy) CalculateDueDate(loan Loan, _ time.Time) (time.Time, error) {
	due, err := s.period.AddTo(loan.LoanDate)
	if err != nil {
		return time.Time{}, s.periodFailure(err)
	}
	truncated, ok := s.schedules.Truncate(due, loan.LoanDate)
	if !ok {
		return time.Time{}, s.fail(loanDateOutsideSchedules)
	}
	return truncated, nil
}

func (rollingCheckOutStrategy) dueDateStrategy() {}

type rollingRenewalStrategy struct {
	strategyPolicy
	renewFrom string
	period    Period
	schedules FixedSchedules
}

func (s rollingRenewalStrategy) CalculateDueDate(loan Loan, systemDate time.Time) (time.Time, error) {
	due, err := s.period.AddTo(s.baseDate(loan, systemDate))
	if err != nil {
		return time.Time{}, s.periodFailure(err)
	}
	truncated, ok := s.schedules.Truncate(due, systemDate)
	if !ok {
		return time.Time{}, s.fail(renewalDateOutsideSchedules)
	}
	return truncated, nil
}

func (s rollingRenewalStrategy) baseDate(loan Loan, systemDate time.Time) time.Time {
	switch s.renewFrom {
	case RenewFromSystemDate:
		return systemDate
	case RenewFromCurrentDueDate:
		return loan.DueDate
	default:
		return loan.LoanDate
	}
}

func (rollingRenewalStrategy) dueDateStrategy() {}

type fixedCheckOutStrategy struct {
	strategyPolicy
	schedules FixedSchedules
}

func (s fixedCheckOutStrategy) CalculateDueDate(loan Loan, _ time.Time) (time.Time, error) {
	match, ok := s.schedules.FindMatching(loan.LoanDate)
	if !ok {
		return time.Time{}, s.fail(loanDateOutsideSchedules)
	}
	return match.Due, nil
}

func (fixedCheckOutStrategy) dueDateStrategy() {}

type fixedRenewalStrategy struct {
	strategyPolicy
	schedules FixedSchedules
}

func (s fixedRenewalStrategy) CalculateDueDate(_ Loan, systemDate time.Time) (time.Time, error) {
	match, ok := s.schedules.FindMatching(systemDate)
	if !ok {
		return time.Time{}, s.fail(renewalDateOutsideSchedules)
	}
	return match.Due, nil
}

func (fixedRenewalStrategy) dueDateStrategy() {}

type unknownStrategy struct {
	strategyPolicy
	profile   string
	isRenewal bool
}

func (s unknownStrategy) CalculateDueDate(Loan, time.Time) (time.Time, error) {
	if s.isRenewal {
		return time.Time{}, s.fail(fmt.Sprintf(unrecognisedRenewalProfile, s.profile))
	}
	failure := result.ValidationErrors(s.validationError(fmt.Sprintf(unrecognisedCheckOutProfile, s.profile)))
	failure.Errors[0].Parameters["profileId"] = s.profile
	return time.Time{}, failure
}

func (unknownStrategy) dueDateStrategy() {}
