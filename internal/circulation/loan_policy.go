package circulation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"circulus/internal/result"
)

// Loan profiles.
const (
	ProfileRolling = "Rolling"
	ProfileFixed   = "Fixed"
)

// Reference dates a rolling renewal can be calculated from. Anything else
// renews from the original loan date.
const (
	RenewFromSystemDate     = "SYSTEM_DATE"
	RenewFromCurrentDueDate = "CURRENT_DUE_DATE"
)

const (
	notRenewableMessage        = "items with this loan policy cannot be renewed"
	dueDateUnchangedMessage    = "renewal at this time would not change the due date"
	renewalLimitReachedMessage = "loan has reached its maximum number of renewals"
)

// RenewalsPolicy configures how a loan is renewed.
type RenewalsPolicy struct {
	RenewFrom           string
	DifferentPeriod     bool
	Period              Period
	AlternateScheduleID string
	AlternateSchedule   FixedSchedules
	Unlimited           bool
	NumberAllowed       int
}

// LoanPolicy decides the due date of new and renewed loans. A policy is only
// usable once its fixed schedules have been attached.
type LoanPolicy struct {
	ID                 string
	Name               string
	Renewable          bool
	Profile            string
	CheckoutPeriod     Period
	CheckoutScheduleID string
	CheckoutSchedule   FixedSchedules
	Renewals           RenewalsPolicy

	// AlternateCheckoutPeriodOnHold replaces CheckoutPeriod for rolling
	// policies while the item has an outstanding hold.
	AlternateCheckoutPeriodOnHold Period
}

// CalculateInitialDueDate returns the due date of a new loan.
func (p LoanPolicy) CalculateInitialDueDate(loan Loan) (time.Time, error) {
	return result.Of(func() (time.Time, error) {
		return p.strategy(false).CalculateDueDate(loan, loan.LoanDate)
	}).Unwrap()
}

// Renew extends the loan, or fails with every reason it cannot be renewed.
func (p LoanPolicy) Renew(loan Loan, systemDate time.Time) (Loan, error) {
	return result.Of(func() (Loan, error) { return p.renew(loan, systemDate) }).Unwrap()
}

func (p LoanPolicy) renew(loan Loan, systemDate time.Time) (Loan, error) {
	policy := p.strategyPolicy()
	if !p.Renewable {
		return Loan{}, policy.fail(notRenewableMessage)
	}

	var errs []result.ValidationError

	proposed, err := p.strategy(true).CalculateDueDate(loan, systemDate)
	if err != nil {
		var validation *result.ValidationFailure
		if !errors.As(err, &validation) {
			return Loan{}, err
		}
		errs = append(errs, validation.Errors...)
	} else if !proposed.After(loan.DueDate) {
		errs = append(errs, policy.validationError(dueDateUnchangedMessage))
	}

	if p.reachedRenewalLimit(loan) {
		errs = append(errs, policy.validationError(renewalLimitReachedMessage))
	}

	if len(errs) > 0 {
		return Loan{}, result.ValidationErrors(errs...)
	}
	return loan.Renewed(proposed, p.ID), nil
}

func (p LoanPolicy) reachedRenewalLimit(loan Loan) bool {
	return !p.Renewals.Unlimited && loan.RenewalCount >= p.Renewals.NumberAllowed
}

// ForItemOnHold returns the policy to use when checking out an item that
// other patrons are waiting for.
func (p LoanPolicy) ForItemOnHold() LoanPolicy {
	if !p.isProfile(ProfileRolling) || p.AlternateCheckoutPeriodOnHold.IsZero() {
		return p
	}
	p.CheckoutPeriod = p.AlternateCheckoutPeriodOnHold
	return p
}

func (p LoanPolicy) strategyPolicy() strategyPolicy {
	return strategyPolicy{id: p.ID, name: p.Name}
}

func (p LoanPolicy) isProfile(profile string) bool {
	return strings.EqualFold(p.Profile, profile)
}

// strategy selects the due date rule from the profile alone.
func (p LoanPolicy) strategy(isRenewal bool) DueDateStrategy {
	policy := p.strategyPolicy()

	switch {
	case p.isProfile(ProfileRolling) && isRenewal:
		return rollingRenewalStrategy{
			strategyPolicy: policy,
			renewFrom:      p.Renewals.RenewFrom,
			period:         p.renewalPeriod(),
			schedules:      p.renewalLimitSchedules(),
		}
	case p.isProfile(ProfileRolling):
		return rollingCheckOutStrategy{
			strategyPolicy: policy,
			period:         p.CheckoutPeriod,
			schedules:      p.CheckoutSchedule,
		}
	case p.isProfile(ProfileFixed) && isRenewal:
		return fixedRenewalStrategy{strategyPolicy: policy, schedules: p.renewalSchedules()}
	case p.isProfile(ProfileFixed):
		return fixedCheckOutStrategy{strategyPolicy: policy, schedules: p.CheckoutSchedule}
	default:
		return unknownStrategy{strategyPolicy: policy, profile: p.Profile, isRenewal: isRenewal}
	}
}

func (p LoanPolicy) renewalPeriod() Period {
	if p.Renewals.DifferentPeriod {
		return p.Renewals.Period
	}
	return p.CheckoutPeriod
}

func (p LoanPolicy) renewalLimitSchedules() FixedSchedules {
	if p.Renewals.DifferentPeriod && !p.Renewals.AlternateSchedule.IsEmpty() {
		return p.Renewals.AlternateSchedule
	}
	return p.CheckoutSchedule
}

func (p LoanPolicy) renewalSchedules() FixedSchedules {
	if p.Renewals.DifferentPeriod {
		return p.Renewals.AlternateSchedule
	}
	return p.CheckoutSchedule
}

// ScheduleIDs lists the fixed schedules the policy refers to.
func (p LoanPolicy) ScheduleIDs() []string {
	var ids []string
	for _, id := range []string{p.CheckoutScheduleID, p.Renewals.AlternateScheduleID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// WithSchedules attaches fetched schedules by id. References that cannot be
// resolved are attached as NoFixedSchedules.
func (p LoanPolicy) WithSchedules(schedules map[string]FixedSchedules) LoanPolicy {
	p.CheckoutSchedule = lookupSchedules(schedules, p.CheckoutScheduleID)
	p.Renewals.AlternateSchedule = lookupSchedules(schedules, p.Renewals.AlternateScheduleID)
	return p
}

func lookupSchedules(schedules map[string]FixedSchedules, id string) FixedSchedules {
	if s, ok := schedules[id]; ok && id != "" {
		return s
	}
	return NoFixedSchedules()
}

// ParseLoanPolicy reads a stored loan policy document. Schedules are not
// attached; see WithSchedules.
func ParseLoanPolicy(doc []byte) (LoanPolicy, error) {
	if !gjson.ValidBytes(doc) {
		return LoanPolicy{}, errors.New("invalid loan policy document")
	}
	parsed := gjson.ParseBytes(doc)

	policy := LoanPolicy{
		ID:               parsed.Get("id").String(),
		Name:             parsed.Get("name").String(),
		Renewable:        parsed.Get("renewable").Bool(),
		CheckoutSchedule: NoFixedSchedules(),
		Renewals:         RenewalsPolicy{AlternateSchedule: NoFixedSchedules()},
	}

	if loans := parsed.Get("loansPolicy"); loans.Exists() {
		policy.Profile = loans.Get("profileId").String()
		policy.CheckoutPeriod = parsePeriod(loans.Get("period"))
		policy.CheckoutScheduleID = loans.Get("fixedDueDateScheduleId").String()
	}

	if renewals := parsed.Get("renewalsPolicy"); renewals.Exists() {
		policy.Renewals.RenewFrom = renewals.Get("renewFromId").String()
		policy.Renewals.DifferentPeriod = renewals.Get("differentPeriod").Bool()
		policy.Renewals.Period = parsePeriod(renewals.Get("period"))
		policy.Renewals.AlternateScheduleID = renewals.Get("alternateFixedDueDateScheduleId").String()
		policy.Renewals.Unlimited = renewals.Get("unlimited").Bool()
		policy.Renewals.NumberAllowed = int(renewals.Get("numberAllowed").Int())
	}

	policy.AlternateCheckoutPeriodOnHold = parsePeriod(parsed.Get("requestManagement.holds.alternateCheckoutLoanPeriod"))

	return policy, nil
}

func parsePeriod(doc gjson.Result) Period {
	if !doc.Exists() {
		return Period{}
	}
	return Period{
		Duration: int(doc.Get("duration").Int()),
		Interval: doc.Get("intervalId").String(),
	}
}

// ParseFixedSchedules reads a stored fixed due date schedule document.
func ParseFixedSchedules(doc []byte) (FixedSchedules, error) {
	if !gjson.ValidBytes(doc) {
		return FixedSchedules{}, errors.New("invalid fixed due date schedule document")
	}
	parsed := gjson.ParseBytes(doc)

	schedules := FixedSchedules{
		ID:   parsed.Get("id").String(),
		Name: parsed.Get("name").String(),
	}

	var parseErr error
	parsed.Get("schedules").ForEach(func(_, s gjson.Result) bool {
		var schedule FixedSchedule
		for field, target := range map[string]*time.Time{"from": &schedule.From, "to": &schedule.To, "due": &schedule.Due} {
			t, err := time.Parse(time.RFC3339, s.Get(field).String())
			if err != nil {
				parseErr = fmt.Errorf("failed to parse schedule %q of %s: %w", field, schedules.ID, err)
				return false
			}
			*target = t
		}
		schedules.Schedules = append(schedules.Schedules, schedule)
		return true
	})
	if parseErr != nil {
		return FixedSchedules{}, parseErr
	}

	return schedules, nil
}
