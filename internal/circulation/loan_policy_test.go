package circulation

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"circulus/internal/result"
)

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

func requireValidation(t testingT, err error) *result.ValidationFailure {
	t.Helper()
	var validation *result.ValidationFailure
	require.ErrorAs(t, err, &validation)
	return validation
}

func messages(f *result.ValidationFailure) []string {
	out := make([]string, 0, len(f.Errors))
	for _, e := range f.Errors {
		out = append(out, e.Message)
	}
	return out
}

func rollingPolicy(period Period) LoanPolicy {
	return LoanPolicy{
		ID:               "rolling-policy",
		Name:             "Example Rolling Loan Policy",
		Renewable:        true,
		Profile:          ProfileRolling,
		CheckoutPeriod:   period,
		CheckoutSchedule: NoFixedSchedules(),
		Renewals:         RenewalsPolicy{Unlimited: true, AlternateSchedule: NoFixedSchedules()},
	}
}

func fixedPolicy(schedules FixedSchedules) LoanPolicy {
	return LoanPolicy{
		ID:               "fixed-policy",
		Name:             "Example Fixed Due Date Loan Policy",
		Renewable:        true,
		Profile:          ProfileFixed,
		CheckoutSchedule: schedules,
		Renewals:         RenewalsPolicy{Unlimited: true, AlternateSchedule: NoFixedSchedules()},
	}
}

func loanAt(loanDate time.Time) Loan {
	return NewLoan(uuid.New(), uuid.New(), loanDate)
}

func TestCalculateInitialDueDate_RollingThreeWeeks(t *testing.T) {
	loan := loanAt(time.Date(2018, 3, 1, 13, 25, 46, 0, time.UTC))

	due, err := rollingPolicy(WeeksPeriod(3)).CalculateInitialDueDate(loan)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 3, 22, 13, 25, 46, 0, time.UTC), due)
}

func TestCalculateInitialDueDate_RollingTruncatedBySchedule(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.CheckoutSchedule = FixedSchedules{Schedules: []FixedSchedule{
		{From: day(2018, 1, 1), To: day(2018, 3, 31), Due: day(2018, 3, 15)},
	}}

	due, err := policy.CalculateInitialDueDate(loanAt(time.Date(2018, 3, 1, 13, 25, 46, 0, time.UTC)))

	require.NoError(t, err)
	assert.Equal(t, day(2018, 3, 15), due)
}

func TestCalculateInitialDueDate_RollingOutsideScheduleFails(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.CheckoutSchedule = FixedSchedules{Schedules: []FixedSchedule{
		{From: day(2018, 1, 1), To: day(2018, 1, 31), Due: day(2018, 2, 15)},
	}}

	_, err := policy.CalculateInitialDueDate(loanAt(day(2018, 3, 1)))

	validation := requireValidation(t, err)
	require.Len(t, validation.Errors, 1)
	assert.Equal(t, loanDateOutsideSchedules, validation.Errors[0].Message)
	assert.Equal(t, "rolling-policy", validation.Errors[0].Parameters["loanPolicyId"])
	assert.Equal(t, "Example Rolling Loan Policy", validation.Errors[0].Parameters["loanPolicyName"])
}

func TestCalculateInitialDueDate_Fixed(t *testing.T) {
	policy := fixedPolicy(FixedSchedules{Schedules: []FixedSchedule{
		{From: day(2018, 1, 1), To: day(2018, 12, 31), Due: day(2018, 12, 31)},
	}})

	due, err := policy.CalculateInitialDueDate(loanAt(time.Date(2018, 3, 1, 11, 43, 54, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, day(2018, 12, 31), due)

	_, err = policy.CalculateInitialDueDate(loanAt(day(2019, 1, 2)))
	assert.True(t, requireValidation(t, err).HasMessage(loanDateOutsideSchedules))
}

func TestCalculateInitialDueDate_PeriodFailures(t *testing.T) {
	tests := []struct {
		name    string
		period  Period
		message string
	}{
		{"unknown interval", Period{Duration: 2, Interval: "Fortnights"}, `the interval "Fortnights" in the loan policy is not recognised`},
		{"zero duration", Period{Duration: 0, Interval: Weeks}, `the duration "0" in the loan policy is invalid`},
		{"missing period", Period{}, unrecognisedPeriodMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rollingPolicy(tt.period).CalculateInitialDueDate(loanAt(day(2018, 3, 1)))
			assert.Equal(t, []string{tt.message}, messages(requireValidation(t, err)))
		})
	}
}

func TestCalculateInitialDueDate_UnknownProfile(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.Profile = "Indefinite"

	_, err := policy.CalculateInitialDueDate(loanAt(day(2018, 3, 1)))

	validation := requireValidation(t, err)
	require.Len(t, validation.Errors, 1)
	assert.Equal(t, `Item can't be checked out as profile "Indefinite" in the loan policy is not recognised.`, validation.Errors[0].Message)
	assert.Equal(t, "Indefinite", validation.Errors[0].Parameters["profileId"])
}

func TestRenew_NotRenewableIsTheOnlyCause(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.Renewable = false
	policy.Renewals = RenewalsPolicy{NumberAllowed: 0}

	loan := loanAt(day(2018, 3, 1)).WithDueDate(day(2030, 1, 1))

	_, err := policy.Renew(loan, day(2018, 3, 10))

	assert.Equal(t, []string{notRenewableMessage}, messages(requireValidation(t, err)))
}

func TestRenew_FromSystemDate(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.Renewals.RenewFrom = RenewFromSystemDate
	loan := loanAt(time.Date(2018, 3, 1, 13, 25, 46, 0, time.UTC)).
		WithDueDate(time.Date(2018, 3, 22, 13, 25, 46, 0, time.UTC))

	renewed, err := policy.Renew(loan, time.Date(2018, 3, 19, 9, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 4, 9, 9, 0, 0, 0, time.UTC), renewed.DueDate)
	assert.Equal(t, 1, renewed.RenewalCount)
	assert.Equal(t, ActionRenewed, renewed.Action)
	assert.Equal(t, "rolling-policy", renewed.PolicyID)
	assert.Equal(t, loan.ID, renewed.ID)
}

func TestRenew_FromCurrentDueDateWithDifferentPeriod(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.Renewals.RenewFrom = RenewFromCurrentDueDate
	policy.Renewals.DifferentPeriod = true
	policy.Renewals.Period = DaysPeriod(7)
	loan := loanAt(day(2018, 3, 1)).WithDueDate(day(2018, 3, 22))

	renewed, err := policy.Renew(loan, day(2018, 3, 20))

	require.NoError(t, err)
	assert.Equal(t, day(2018, 3, 29), renewed.DueDate)
}

func TestRenew_FromLoanDateDoesNotChangeDueDate(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	loan := loanAt(day(2018, 3, 1)).WithDueDate(day(2018, 3, 22))

	_, err := policy.Renew(loan, day(2018, 3, 20))

	assert.Equal(t, []string{dueDateUnchangedMessage}, messages(requireValidation(t, err)))
}

func TestRenew_LimitAndUnchangedDueDateCoOccur(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.Renewals = RenewalsPolicy{NumberAllowed: 2, AlternateSchedule: NoFixedSchedules()}
	loan := loanAt(day(2018, 3, 1)).WithDueDate(day(2018, 3, 22))
	loan.RenewalCount = 2

	_, err := policy.Renew(loan, day(2018, 3, 20))

	assert.ElementsMatch(t, []string{dueDateUnchangedMessage, renewalLimitReachedMessage}, messages(requireValidation(t, err)))
}

func TestRenew_RollingTruncatedByAlternateSchedule(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.Renewals.RenewFrom = RenewFromSystemDate
	policy.Renewals.DifferentPeriod = true
	policy.Renewals.Period = WeeksPeriod(4)
	policy.Renewals.AlternateSchedule = FixedSchedules{Schedules: []FixedSchedule{
		{From: day(2018, 3, 1), To: day(2018, 4, 30), Due: day(2018, 4, 1)},
	}}
	loan := loanAt(day(2018, 3, 1)).WithDueDate(day(2018, 3, 22))

	renewed, err := policy.Renew(loan, day(2018, 3, 20))
	require.NoError(t, err)
	assert.Equal(t, day(2018, 4, 1), renewed.DueDate)

	_, err = policy.Renew(loan, day(2018, 5, 2))
	assert.True(t, requireValidation(t, err).HasMessage(renewalDateOutsideSchedules))
}

func TestRenew_FixedUsesSystemDate(t *testing.T) {
	policy := fixedPolicy(FixedSchedules{Schedules: []FixedSchedule{
		{From: day(2018, 1, 1), To: day(2018, 6, 30), Due: day(2018, 7, 15)},
		{From: day(2018, 7, 1), To: day(2018, 12, 31), Due: day(2019, 1, 15)},
	}})
	loan := loanAt(day(2018, 3, 1)).WithDueDate(day(2018, 7, 15))

	renewed, err := policy.Renew(loan, day(2018, 7, 10))

	require.NoError(t, err)
	assert.Equal(t, day(2019, 1, 15), renewed.DueDate)
}

func TestRenew_FixedWithDifferentPeriodAndNoAlternateScheduleFails(t *testing.T) {
	policy := fixedPolicy(FixedSchedules{Schedules: []FixedSchedule{
		{From: day(2018, 1, 1), To: day(2018, 12, 31), Due: day(2018, 12, 31)},
	}})
	policy.Renewals.DifferentPeriod = true
	loan := loanAt(day(2018, 3, 1)).WithDueDate(day(2018, 4, 1))

	_, err := policy.Renew(loan, day(2018, 3, 20))

	assert.Equal(t, []string{renewalDateOutsideSchedules}, messages(requireValidation(t, err)))
}

func TestRenew_UnknownProfile(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	policy.Profile = ""

	_, err := policy.Renew(loanAt(day(2018, 3, 1)).WithDueDate(day(2018, 3, 22)), day(2018, 3, 20))

	assert.True(t, requireValidation(t, err).HasMessage(`Item can't be renewed as profile "" in the loan policy is not recognised.`))
}

func TestForItemOnHold(t *testing.T) {
	policy := rollingPolicy(WeeksPeriod(3))
	assert.Equal(t, policy, policy.ForItemOnHold(), "no alternate period configured")

	policy.AlternateCheckoutPeriodOnHold = DaysPeriod(7)
	due, err := policy.ForItemOnHold().CalculateInitialDueDate(loanAt(day(2018, 3, 1)))
	require.NoError(t, err)
	assert.Equal(t, day(2018, 3, 8), due)

	fixed := fixedPolicy(NoFixedSchedules())
	fixed.AlternateCheckoutPeriodOnHold = DaysPeriod(7)
	assert.Equal(t, fixed, fixed.ForItemOnHold(), "only rolling policies shorten")
}

func TestParseLoanPolicy(t *testing.T) {
	doc := []byte(`{
	  "id": "policy-1",
	  "name": "Rolling with holds",
	  "renewable": true,
	  "loansPolicy": {"profileId": "Rolling", "period": {"duration": 3, "intervalId": "Weeks"}, "fixedDueDateScheduleId": "limit"},
	  "renewalsPolicy": {"renewFromId": "SYSTEM_DATE", "differentPeriod": true, "period": {"duration": 2, "intervalId": "Weeks"},
	    "alternateFixedDueDateScheduleId": "alt", "numberAllowed": 3},
	  "requestManagement": {"holds": {"alternateCheckoutLoanPeriod": {"duration": 1, "intervalId": "Weeks"}}}
	}`)

	policy, err := ParseLoanPolicy(doc)

	require.NoError(t, err)
	assert.Equal(t, "policy-1", policy.ID)
	assert.True(t, policy.Renewable)
	assert.Equal(t, ProfileRolling, policy.Profile)
	assert.Equal(t, WeeksPeriod(3), policy.CheckoutPeriod)
	assert.Equal(t, RenewFromSystemDate, policy.Renewals.RenewFrom)
	assert.Equal(t, WeeksPeriod(2), policy.Renewals.Period)
	assert.Equal(t, 3, policy.Renewals.NumberAllowed)
	assert.False(t, policy.Renewals.Unlimited)
	assert.Equal(t, WeeksPeriod(1), policy.AlternateCheckoutPeriodOnHold)
	assert.Equal(t, []string{"limit", "alt"}, policy.ScheduleIDs())

	attached := policy.WithSchedules(map[string]FixedSchedules{"limit": {ID: "limit", Schedules: []FixedSchedule{{}}}})
	assert.Equal(t, "limit", attached.CheckoutSchedule.ID)
	assert.True(t, attached.Renewals.AlternateSchedule.IsEmpty())
}

func TestParseLoanPolicy_WithoutLoansPolicyIsUnknownProfile(t *testing.T) {
	policy, err := ParseLoanPolicy([]byte(`{"id": "bare", "name": "Bare"}`))
	require.NoError(t, err)

	_, err = policy.CalculateInitialDueDate(loanAt(day(2018, 3, 1)))
	assert.True(t, requireValidation(t, err).HasMessage(`Item can't be checked out as profile "" in the loan policy is not recognised.`))
}

func TestParseFixedSchedules_RejectsBadDates(t *testing.T) {
	_, err := ParseFixedSchedules([]byte(`{"id": "s", "schedules": [{"from": "yesterday", "to": "2018-12-31T23:59:59Z", "due": "2018-12-31T23:59:59Z"}]}`))
	assert.Error(t, err)

	_, err = ParseFixedSchedules([]byte(`not json`))
	assert.Error(t, err)
}

var intervals = []string{Minutes, Hours, Days, Weeks, Months, Years}

func genTime() *rapid.Generator[time.Time] {
	return rapid.Custom(func(t *rapid.T) time.Time {
		return time.Date(
			rapid.IntRange(2000, 2040).Draw(t, "year"),
			time.Month(rapid.IntRange(1, 12).Draw(t, "month")),
			rapid.IntRange(1, 28).Draw(t, "day"),
			rapid.IntRange(0, 23).Draw(t, "hour"),
			rapid.IntRange(0, 59).Draw(t, "minute"),
			0, 0, time.UTC)
	})
}

func genPeriod() *rapid.Generator[Period] {
	return rapid.Custom(func(t *rapid.T) Period {
		return Period{
			Duration: rapid.IntRange(1, 60).Draw(t, "duration"),
			Interval: rapid.SampledFrom(intervals).Draw(t, "interval"),
		}
	})
}

func TestProperty_NotRenewableAlwaysFailsWithOneCause(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := rollingPolicy(genPeriod().Draw(t, "period"))
		policy.Renewable = false
		policy.Renewals.Unlimited = rapid.Bool().Draw(t, "unlimited")

		loan := loanAt(genTime().Draw(t, "loanDate")).WithDueDate(genTime().Draw(t, "dueDate"))
		loan.RenewalCount = rapid.IntRange(0, 10).Draw(t, "renewals")

		_, err := policy.Renew(loan, genTime().Draw(t, "systemDate"))

		if got := messages(requireValidation(t, err)); len(got) != 1 || got[0] != notRenewableMessage {
			t.Fatalf("unexpected causes %v", got)
		}
	})
}

func TestProperty_RollingCheckOutAddsPeriod(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		period := genPeriod().Draw(t, "period")
		loanDate := genTime().Draw(t, "loanDate")

		due, err := rollingPolicy(period).CalculateInitialDueDate(loanAt(loanDate))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want, _ := period.AddTo(loanDate)
		if !due.Equal(want) {
			t.Fatalf("%s + %s = %s, want %s", loanDate, period, due, want)
		}
	})
}

func TestProperty_TruncationIsMinimum(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		period := genPeriod().Draw(t, "period")
		loanDate := genTime().Draw(t, "loanDate")
		limit := loanDate.AddDate(0, 0, rapid.IntRange(0, 400).Draw(t, "limitDays"))

		policy := rollingPolicy(period)
		policy.CheckoutSchedule = FixedSchedules{Schedules: []FixedSchedule{
			{From: loanDate.AddDate(0, 0, -1), To: loanDate.AddDate(0, 0, 1), Due: limit},
		}}

		due, err := policy.CalculateInitialDueDate(loanAt(loanDate))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rolling, _ := period.AddTo(loanDate)
		want := rolling
		if limit.Before(rolling) {
			want = limit
		}
		if !due.Equal(want) {
			t.Fatalf("got %s, want min(%s, %s)", due, rolling, limit)
		}
	})
}

func TestProperty_DueDateUnchangedRule(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := rollingPolicy(DaysPeriod(rapid.IntRange(1, 30).Draw(t, "days")))
		policy.Renewals.RenewFrom = RenewFromSystemDate
		systemDate := genTime().Draw(t, "systemDate")
		proposed, _ := policy.CheckoutPeriod.AddTo(systemDate)

		offset := time.Duration(rapid.IntRange(-72, 72).Draw(t, "offsetHours")) * time.Hour
		loan := loanAt(systemDate.AddDate(0, 0, -10)).WithDueDate(proposed.Add(offset))

		_, err := policy.Renew(loan, systemDate)

		unchanged := false
		if err != nil {
			unchanged = requireValidation(t, err).HasMessage(dueDateUnchangedMessage)
		}
		if want := !proposed.After(loan.DueDate); unchanged != want {
			t.Fatalf("proposed %s current %s: unchanged cause %v, want %v", proposed, loan.DueDate, unchanged, want)
		}
	})
}

func TestProperty_RenewalLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		allowed := rapid.IntRange(0, 5).Draw(t, "allowed")
		count := rapid.IntRange(0, 8).Draw(t, "count")

		policy := rollingPolicy(WeeksPeriod(3))
		policy.Renewals.Unlimited = false
		policy.Renewals.NumberAllowed = allowed
		loan := loanAt(day(2018, 3, 1)).WithDueDate(day(2018, 3, 22))
		loan.RenewalCount = count

		_, err := policy.Renew(loan, day(2018, 3, 20))

		// Renewing from the loan date never changes the due date here.
		failure := requireValidation(t, err)
		if got, want := failure.HasMessage(renewalLimitReachedMessage), count >= allowed; got != want {
			t.Fatalf("%d of %d renewals: limit cause %v, want %v (%s)", count, allowed, got, want, fmt.Sprint(messages(failure)))
		}
		if !failure.HasMessage(dueDateUnchangedMessage) {
			t.Fatalf("missing unchanged cause: %v", messages(failure))
		}
	})
}
