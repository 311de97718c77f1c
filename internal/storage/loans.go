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

type loanRow struct {
	ID                     uuid.UUID  `db:"id"`
	ItemID                 uuid.UUID  `db:"item_id"`
	UserID                 uuid.UUID  `db:"user_id"`
	LoanDate               time.Time  `db:"loan_date"`
	DueDate                time.Time  `db:"due_date"`
	ReturnDate             *time.Time `db:"return_date"`
	Status                 string     `db:"status"`
	Action                 string     `db:"action"`
	PolicyID               string     `db:"loan_policy_id"`
	RenewalCount           int        `db:"renewal_count"`
	ItemStatus             string     `db:"item_status"`
	CheckoutServicePointID uuid.UUID  `db:"checkout_service_point_id"`
	CheckinServicePointID  uuid.UUID  `db:"checkin_service_point_id"`
	Version                int        `db:"version"`
}

var loanColumns = []interface{}{
	"id", "item_id", "user_id", "loan_date", "due_date", "return_date", "status", "action",
	"loan_policy_id", "renewal_count", "item_status", "checkout_service_point_id",
	"checkin_service_point_id", "version",
}

func (r loanRow) toLoan() circulation.Loan {
	return circulation.Loan{
		ID:                     r.ID,
		ItemID:                 r.ItemID,
		UserID:                 r.UserID,
		LoanDate:               r.LoanDate,
		DueDate:                r.DueDate,
		ReturnDate:             r.ReturnDate,
		Status:                 circulation.LoanStatus(r.Status),
		Action:                 r.Action,
		PolicyID:               r.PolicyID,
		RenewalCount:           r.RenewalCount,
		ItemStatus:             circulation.ItemStatus(r.ItemStatus),
		CheckoutServicePointID: r.CheckoutServicePointID,
		CheckinServicePointID:  r.CheckinServicePointID,
		Version:                r.Version,
	}
}

func loanRecord(loan circulation.Loan) goqu.Record {
	return goqu.Record{
		"item_id":                   loan.ItemID.String(),
		"user_id":                   loan.UserID.String(),
		"loan_date":                 loan.LoanDate,
		"due_date":                  loan.DueDate,
		"return_date":               loan.ReturnDate,
		"status":                    string(loan.Status),
		"action":                    loan.Action,
		"loan_policy_id":            loan.PolicyID,
		"renewal_count":             loan.RenewalCount,
		"item_status":               string(loan.ItemStatus),
		"checkout_service_point_id": loan.CheckoutServicePointID.String(),
		"checkin_service_point_id":  loan.CheckinServicePointID.String(),
	}
}

func (s *Store) CreateLoan(ctx context.Context, loan circulation.Loan) (circulation.Loan, error) {
	record := loanRecord(loan)
	record["id"] = loan.ID.String()
	record["version"] = 1

	if _, err := s.exec(ctx, s.dialect.Insert(tableLoans).Prepared(true).Rows(record)); err != nil {
		return circulation.Loan{}, fmt.Errorf("failed to insert loan %s: %w", loan.ID, err)
	}
	loan.Version = 1
	return loan, nil
}

// UpdateLoan writes the loan if nobody else changed it since it was read.
func (s *Store) UpdateLoan(ctx context.Context, loan circulation.Loan) (circulation.Loan, error) {
	record := loanRecord(loan)
	record["version"] = loan.Version + 1
	record["updated_at"] = goqu.L("NOW()")

	affected, err := s.exec(ctx, s.dialect.Update(tableLoans).Prepared(true).
		Set(record).
		Where(goqu.C("id").Eq(loan.ID.String()), goqu.C("version").Eq(loan.Version)))
	if err != nil {
		return circulation.Loan{}, fmt.Errorf("failed to update loan %s: %w", loan.ID, err)
	}
	if affected == 0 {
		return circulation.Loan{}, result.Conflict("loan", loan.ID.String())
	}
	loan.Version++
	return loan, nil
}

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (circulation.Loan, error) {
	var row loanRow
	err := s.get(ctx, &row, s.dialect.From(tableLoans).Prepared(true).
		Select(loanColumns...).
		Where(goqu.C("id").Eq(id.String())))
	if isNoRows(err) {
		return circulation.Loan{}, result.NotFound("loan", id.String())
	}
	if err != nil {
		return circulation.Loan{}, fmt.Errorf("failed to get loan %s: %w", id, err)
	}
	return row.toLoan(), nil
}

func (s *Store) FindOpenLoans(ctx context.Context, itemID uuid.UUID) ([]circulation.Loan, error) {
	var rows []loanRow
	err := s.selectAll(ctx, &rows, s.dialect.From(tableLoans).Prepared(true).
		Select(loanColumns...).
		Where(goqu.C("item_id").Eq(itemID.String()), goqu.C("status").Eq(string(circulation.LoanOpen))).
		Order(goqu.C("loan_date").Asc()))
	if err != nil {
		return nil, fmt.Errorf("failed to find open loans for item %s: %w", itemID, err)
	}

	loans := make([]circulation.Loan, 0, len(rows))
	for _, row := range rows {
		loans = append(loans, row.toLoan())
	}
	return loans, nil
}
