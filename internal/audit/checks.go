package audit

import (
	"context"
)

// RegisterChecks registers the stored-record checks for loans and request queues.
func (a *Auditor) RegisterChecks() {
	a.Register(a.QueuePositionsDenseCheck())
	a.Register(a.SingleOpenLoanCheck())
	a.Register(a.ClosedRequestsUnpositionedCheck())
	a.Register(a.DueAfterLoanDateCheck())
}

func (a *Auditor) count(query string) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		var n float64
		err := a.db.QueryRowContext(ctx, query).Scan(&n)
		return n, err
	}
}

// QueuePositionsDenseCheck counts items whose open requests are not numbered 1..n.
func (a *Auditor) QueuePositionsDenseCheck() Check {
	return Check{
		Name:        "queue_positions_dense",
		Description: "Open requests for an item hold positions 1..n without gaps or duplicates",
		Query: a.count(`
			SELECT COUNT(*) FROM (
				SELECT item_id FROM requests
				WHERE status LIKE 'Open%'
				GROUP BY item_id
				HAVING MIN(position) <> 1
					OR MAX(position) <> COUNT(*)
					OR COUNT(DISTINCT position) <> COUNT(*)
					OR COUNT(position) <> COUNT(*)
			) broken_queues
		`),
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// SingleOpenLoanCheck counts items that have more than one open loan.
func (a *Auditor) SingleOpenLoanCheck() Check {
	return Check{
		Name:        "single_open_loan",
		Description: "An item has at most one open loan",
		Query: a.count(`
			SELECT COUNT(*) FROM (
				SELECT item_id FROM loans
				WHERE status = 'Open'
				GROUP BY item_id
				HAVING COUNT(*) > 1
			) double_loaned
		`),
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (a *Auditor) ClosedRequestsUnpositionedCheck() Check {
	return Check{
		Name:        "closed_requests_unpositioned",
		Description: "Closed requests have left their queue",
		Query: a.count(`
			SELECT COUNT(*) FROM requests
			WHERE status LIKE 'Closed%' AND position IS NOT NULL
		`),
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (a *Auditor) DueAfterLoanDateCheck() Check {
	return Check{
		Name:        "due_after_loan_date",
		Description: "A loan is never due before it was made",
		Query: a.count(`
			SELECT COUNT(*) FROM loans WHERE due_date < loan_date
		`),
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}
