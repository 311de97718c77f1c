package storage

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"circulus/internal/circulation"
	"circulus/internal/result"
)

type documentRow struct {
	ID       string `db:"id"`
	Document []byte `db:"document"`
}

// GetLoanPolicy loads a policy document and then, in a second query, every
// fixed schedule it refers to.
func (s *Store) GetLoanPolicy(ctx context.Context, id string) (circulation.LoanPolicy, error) {
	var row documentRow
	err := s.get(ctx, &row, s.dialect.From(tablePolicies).Prepared(true).
		Select("id", "document").
		Where(goqu.C("id").Eq(id)))
	if isNoRows(err) {
		return circulation.LoanPolicy{}, result.NotFound("loan policy", id)
	}
	if err != nil {
		return circulation.LoanPolicy{}, fmt.Errorf("failed to get loan policy %s: %w", id, err)
	}

	policy, err := circulation.ParseLoanPolicy(row.Document)
	if err != nil {
		return circulation.LoanPolicy{}, result.ServerFrom(fmt.Errorf("failed to parse loan policy %s: %w", id, err))
	}
	if policy.ID == "" {
		policy.ID = row.ID
	}

	schedules, err := s.findFixedSchedules(ctx, policy.ScheduleIDs())
	if err != nil {
		return circulation.LoanPolicy{}, err
	}
	return policy.WithSchedules(schedules), nil
}

func (s *Store) findFixedSchedules(ctx context.Context, ids []string) (map[string]circulation.FixedSchedules, error) {
	found := make(map[string]circulation.FixedSchedules, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var rows []documentRow
	err := s.selectAll(ctx, &rows, s.dialect.From(tableSchedules).Prepared(true).
		Select("id", "document").
		Where(goqu.C("id").In(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to find fixed due date schedules: %w", err)
	}

	for _, row := range rows {
		schedules, err := circulation.ParseFixedSchedules(row.Document)
		if err != nil {
			return nil, result.ServerFrom(err)
		}
		if schedules.ID == "" {
			schedules.ID = row.ID
		}
		found[row.ID] = schedules
	}
	return found, nil
}
