// Package audit periodically checks the circulation tables for states the
// transactions should never leave behind.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"circulus/internal/metrics"
)

// Check is a single measurable property of the stored records.
type Check struct {
	Name        string
	Description string
	Query       func(context.Context) (float64, error)
	Threshold   Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold. Unknown operators never hold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

type Violation struct {
	Check     string    `json:"check"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckError struct {
	Timestamp time.Time `json:"timestamp"`
	Check     string    `json:"check"`
	Error     string    `json:"error"`
}

// Report captures one pass over every registered check.
type Report struct {
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Passed     bool          `json:"passed"`
	Checked    int           `json:"checked"`
	Violations []Violation   `json:"violations"`
	Errors     []CheckError  `json:"errors"`
}

type Auditor struct {
	tracer  trace.Tracer
	db      *sql.DB
	logger  *zap.Logger
	now     func() time.Time
	checks  []Check
	reports []Report
	mu      sync.Mutex
}

func NewAuditor(db *sql.DB, logger *zap.Logger) *Auditor {
	return &Auditor{
		tracer: otel.Tracer("circulus/internal/audit"),
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (a *Auditor) Register(check Check) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, check)
}

func (a *Auditor) Checks() []Check {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Check(nil), a.checks...)
}

// Reports returns the reports of earlier runs, oldest first.
func (a *Auditor) Reports() []Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Report(nil), a.reports...)
}

// Run evaluates every registered check once. A check whose query fails is
// recorded as an error and counts against the run.
func (a *Auditor) Run(ctx context.Context) Report {
	ctx, span := a.tracer.Start(ctx, "audit.run")
	defer span.End()

	checks := a.Checks()
	report := Report{
		StartTime:  a.now(),
		Checked:    len(checks),
		Violations: make([]Violation, 0),
		Errors:     make([]CheckError, 0),
	}

	for _, check := range checks {
		value, err := check.Query(ctx)
		if err != nil {
			span.RecordError(err)
			report.Errors = append(report.Errors, CheckError{Timestamp: a.now(), Check: check.Name, Error: err.Error()})
			a.logger.Error("audit check failed", zap.String("check", check.Name), zap.Error(err))
			metrics.RecordAudit(check.Name, 0, false)
			continue
		}

		held := check.Threshold.Holds(value)
		if !held {
			report.Violations = append(report.Violations, Violation{
				Check:     check.Name,
				Expected:  check.Threshold.Value,
				Actual:    value,
				Timestamp: a.now(),
			})
			a.logger.Warn("audit check violated",
				zap.String("check", check.Name),
				zap.String("description", check.Description),
				zap.Float64("actual", value),
				zap.String("expected", fmt.Sprintf("%s %v", check.Threshold.Operator, check.Threshold.Value)),
			)
		}
		metrics.RecordAudit(check.Name, int(value), held)
	}

	report.Passed = len(report.Violations) == 0 && len(report.Errors) == 0
	report.EndTime = a.now()
	report.Duration = report.EndTime.Sub(report.StartTime)

	a.mu.Lock()
	a.reports = append(a.reports, report)
	a.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("audit.passed", report.Passed),
		attribute.Int("audit.violations", len(report.Violations)),
	)
	return report
}
