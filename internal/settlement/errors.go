package settlement

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Errors returned by the state machine. Callers match them with errors.Is;
// the wrapped message carries the detail.
var (
	ErrValidation             = errors.New("validation failed")
	ErrPreconditionFailed     = errors.New("precondition failed")
	ErrConcurrentModification = errors.New("concurrent modification, re-fetch and retry")
	ErrNotFound               = errors.New("adjustment not found")
)

const (
	constraintReportID  = "weight_adjustments_external_report_id_key"
	constraintOpenOrder = "weight_adjustments_open_order_idx"
)

// isUniqueViolation checks for a PostgreSQL unique violation (23505) on the
// named constraint or index.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}
