// Package resync drives the backlog of conventions whose partner broadcast
// needs to be replayed, typically after a partner outage or a mapping fix.
package resync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"conventionflow/broadcast"
)

// Status is the processing state of one backlog row. SUCCESS is terminal:
// nothing transitions a row out of it.
type Status string

const (
	StatusToProcess Status = "TO_PROCESS"
	StatusSuccess   Status = "SUCCESS"
	StatusError     Status = "ERROR"
	StatusSkip      Status = "SKIP"
)

// ErrNotInBacklog is returned when a convention has no backlog row.
var ErrNotInBacklog = errors.New("resync: convention not in backlog")

// ConventionToSync is one backlog row.
type ConventionToSync struct {
	ConventionID string
	Status       Status
	ProcessDate  *time.Time
	Reason       *string
}

// Repository persists the backlog. It also implements broadcast.SyncRecorder
// so the gateway reflects live outcomes onto backlog rows as they happen.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MarkToProcess enqueues a convention, resetting any previous outcome.
func (r *Repository) MarkToProcess(ctx context.Context, conventionID string) error {
	const upsertSQL = `
INSERT INTO conventions_to_sync (convention_id, status, process_date, reason)
VALUES ($1, 'TO_PROCESS', NULL, NULL)
ON CONFLICT (convention_id)
DO UPDATE SET status = 'TO_PROCESS', process_date = NULL, reason = NULL
`
	if _, err := r.pool.Exec(ctx, upsertSQL, conventionID); err != nil {
		return fmt.Errorf("resync: mark to process: %w", err)
	}
	return nil
}

// Get returns one backlog row.
func (r *Repository) Get(ctx context.Context, conventionID string) (ConventionToSync, error) {
	const getSQL = `
SELECT convention_id, status, process_date, reason
FROM conventions_to_sync
WHERE convention_id = $1
`
	var row ConventionToSync
	err := r.pool.QueryRow(ctx, getSQL, conventionID).
		Scan(&row.ConventionID, &row.Status, &row.ProcessDate, &row.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConventionToSync{}, ErrNotInBacklog
		}
		return ConventionToSync{}, fmt.Errorf("resync: get backlog row: %w", err)
	}
	return row, nil
}

// ListToProcessOrErrored returns the rows the job should drive, oldest first.
// SUCCESS and SKIP rows are never returned.
func (r *Repository) ListToProcessOrErrored(ctx context.Context, limit int) ([]ConventionToSync, error) {
	const listSQL = `
SELECT convention_id, status, process_date, reason
FROM conventions_to_sync
WHERE status IN ('TO_PROCESS', 'ERROR')
ORDER BY process_date NULLS FIRST, convention_id
LIMIT $1
`
	rows, err := r.pool.Query(ctx, listSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("resync: list backlog: %w", err)
	}
	defer rows.Close()

	var out []ConventionToSync
	for rows.Next() {
		var row ConventionToSync
		if err := rows.Scan(&row.ConventionID, &row.Status, &row.ProcessDate, &row.Reason); err != nil {
			return nil, fmt.Errorf("resync: scan backlog row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RecordOutcome reflects a broadcast outcome onto the backlog row. Update
// only: conventions outside the backlog are untouched, and SUCCESS rows stay
// SUCCESS whatever happens later.
func (r *Repository) RecordOutcome(ctx context.Context, conventionID string, outcome broadcast.Outcome, at time.Time) error {
	status, reason := classify(outcome)

	const updateSQL = `
UPDATE conventions_to_sync
SET status = $2, process_date = $3, reason = $4
WHERE convention_id = $1 AND status <> 'SUCCESS'
`
	if _, err := r.pool.Exec(ctx, updateSQL, conventionID, status, at, reason); err != nil {
		return fmt.Errorf("resync: record outcome: %w", err)
	}
	return nil
}

// RecordError marks a row ERROR with the failure reason.
func (r *Repository) RecordError(ctx context.Context, conventionID string, at time.Time, reason string) error {
	const updateSQL = `
UPDATE conventions_to_sync
SET status = 'ERROR', process_date = $2, reason = $3
WHERE convention_id = $1 AND status <> 'SUCCESS'
`
	if _, err := r.pool.Exec(ctx, updateSQL, conventionID, at, reason); err != nil {
		return fmt.Errorf("resync: record error: %w", err)
	}
	return nil
}

func classify(outcome broadcast.Outcome) (Status, *string) {
	switch outcome.Kind {
	case broadcast.OutcomeDelivered:
		return StatusSuccess, nil
	case broadcast.OutcomeSkipped, broadcast.OutcomeDropped:
		reason := outcome.Reason
		if reason == "" {
			reason = "no broadcast route"
		}
		return StatusSkip, &reason
	default:
		reason := outcome.Reason
		if outcome.HTTPStatus != 0 {
			reason = fmt.Sprintf("partner returned %d: %s", outcome.HTTPStatus, outcome.Reason)
		}
		return StatusError, &reason
	}
}
