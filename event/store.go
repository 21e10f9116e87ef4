package event

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"conventionflow/identity"
)

// Store persists domain events to the transactional outbox. Append runs
// inside the caller's transaction so the event commits with the mutation that
// caused it.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts the event into the outbox within the active transaction.
func (s *Store) Append(ctx context.Context, tx pgx.Tx, evt DomainEvent) error {
	if evt.ID == "" {
		return fmt.Errorf("event: append requires an event id")
	}
	if !evt.Topic.Valid() {
		return fmt.Errorf("event: append with unknown topic %q", evt.Topic)
	}

	triggeredBy, err := identity.EncodeTriggeredBy(evt.TriggeredBy)
	if err != nil {
		return err
	}

	const insertSQL = `
INSERT INTO outbox (id, topic, occurred_at, payload, triggered_by, status)
VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)
`
	if _, err := tx.Exec(ctx, insertSQL,
		evt.ID, string(evt.Topic), evt.OccurredAt, []byte(evt.Payload), triggeredBy, string(evt.Status),
	); err != nil {
		return fmt.Errorf("event: append outbox: %w", err)
	}

	return nil
}

// ListPending returns up to limit events awaiting dispatch, oldest first.
// Quarantined events are never returned.
func (s *Store) ListPending(ctx context.Context, limit int) ([]DomainEvent, error) {
	const listSQL = `
SELECT id, topic, occurred_at, payload, triggered_by, status, attempts
FROM outbox
WHERE status IN ('PENDING', 'FAILED')
ORDER BY occurred_at
LIMIT $1
`
	rows, err := s.pool.Query(ctx, listSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("event: list pending: %w", err)
	}
	defer rows.Close()

	var out []DomainEvent
	for rows.Next() {
		var (
			evt         DomainEvent
			topic       string
			status      string
			triggeredBy []byte
		)
		if err := rows.Scan(&evt.ID, &topic, &evt.OccurredAt, &evt.Payload, &triggeredBy, &status, &evt.Attempts); err != nil {
			return nil, fmt.Errorf("event: scan pending: %w", err)
		}
		evt.Topic = Topic(topic)
		evt.Status = PublicationStatus(status)
		tb, err := identity.DecodeTriggeredBy(triggeredBy)
		if err != nil {
			return nil, err
		}
		evt.TriggeredBy = tb
		out = append(out, evt)
	}

	return out, rows.Err()
}

// MarkPublished records a successful publication attempt. The payload is
// untouched.
func (s *Store) MarkPublished(ctx context.Context, eventID string) error {
	return s.markStatus(ctx, eventID, StatusPublished)
}

// MarkFailed records a failed publication attempt for later republish.
func (s *Store) MarkFailed(ctx context.Context, eventID string) error {
	return s.markStatus(ctx, eventID, StatusFailed)
}

// markStatus moves the outbox row to the new status and appends one
// publication record; the per-attempt history is never rewritten.
func (s *Store) markStatus(ctx context.Context, eventID string, status PublicationStatus) error {
	const markSQL = `
WITH marked AS (
    UPDATE outbox
    SET status = $2,
        attempts = attempts + 1,
        last_attempt_at = now()
    WHERE id = $1 AND status <> 'QUARANTINED'
    RETURNING id
)
INSERT INTO outbox_publications (event_id, occurred_at, status)
SELECT id, now(), $2 FROM marked
`
	tag, err := s.pool.Exec(ctx, markSQL, eventID, string(status))
	if err != nil {
		return fmt.Errorf("event: mark %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event: no publishable outbox row for %s", eventID)
	}
	return nil
}

// Publication is one recorded delivery attempt of an outbox event.
type Publication struct {
	EventID    string
	OccurredAt time.Time
	Status     PublicationStatus
}

// ListPublications returns the event's attempt history, oldest first.
func (s *Store) ListPublications(ctx context.Context, eventID string) ([]Publication, error) {
	const listSQL = `
SELECT event_id, occurred_at, status
FROM outbox_publications
WHERE event_id = $1
ORDER BY id
`
	rows, err := s.pool.Query(ctx, listSQL, eventID)
	if err != nil {
		return nil, fmt.Errorf("event: list publications: %w", err)
	}
	defer rows.Close()

	var out []Publication
	for rows.Next() {
		var (
			p      Publication
			status string
		)
		if err := rows.Scan(&p.EventID, &p.OccurredAt, &status); err != nil {
			return nil, fmt.Errorf("event: scan publication: %w", err)
		}
		p.Status = PublicationStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}
