package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service names recorded on feedback rows, one per outbound operation.
const (
	ServiceNameConventionUpdated = "PartnerGateway.notifyOnConventionUpdated"
	ServiceNameAssessmentCreated = "PartnerGateway.notifyOnAssessmentCreated"
	ServiceNameWebhookNotifier   = "WebhookNotifier.notifyConventionUpdated"
)

// ErrNoFeedback is returned when a convention has no recorded broadcast yet.
var ErrNoFeedback = errors.New("broadcast: no feedback recorded")

// Response captures the raw HTTP outcome of a partner call.
type Response struct {
	HTTPStatus int    `json:"httpStatus"`
	Body       string `json:"body,omitempty"`
}

// SubscriberError is the structured failure recorded when a webhook consumer
// rejects or fails a delivery.
type SubscriberError struct {
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
}

// Feedback is one ledger row: a single delivery attempt, success or not. Rows
// are never overwritten; HandledByAgency is the only mutable bit, flipped once
// by an operator to mark an error triaged.
type Feedback struct {
	ServiceName     string
	ConsumerID      string
	ConsumerName    string
	ConventionID    string
	RequestParams   map[string]any
	Response        *Response
	SubscriberError *SubscriberError
	OccurredAt      time.Time
	HandledByAgency bool
}

// Ledger is the append-only audit log of broadcast attempts.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Append inserts one attempt row. Insert-only by design.
func (l *Ledger) Append(ctx context.Context, fb Feedback) error {
	if fb.ServiceName == "" {
		return fmt.Errorf("broadcast: feedback requires a service name")
	}
	if fb.ConventionID == "" {
		return fmt.Errorf("broadcast: feedback requires a convention id")
	}

	params, err := json.Marshal(fb.RequestParams)
	if err != nil {
		return fmt.Errorf("broadcast: marshal request params: %w", err)
	}
	response, err := marshalNullable(fb.Response)
	if err != nil {
		return fmt.Errorf("broadcast: marshal response: %w", err)
	}
	subscriberErr, err := marshalNullable(fb.SubscriberError)
	if err != nil {
		return fmt.Errorf("broadcast: marshal subscriber error: %w", err)
	}

	const insertSQL = `
INSERT INTO broadcast_feedbacks
    (service_name, consumer_id, consumer_name, convention_id, request_params, response, subscriber_error, occurred_at, handled_by_agency)
VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8, false)
`
	if _, err := l.pool.Exec(ctx, insertSQL,
		fb.ServiceName, nullableStr(fb.ConsumerID), nullableStr(fb.ConsumerName), fb.ConventionID,
		params, response, subscriberErr, fb.OccurredAt,
	); err != nil {
		return fmt.Errorf("broadcast: append feedback: %w", err)
	}

	return nil
}

// LastForConvention returns the most recent attempt for a convention.
func (l *Ledger) LastForConvention(ctx context.Context, conventionID string) (Feedback, error) {
	const lastSQL = `
SELECT service_name, consumer_id, consumer_name, convention_id, request_params, response, subscriber_error, occurred_at, handled_by_agency
FROM broadcast_feedbacks
WHERE convention_id = $1
ORDER BY occurred_at DESC
LIMIT 1
`
	row := l.pool.QueryRow(ctx, lastSQL, conventionID)
	fb, err := scanFeedback(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Feedback{}, ErrNoFeedback
		}
		return Feedback{}, err
	}
	return fb, nil
}

// ListForConvention returns the full attempt history, newest first.
func (l *Ledger) ListForConvention(ctx context.Context, conventionID string) ([]Feedback, error) {
	const listSQL = `
SELECT service_name, consumer_id, consumer_name, convention_id, request_params, response, subscriber_error, occurred_at, handled_by_agency
FROM broadcast_feedbacks
WHERE convention_id = $1
ORDER BY occurred_at DESC
`
	rows, err := l.pool.Query(ctx, listSQL, conventionID)
	if err != nil {
		return nil, fmt.Errorf("broadcast: list feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// MarkHandled flips the triage bit on one error row. An error row carries
// either a subscriber error (webhook failures) or a non-2xx partner response;
// successful rows are not markable.
func (l *Ledger) MarkHandled(ctx context.Context, conventionID string, occurredAt time.Time) error {
	const updateSQL = `
UPDATE broadcast_feedbacks
SET handled_by_agency = true
WHERE convention_id = $1 AND occurred_at = $2
  AND (subscriber_error IS NOT NULL
       OR (response ->> 'httpStatus')::int NOT BETWEEN 200 AND 299)
`
	tag, err := l.pool.Exec(ctx, updateSQL, conventionID, occurredAt)
	if err != nil {
		return fmt.Errorf("broadcast: mark handled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("broadcast: no errored feedback row for %s at %s", conventionID, occurredAt)
	}
	return nil
}

func scanFeedback(row pgx.Row) (Feedback, error) {
	var (
		fb            Feedback
		consumerID    *string
		consumerName  *string
		params        []byte
		response      []byte
		subscriberErr []byte
	)
	if err := row.Scan(&fb.ServiceName, &consumerID, &consumerName, &fb.ConventionID,
		&params, &response, &subscriberErr, &fb.OccurredAt, &fb.HandledByAgency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Feedback{}, pgx.ErrNoRows
		}
		return Feedback{}, fmt.Errorf("broadcast: scan feedback: %w", err)
	}

	if consumerID != nil {
		fb.ConsumerID = *consumerID
	}
	if consumerName != nil {
		fb.ConsumerName = *consumerName
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &fb.RequestParams); err != nil {
			return Feedback{}, fmt.Errorf("broadcast: unmarshal request params: %w", err)
		}
	}
	if len(response) > 0 {
		fb.Response = &Response{}
		if err := json.Unmarshal(response, fb.Response); err != nil {
			return Feedback{}, fmt.Errorf("broadcast: unmarshal response: %w", err)
		}
	}
	if len(subscriberErr) > 0 {
		fb.SubscriberError = &SubscriberError{}
		if err := json.Unmarshal(subscriberErr, fb.SubscriberError); err != nil {
			return Feedback{}, fmt.Errorf("broadcast: unmarshal subscriber error: %w", err)
		}
	}

	return fb, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *Response:
		if val == nil {
			return nil, nil
		}
	case *SubscriberError:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
