package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Submitter keeps creating freshly submitted conventions for the agency,
// reserving each one's partner-facing external id from the shared sequence.
func Submitter(ctx context.Context, pool *pgxpool.Pool, agencyID string, stop <-chan struct{}) error {
	const signatories = `{
        "beneficiary": {"role":"beneficiary","firstName":"Jean","lastName":"Martin","email":"jean@example.com"},
        "establishmentRepresentative": {"role":"establishment-representative","firstName":"Claire","lastName":"Moreau","email":"claire@example.com"}
    }`
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := uuid.NewString()
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO conventions
            (id, external_id, agency_id, status, date_submission, date_start, date_end, total_hours, signatories, establishment_siret, establishment_name)
            VALUES ($1, 'IMM-'||lpad(nextval('convention_external_id_seq')::text, 6, '0'), $2, 'READY_TO_SIGN', now(), now() + interval '7 days', now() + interval '21 days', 35, $3::jsonb, '12345678901234', 'Boulangerie Moreau')`,
			id, agencyID, signatories)
		if err == nil {
			_, err = tx.Exec(ctx, `INSERT INTO outbox (id, topic, occurred_at, payload, triggered_by, status)
                VALUES ($1, 'ConventionSubmittedByBeneficiary', now(), jsonb_build_object('conventionId', $2::text), '{"kind":"crawler"}'::jsonb, 'PENDING')`,
				uuid.NewString(), id)
		}
		if err != nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("submitter insert: %w", err)
			}
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Signer races over open signature rounds: it locks one convention, stamps a
// random missing signature and flips the status accordingly.
func Signer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	roles := []string{"beneficiary", "establishmentRepresentative"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		role := roles[rand.Intn(len(roles))]
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var convID string
		err = tx.QueryRow(ctx, `SELECT id FROM conventions
            WHERE status IN ('READY_TO_SIGN','PARTIALLY_SIGNED')
            ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&convID)
		if err == nil {
			_, err = tx.Exec(ctx, fmt.Sprintf(`UPDATE conventions
                SET signatories = jsonb_set(signatories, '{%s,signedAt}', to_jsonb(now()), true),
                    updated_at = now()
                WHERE id = $1 AND signatories->'%s'->>'signedAt' IS NULL`, role, role), convID)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE conventions
                    SET status = CASE
                        WHEN signatories->'beneficiary'->>'signedAt' IS NOT NULL
                         AND signatories->'establishmentRepresentative'->>'signedAt' IS NOT NULL
                        THEN 'IN_REVIEW' ELSE 'PARTIALLY_SIGNED' END
                    WHERE id = $1`, convID)
			}
			if err == nil {
				_, _ = tx.Exec(ctx, `INSERT INTO outbox (id, topic, occurred_at, payload, triggered_by, status)
                    SELECT $1, CASE WHEN status = 'IN_REVIEW' THEN 'ConventionFullySigned' ELSE 'ConventionPartiallySigned' END,
                           now(), jsonb_build_object('conventionId', id), '{"kind":"crawler"}'::jsonb, 'PENDING'
                    FROM conventions WHERE id = $2`, uuid.NewString(), convID)
				_ = tx.Commit(ctx)
				tx = nil
			}
		}
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// OutboxWorker drains pending events with SKIP LOCKED, randomly failing some
// attempts, and writes a feedback row for each published convention event the
// way the partner gateway does.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id, payload->>'conventionId' FROM outbox
            WHERE status IN ('PENDING','FAILED') ORDER BY occurred_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		type pending struct{ id, convID string }
		batch := make([]pending, 0, 10)
		for rows.Next() {
			var p pending
			_ = rows.Scan(&p.id, &p.convID)
			batch = append(batch, p)
		}
		rows.Close()
		for _, p := range batch {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET status='FAILED', attempts=attempts+1, last_attempt_at=now() WHERE id=$1`, p.id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='PUBLISHED', attempts=attempts+1, last_attempt_at=now() WHERE id=$1`, p.id)
			if p.convID != "" {
				_, _ = tx.Exec(ctx, `INSERT INTO broadcast_feedbacks (service_name, convention_id, request_params, response, occurred_at)
                    VALUES ('PartnerGateway.notifyOnConventionUpdated', $1, jsonb_build_object('conventionId', $1::text), '{"httpStatus":200}'::jsonb, now())`, p.convID)
			}
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// ResyncMarker enqueues random conventions into the resync backlog; the
// terminal-SUCCESS guard is exercised by re-marking already settled rows.
func ResyncMarker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `INSERT INTO conventions_to_sync (convention_id, status)
            SELECT id, 'TO_PROCESS' FROM conventions ORDER BY random() LIMIT 1
            ON CONFLICT (convention_id) DO NOTHING`)
		time.Sleep(150 * time.Millisecond)
	}
}

// ResyncWorker settles backlog rows, never touching SUCCESS ones.
func ResyncWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		outcome := "SUCCESS"
		var reason *string
		if rand.Intn(5) == 0 {
			outcome = "ERROR"
			r := "partner returned 500"
			reason = &r
		}
		_, _ = pool.Exec(ctx, `UPDATE conventions_to_sync
            SET status=$1, process_date=now(), reason=$2
            WHERE convention_id IN (
                SELECT convention_id FROM conventions_to_sync
                WHERE status IN ('TO_PROCESS','ERROR') LIMIT 1
            ) AND status <> 'SUCCESS'`, outcome, reason)
		time.Sleep(120 * time.Millisecond)
	}
}
