package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_status_enum_closed",
			SQL: `SELECT id, status FROM conventions
                  WHERE status NOT IN ('DRAFT','READY_TO_SIGN','PARTIALLY_SIGNED','IN_REVIEW',
                                       'ACCEPTED_BY_COUNSELLOR','ACCEPTED_BY_VALIDATOR',
                                       'REJECTED','CANCELLED','DEPRECATED')`,
		},
		{
			Name: "O2_submitted_has_external_id",
			SQL: `SELECT id, status FROM conventions
                  WHERE status <> 'DRAFT' AND external_id IS NULL`,
		},
		{
			Name: "O3_in_review_fully_signed",
			SQL: `SELECT id FROM conventions
                  WHERE status = 'IN_REVIEW'
                    AND (signatories->'beneficiary'->>'signedAt' IS NULL
                      OR signatories->'establishmentRepresentative'->>'signedAt' IS NULL)`,
		},
		{
			Name: "O4_outbox_attempts_recorded",
			SQL: `SELECT id, topic, status FROM outbox
                  WHERE status IN ('PUBLISHED','FAILED') AND attempts = 0`,
		},
		{
			Name: "O5_quarantine_never_dispatched",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status = 'QUARANTINED' AND attempts > 0`,
		},
		{
			Name: "O6_outbox_not_wedged",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status = 'PENDING' AND now() - occurred_at > interval '5 minutes'`,
		},
		{
			Name: "O7_resync_status_enum",
			SQL: `SELECT convention_id, status FROM conventions_to_sync
                  WHERE status NOT IN ('TO_PROCESS','SUCCESS','ERROR','SKIP')`,
		},
		{
			Name: "O8_feedback_service_names",
			SQL: `SELECT id, service_name FROM broadcast_feedbacks
                  WHERE service_name NOT IN ('PartnerGateway.notifyOnConventionUpdated',
                                             'PartnerGateway.notifyOnAssessmentCreated',
                                             'WebhookNotifier.notifyConventionUpdated')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
