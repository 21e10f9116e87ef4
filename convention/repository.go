package convention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConventionNotFound is returned when no convention row matches the id.
	ErrConventionNotFound = errors.New("convention: not found")
	// ErrAgencyNotFound is returned when the referenced agency does not exist.
	ErrAgencyNotFound = errors.New("convention: agency not found")
	// ErrAssessmentNotFound is returned when a convention has no assessment.
	ErrAssessmentNotFound = errors.New("convention: assessment not found")
	// ErrAssessmentAlreadyExists guards the one-assessment-per-convention rule.
	ErrAssessmentAlreadyExists = errors.New("convention: assessment already exists")
)

// Queryer is the read surface shared by pgxpool.Pool and pgx.Tx.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository owns convention, agency and assessment persistence. Writes take
// the caller's transaction so mutations commit with their outbox events.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const conventionColumns = `
id, external_id, agency_id, status,
date_submission, date_start, date_end, date_validation,
total_hours, signatories,
establishment_siret, establishment_name,
tutor_first_name, tutor_last_name, tutor_job,
appellation_code, appellation_label, immersion_objective,
counsellor_name, renewed_from
`

// Insert persists a brand-new convention row.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, conv Convention) error {
	signatories, err := json.Marshal(conv.Signatories)
	if err != nil {
		return fmt.Errorf("convention: marshal signatories: %w", err)
	}

	const insertSQL = `
INSERT INTO conventions (
    id, external_id, agency_id, status,
    date_submission, date_start, date_end, date_validation,
    total_hours, signatories,
    establishment_siret, establishment_name,
    tutor_first_name, tutor_last_name, tutor_job,
    appellation_code, appellation_label, immersion_objective,
    counsellor_name, renewed_from
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`
	if _, err := tx.Exec(ctx, insertSQL,
		conv.ID, nullable(conv.ExternalID), conv.AgencyID, string(conv.Status),
		conv.DateSubmission, conv.DateStart, conv.DateEnd, conv.DateValidation,
		conv.Schedule.TotalHours, signatories,
		conv.EstablishmentSiret, conv.EstablishmentName,
		conv.EstablishmentTutor.FirstName, conv.EstablishmentTutor.LastName, conv.EstablishmentTutor.Job,
		conv.ImmersionAppellation.Code, conv.ImmersionAppellation.Label, conv.ImmersionObjective,
		nullable(conv.AgencyCounsellorName), conv.RenewedFrom,
	); err != nil {
		return fmt.Errorf("convention: insert: %w", err)
	}

	return nil
}

// Get loads a convention without locking it.
func (r *Repository) Get(ctx context.Context, q Queryer, id string) (Convention, error) {
	row := q.QueryRow(ctx, `SELECT `+conventionColumns+` FROM conventions WHERE id = $1`, id)
	return scanConvention(row)
}

// GetForUpdate loads a convention and locks its row for the transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error) {
	row := tx.QueryRow(ctx, `SELECT `+conventionColumns+` FROM conventions WHERE id = $1 FOR UPDATE`, id)
	return scanConvention(row)
}

func scanConvention(row pgx.Row) (Convention, error) {
	var (
		conv           Convention
		externalID     *string
		status         string
		signatories    []byte
		counsellorName *string
	)
	err := row.Scan(
		&conv.ID, &externalID, &conv.AgencyID, &status,
		&conv.DateSubmission, &conv.DateStart, &conv.DateEnd, &conv.DateValidation,
		&conv.Schedule.TotalHours, &signatories,
		&conv.EstablishmentSiret, &conv.EstablishmentName,
		&conv.EstablishmentTutor.FirstName, &conv.EstablishmentTutor.LastName, &conv.EstablishmentTutor.Job,
		&conv.ImmersionAppellation.Code, &conv.ImmersionAppellation.Label, &conv.ImmersionObjective,
		&counsellorName, &conv.RenewedFrom,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Convention{}, ErrConventionNotFound
		}
		return Convention{}, fmt.Errorf("convention: scan: %w", err)
	}

	conv.Status = Status(status)
	if externalID != nil {
		conv.ExternalID = *externalID
	}
	if counsellorName != nil {
		conv.AgencyCounsellorName = *counsellorName
	}
	if err := json.Unmarshal(signatories, &conv.Signatories); err != nil {
		return Convention{}, fmt.Errorf("convention: unmarshal signatories: %w", err)
	}

	return conv, nil
}

// UpdateSignatoriesAndStatus writes the post-signature signatory set and the
// resulting status in one statement.
func (r *Repository) UpdateSignatoriesAndStatus(ctx context.Context, tx pgx.Tx, id string, signatories Signatories, status Status) error {
	body, err := json.Marshal(signatories)
	if err != nil {
		return fmt.Errorf("convention: marshal signatories: %w", err)
	}

	const updateSQL = `
UPDATE conventions
SET signatories = $2::jsonb,
    status = $3,
    updated_at = now()
WHERE id = $1
`
	tag, err := tx.Exec(ctx, updateSQL, id, body, string(status))
	if err != nil {
		return fmt.Errorf("convention: update signatories: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConventionNotFound
	}
	return nil
}

// UpdateStatus transitions the row's status; validatedAt is set when the
// transition is a validator acceptance.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, validatedAt *time.Time) error {
	const updateSQL = `
UPDATE conventions
SET status = $2,
    date_validation = COALESCE($3, date_validation),
    updated_at = now()
WHERE id = $1
`
	tag, err := tx.Exec(ctx, updateSQL, id, string(status), validatedAt)
	if err != nil {
		return fmt.Errorf("convention: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConventionNotFound
	}
	return nil
}

// UpdateCounsellorName edits the counsellor name field.
func (r *Repository) UpdateCounsellorName(ctx context.Context, tx pgx.Tx, id, name string) error {
	tag, err := tx.Exec(ctx, `UPDATE conventions SET counsellor_name = $2, updated_at = now() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("convention: update counsellor name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConventionNotFound
	}
	return nil
}

// ReserveExternalID assigns the partner-facing identifier from a dedicated
// sequence and stores it on the row.
func (r *Repository) ReserveExternalID(ctx context.Context, tx pgx.Tx, id string) (string, error) {
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('convention_external_id_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("convention: reserve external id: %w", err)
	}

	externalID := fmt.Sprintf("IMM-%06d", seq)
	tag, err := tx.Exec(ctx, `UPDATE conventions SET external_id = $2 WHERE id = $1`, id, externalID)
	if err != nil {
		return "", fmt.Errorf("convention: store external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrConventionNotFound
	}

	return externalID, nil
}

// GetAgency loads an agency by id.
func (r *Repository) GetAgency(ctx context.Context, q Queryer, id string) (Agency, error) {
	var agency Agency
	err := q.QueryRow(ctx,
		`SELECT id, name, kind, refers_to_agency_id FROM agencies WHERE id = $1`, id,
	).Scan(&agency.ID, &agency.Name, &agency.Kind, &agency.RefersToAgencyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agency{}, ErrAgencyNotFound
		}
		return Agency{}, fmt.Errorf("convention: get agency: %w", err)
	}
	return agency, nil
}

// GetAssessment loads the convention's assessment if one exists.
func (r *Repository) GetAssessment(ctx context.Context, q Queryer, conventionID string) (Assessment, error) {
	var (
		a      Assessment
		status string
	)
	err := q.QueryRow(ctx, `
SELECT convention_id, status, establishment_feedback, ended_with_a_job, created_at
FROM convention_assessments
WHERE convention_id = $1
`, conventionID).Scan(&a.ConventionID, &status, &a.EstablishmentFeedback, &a.EndedWithAJob, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assessment{}, ErrAssessmentNotFound
		}
		return Assessment{}, fmt.Errorf("convention: get assessment: %w", err)
	}
	a.Status = AssessmentStatus(status)
	return a, nil
}

// InsertAssessment persists a new assessment; a second insert for the same
// convention hits the primary key and reports ErrAssessmentAlreadyExists.
func (r *Repository) InsertAssessment(ctx context.Context, tx pgx.Tx, a Assessment) error {
	const insertSQL = `
INSERT INTO convention_assessments (convention_id, status, establishment_feedback, ended_with_a_job, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	if _, err := tx.Exec(ctx, insertSQL, a.ConventionID, string(a.Status), a.EstablishmentFeedback, a.EndedWithAJob, a.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAssessmentAlreadyExists
		}
		return fmt.Errorf("convention: insert assessment: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
