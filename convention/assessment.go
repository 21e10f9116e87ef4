package convention

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"conventionflow/event"
	"conventionflow/identity"
)

// AssessmentRepository is the data access assessment creation needs.
type AssessmentRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error)
	InsertAssessment(ctx context.Context, tx pgx.Tx, a Assessment) error
}

// AssessmentService attaches the immersion outcome to a validated convention.
// A convention is otherwise read-only once it reaches a terminal status;
// assessment attachment is the single exception.
type AssessmentService struct {
	pool    TxBeginner
	repo    AssessmentRepository
	factory *event.Factory
	outbox  EventAppender
	now     func() time.Time
}

func NewAssessmentService(pool TxBeginner, repo AssessmentRepository, factory *event.Factory, outbox EventAppender) *AssessmentService {
	if repo == nil {
		repo = NewRepository()
	}
	return &AssessmentService{
		pool:    pool,
		repo:    repo,
		factory: factory,
		outbox:  outbox,
		now:     time.Now,
	}
}

// CreateAssessmentParams carries the establishment's assessment of the
// immersion.
type CreateAssessmentParams struct {
	ConventionID          string
	Status                AssessmentStatus
	EstablishmentFeedback string
	EndedWithAJob         bool
}

type assessmentPayload struct {
	EventPayload
	AssessmentStatus AssessmentStatus `json:"assessmentStatus"`
}

// Create records the assessment and emits AssessmentCreated in the same
// transaction.
func (s *AssessmentService) Create(ctx context.Context, params CreateAssessmentParams, by identity.TriggeredBy) (Assessment, error) {
	switch params.Status {
	case AssessmentCompleted, AssessmentAbandoned:
	default:
		return Assessment{}, fmt.Errorf("convention: unknown assessment status %q", params.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Assessment{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := s.repo.GetForUpdate(ctx, tx, params.ConventionID)
	if err != nil {
		return Assessment{}, err
	}

	if err := ensureStatusIn("create assessment", conv.Status, StatusAcceptedByValidator); err != nil {
		return Assessment{}, err
	}

	assessment := Assessment{
		ConventionID:          conv.ID,
		Status:                params.Status,
		EstablishmentFeedback: params.EstablishmentFeedback,
		EndedWithAJob:         params.EndedWithAJob,
		CreatedAt:             s.now().UTC(),
	}

	if err := s.repo.InsertAssessment(ctx, tx, assessment); err != nil {
		return Assessment{}, err
	}

	payload := assessmentPayload{
		EventPayload:     payloadFor(conv),
		AssessmentStatus: assessment.Status,
	}
	evt, err := s.factory.CreateNewEvent(event.AssessmentCreated, payload, by)
	if err != nil {
		return Assessment{}, err
	}
	if err := s.outbox.Append(ctx, tx, evt); err != nil {
		return Assessment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Assessment{}, fmt.Errorf("convention: commit assessment: %w", err)
	}

	return assessment, nil
}
