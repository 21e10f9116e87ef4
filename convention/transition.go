package convention

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"conventionflow/event"
	"conventionflow/identity"
)

// TransitionRepository is the data access review transitions need.
type TransitionRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, validatedAt *time.Time) error
}

// reviewTopics maps each review outcome onto its event topic. A target status
// outside this table cannot be reached through the status service.
var reviewTopics = map[Status]event.Topic{
	StatusAcceptedByCounsellor: event.ConventionAcceptedByCounsellor,
	StatusAcceptedByValidator:  event.ConventionAcceptedByValidator,
	StatusRejected:             event.ConventionRejected,
	StatusCancelled:            event.ConventionCancelled,
	StatusDeprecated:           event.ConventionDeprecated,
}

// TransitionParams describes one requested review transition.
type TransitionParams struct {
	ConventionID  string
	NextStatus    Status
	Justification string
}

// StatusService handles review-side status transitions, ensuring the status
// update and the outbox event are captured in the same transaction.
type StatusService struct {
	pool    TxBeginner
	repo    TransitionRepository
	factory *event.Factory
	outbox  EventAppender
	now     func() time.Time
}

func NewStatusService(pool TxBeginner, repo TransitionRepository, factory *event.Factory, outbox EventAppender) *StatusService {
	if repo == nil {
		repo = NewRepository()
	}
	return &StatusService{
		pool:    pool,
		repo:    repo,
		factory: factory,
		outbox:  outbox,
		now:     time.Now,
	}
}

type transitionPayload struct {
	EventPayload
	PreviousStatus Status `json:"previousStatus"`
	Justification  string `json:"justification,omitempty"`
}

// Transition moves a convention to a review outcome (acceptance, rejection,
// cancellation, deprecation) after checking the transition table.
func (s *StatusService) Transition(ctx context.Context, params TransitionParams, by identity.TriggeredBy) (Convention, error) {
	topic, ok := reviewTopics[params.NextStatus]
	if !ok {
		return Convention{}, fmt.Errorf("convention: %s is not a review transition target", params.NextStatus)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := s.repo.GetForUpdate(ctx, tx, params.ConventionID)
	if err != nil {
		return Convention{}, err
	}

	if err := EnsureTransition(conv.Status, params.NextStatus); err != nil {
		return Convention{}, err
	}

	var validatedAt *time.Time
	if params.NextStatus == StatusAcceptedByValidator {
		ts := s.now().UTC()
		validatedAt = &ts
	}

	if err := s.repo.UpdateStatus(ctx, tx, conv.ID, params.NextStatus, validatedAt); err != nil {
		return Convention{}, err
	}

	previous := conv.Status
	conv.Status = params.NextStatus
	conv.DateValidation = validatedAt

	payload := transitionPayload{
		EventPayload:   payloadFor(conv),
		PreviousStatus: previous,
		Justification:  params.Justification,
	}
	evt, err := s.factory.CreateNewEvent(topic, payload, by)
	if err != nil {
		return Convention{}, err
	}
	if err := s.outbox.Append(ctx, tx, evt); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit transition: %w", err)
	}

	return conv, nil
}
