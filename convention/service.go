package convention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"conventionflow/event"
	"conventionflow/identity"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventAppender writes a domain event into the caller's transaction.
type EventAppender interface {
	Append(ctx context.Context, tx pgx.Tx, evt event.DomainEvent) error
}

// EventPayload is the outbox payload shared by convention lifecycle events.
type EventPayload struct {
	ConventionID string `json:"conventionId"`
	ExternalID   string `json:"externalId,omitempty"`
	AgencyID     string `json:"agencyId"`
	Status       Status `json:"status"`
}

func payloadFor(conv Convention) EventPayload {
	return EventPayload{
		ConventionID: conv.ID,
		ExternalID:   conv.ExternalID,
		AgencyID:     conv.AgencyID,
		Status:       conv.Status,
	}
}

// SubmitRepository is the data access Submit needs.
type SubmitRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, conv Convention) error
	ReserveExternalID(ctx context.Context, tx pgx.Tx, id string) (string, error)
}

// SubmitService persists a freshly drafted convention and opens its signature
// round. The insert, the external-id reservation and the submission event
// commit together.
type SubmitService struct {
	pool        TxBeginner
	repo        SubmitRepository
	factory     *event.Factory
	outbox      EventAppender
	idGenerator func() string
	now         func() time.Time
}

func NewSubmitService(pool TxBeginner, repo SubmitRepository, factory *event.Factory, outbox EventAppender) *SubmitService {
	if repo == nil {
		repo = NewRepository()
	}
	return &SubmitService{
		pool:        pool,
		repo:        repo,
		factory:     factory,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// Submit accepts a convention only in READY_TO_SIGN; anything else is a
// forbidden status and nothing is persisted.
func (s *SubmitService) Submit(ctx context.Context, conv Convention, by identity.TriggeredBy) (Convention, error) {
	if conv.Status != StatusReadyToSign {
		return Convention{}, &ForbiddenStatusError{
			Operation: "submit",
			Current:   conv.Status,
			Allowed:   []Status{StatusReadyToSign},
		}
	}

	if conv.ID == "" {
		conv.ID = s.idGenerator()
	}
	submittedAt := s.now().UTC()
	conv.DateSubmission = &submittedAt

	if err := conv.Validate(); err != nil {
		return Convention{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Insert(ctx, tx, conv); err != nil {
		return Convention{}, err
	}

	externalID, err := s.repo.ReserveExternalID(ctx, tx, conv.ID)
	if err != nil {
		return Convention{}, err
	}
	conv.ExternalID = externalID

	evt, err := s.factory.CreateNewEvent(event.ConventionSubmittedByBeneficiary, payloadFor(conv), by)
	if err != nil {
		return Convention{}, err
	}
	if err := s.outbox.Append(ctx, tx, evt); err != nil {
		return Convention{}, err
	}

	if conv.RenewedFrom != nil {
		renewed, err := s.factory.CreateNewEvent(event.ConventionRenewed, payloadFor(conv), by)
		if err != nil {
			return Convention{}, err
		}
		if err := s.outbox.Append(ctx, tx, renewed); err != nil {
			return Convention{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit submit: %w", err)
	}

	return conv, nil
}

// ErrRenewalNotAllowed is returned when the caller's identity cannot renew.
var ErrRenewalNotAllowed = errors.New("convention: renewal requires a validator, counsellor or back-office identity")

// RenewRepository is the data access Renew needs.
type RenewRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error)
}

// RenewParams carries the new immersion window for a renewed convention.
type RenewParams struct {
	ConventionID string
	DateStart    time.Time
	DateEnd      time.Time
	Schedule     Schedule
}

// RenewService creates a brand-new convention from a validated one and pushes
// it through the regular submission path, so renewal inherits every
// submission invariant instead of being a special transition.
type RenewService struct {
	pool        TxBeginner
	repo        RenewRepository
	submit      *SubmitService
	idGenerator func() string
}

func NewRenewService(pool TxBeginner, repo RenewRepository, submit *SubmitService) *RenewService {
	if repo == nil {
		repo = NewRepository()
	}
	return &RenewService{
		pool:        pool,
		repo:        repo,
		submit:      submit,
		idGenerator: func() string { return uuid.NewString() },
	}
}

// Renew builds the renewed convention (fresh id, cleared signatures and
// validation date) and submits it.
func (s *RenewService) Renew(ctx context.Context, params RenewParams, by identity.TriggeredBy) (Convention, error) {
	if err := ensureRenewalIdentity(by); err != nil {
		return Convention{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	original, err := s.repo.GetForUpdate(ctx, tx, params.ConventionID)
	if err != nil {
		return Convention{}, err
	}
	if err := ensureStatusIn("renew", original.Status, StatusAcceptedByValidator); err != nil {
		return Convention{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit renewal read: %w", err)
	}

	renewed := original
	renewed.ID = s.idGenerator()
	renewed.ExternalID = ""
	renewed.Status = StatusReadyToSign
	renewed.DateSubmission = nil
	renewed.DateValidation = nil
	renewed.DateStart = params.DateStart
	renewed.DateEnd = params.DateEnd
	if params.Schedule.TotalHours > 0 {
		renewed.Schedule = params.Schedule
	}
	renewed.RenewedFrom = &original.ID
	renewed.Signatories = clearSignatures(original.Signatories)

	return s.submit.Submit(ctx, renewed, by)
}

func ensureRenewalIdentity(by identity.TriggeredBy) error {
	switch v := by.(type) {
	case identity.ConnectedUser:
		return nil // authenticated back-office or agency user
	case identity.ConventionMagicLink:
		switch v.Role {
		case identity.RoleValidator, identity.RoleCounsellor, identity.RoleBackOffice:
			return nil
		default:
			return ErrRenewalNotAllowed
		}
	case identity.Crawler:
		return ErrRenewalNotAllowed
	case nil:
		return ErrRenewalNotAllowed
	default:
		return fmt.Errorf("convention: unhandled triggered-by variant %T", by)
	}
}

func clearSignatures(s Signatories) Signatories {
	s.Beneficiary.SignedAt = nil
	s.EstablishmentRepresentative.SignedAt = nil
	if s.BeneficiaryRepresentative != nil {
		cleared := *s.BeneficiaryRepresentative
		cleared.SignedAt = nil
		s.BeneficiaryRepresentative = &cleared
	}
	if s.BeneficiaryCurrentEmployer != nil {
		cleared := *s.BeneficiaryCurrentEmployer
		cleared.SignedAt = nil
		s.BeneficiaryCurrentEmployer = &cleared
	}
	return s
}
