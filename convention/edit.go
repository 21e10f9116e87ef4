package convention

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"conventionflow/event"
	"conventionflow/identity"
)

// EditRepository is the data access post-signature edits need.
type EditRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error)
	UpdateCounsellorName(ctx context.Context, tx pgx.Tx, id, name string) error
	UpdateSignatoriesAndStatus(ctx context.Context, tx pgx.Tx, id string, signatories Signatories, status Status) error
}

// Statuses from which each editable field may still be changed.
var (
	counsellorNameEditableFrom = []Status{StatusInReview, StatusAcceptedByCounsellor}
	birthdateEditableFrom      = []Status{StatusReadyToSign, StatusPartiallySigned, StatusInReview}
)

// EditService applies the narrow set of post-signature field edits. Every
// edit re-validates the whole aggregate before persisting and emits a
// dedicated event.
type EditService struct {
	pool    TxBeginner
	repo    EditRepository
	factory *event.Factory
	outbox  EventAppender
}

func NewEditService(pool TxBeginner, repo EditRepository, factory *event.Factory, outbox EventAppender) *EditService {
	if repo == nil {
		repo = NewRepository()
	}
	return &EditService{pool: pool, repo: repo, factory: factory, outbox: outbox}
}

// EditCounsellorName updates the agency counsellor name.
func (s *EditService) EditCounsellorName(ctx context.Context, conventionID, name string, by identity.TriggeredBy) error {
	if name == "" {
		return fmt.Errorf("convention: counsellor name required")
	}

	return s.edit(ctx, conventionID, "edit counsellor name", counsellorNameEditableFrom, by,
		event.ConventionCounsellorNameEdited,
		func(conv *Convention) { conv.AgencyCounsellorName = name },
		func(ctx context.Context, tx pgx.Tx, conv Convention) error {
			return s.repo.UpdateCounsellorName(ctx, tx, conv.ID, name)
		},
	)
}

// EditBeneficiaryBirthdate updates the beneficiary's birthdate.
func (s *EditService) EditBeneficiaryBirthdate(ctx context.Context, conventionID string, birthdate time.Time, by identity.TriggeredBy) error {
	return s.edit(ctx, conventionID, "edit beneficiary birthdate", birthdateEditableFrom, by,
		event.ConventionBeneficiaryBirthdateEdited,
		func(conv *Convention) { conv.Signatories.Beneficiary.BirthDate = &birthdate },
		func(ctx context.Context, tx pgx.Tx, conv Convention) error {
			return s.repo.UpdateSignatoriesAndStatus(ctx, tx, conv.ID, conv.Signatories, conv.Status)
		},
	)
}

func (s *EditService) edit(
	ctx context.Context,
	conventionID, operation string,
	allowed []Status,
	by identity.TriggeredBy,
	topic event.Topic,
	apply func(*Convention),
	persist func(context.Context, pgx.Tx, Convention) error,
) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := s.repo.GetForUpdate(ctx, tx, conventionID)
	if err != nil {
		return err
	}

	if err := ensureStatusIn(operation, conv.Status, allowed...); err != nil {
		return err
	}

	apply(&conv)

	if err := conv.Validate(); err != nil {
		return err
	}

	if err := persist(ctx, tx, conv); err != nil {
		return err
	}

	evt, err := s.factory.CreateNewEvent(topic, payloadFor(conv), by)
	if err != nil {
		return err
	}
	if err := s.outbox.Append(ctx, tx, evt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convention: commit %s: %w", operation, err)
	}

	return nil
}
