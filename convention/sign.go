package convention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"conventionflow/event"
	"conventionflow/identity"
)

// ErrNoSignatoryForRole is returned when the convention has no signatory
// bearing the requested role.
var ErrNoSignatoryForRole = errors.New("convention: no signatory for role")

// SignRepository is the data access Sign needs.
type SignRepository interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error)
	UpdateSignatoriesAndStatus(ctx context.Context, tx pgx.Tx, id string, signatories Signatories, status Status) error
}

// SignService records signatures. The row lock makes the transition decision
// from the post-write signature set, so concurrent signers cannot drop each
// other's signatures: whichever commits last observes all prior ones.
type SignService struct {
	pool    TxBeginner
	repo    SignRepository
	factory *event.Factory
	outbox  EventAppender
	now     func() time.Time
}

func NewSignService(pool TxBeginner, repo SignRepository, factory *event.Factory, outbox EventAppender) *SignService {
	if repo == nil {
		repo = NewRepository()
	}
	return &SignService{
		pool:    pool,
		repo:    repo,
		factory: factory,
		outbox:  outbox,
		now:     time.Now,
	}
}

// Sign applies one signatory's signature. Re-signing is a no-op: no event is
// emitted and the status does not move. The last signature advances the
// convention to IN_REVIEW.
func (s *SignService) Sign(ctx context.Context, conventionID string, role identity.SignatoryRole, by identity.TriggeredBy) (Convention, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := s.repo.GetForUpdate(ctx, tx, conventionID)
	if err != nil {
		return Convention{}, err
	}

	if err := ensureStatusIn("sign", conv.Status, StatusReadyToSign, StatusPartiallySigned); err != nil {
		return Convention{}, err
	}

	sig := conv.SignatoryByRole(role)
	if sig == nil {
		return Convention{}, fmt.Errorf("%w: %s", ErrNoSignatoryForRole, role)
	}

	if sig.SignedAt != nil {
		// Idempotent replay: the signature is already recorded.
		return conv, nil
	}

	signedAt := s.now().UTC()
	sig.SignedAt = &signedAt

	newStatus := StatusPartiallySigned
	topic := event.ConventionPartiallySigned
	if conv.Signatories.FullySigned() {
		newStatus = StatusInReview
		topic = event.ConventionFullySigned
	}

	if err := EnsureTransition(conv.Status, newStatus); err != nil {
		return Convention{}, err
	}

	if err := s.repo.UpdateSignatoriesAndStatus(ctx, tx, conv.ID, conv.Signatories, newStatus); err != nil {
		return Convention{}, err
	}
	conv.Status = newStatus

	evt, err := s.factory.CreateNewEvent(topic, payloadFor(conv), by)
	if err != nil {
		return Convention{}, err
	}
	if err := s.outbox.Append(ctx, tx, evt); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit sign: %w", err)
	}

	return conv, nil
}
