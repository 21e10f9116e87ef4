package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"conventionflow/convention"
	"conventionflow/event"
	"conventionflow/identity"
)

// rebroadcastCooldown is the minimum gap between manual re-broadcasts of the
// same convention.
const rebroadcastCooldown = 4 * time.Hour

// ErrRebroadcastNotAllowed rejects identities that may not force a broadcast.
var ErrRebroadcastNotAllowed = errors.New("broadcast: re-broadcast requires a connected user or a counsellor, validator or back-office link")

// ErrRebroadcastWrongAgency rejects agency users acting outside their own
// agency (or its refers-to parent).
var ErrRebroadcastWrongAgency = errors.New("broadcast: re-broadcast requires a role on the convention's agency")

// TooManyRequestsError is returned when a convention was already broadcast
// within the cooldown window.
type TooManyRequestsError struct {
	ConventionID string
	RetryAfter   time.Duration
}

func (e TooManyRequestsError) Error() string {
	return fmt.Sprintf("broadcast: convention %s was broadcast less than %s ago, retry in %s",
		e.ConventionID, rebroadcastCooldown, e.RetryAfter.Round(time.Minute))
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type eventAppender interface {
	Append(ctx context.Context, tx pgx.Tx, evt event.DomainEvent) error
}

type rebroadcastRepository interface {
	Get(ctx context.Context, q convention.Queryer, id string) (convention.Convention, error)
	GetAgency(ctx context.Context, q convention.Queryer, id string) (convention.Agency, error)
	GetAssessment(ctx context.Context, q convention.Queryer, conventionID string) (convention.Assessment, error)
}

type lastFeedbackReader interface {
	LastForConvention(ctx context.Context, conventionID string) (Feedback, error)
}

type rebroadcastPayload struct {
	ConventionID string            `json:"conventionId"`
	ExternalID   string            `json:"externalId,omitempty"`
	AgencyID     string            `json:"agencyId"`
	Status       convention.Status `json:"status"`
}

// RebroadcastService lets an operator push a convention to the partner again
// outside the normal lifecycle, through the same outbox as every other event.
type RebroadcastService struct {
	pool    txBeginner
	repo    rebroadcastRepository
	ledger  lastFeedbackReader
	factory *event.Factory
	outbox  eventAppender
	now     func() time.Time
}

func NewRebroadcastService(pool txBeginner, repo rebroadcastRepository, ledger lastFeedbackReader, factory *event.Factory, outbox eventAppender) *RebroadcastService {
	if repo == nil {
		repo = convention.NewRepository()
	}
	return &RebroadcastService{
		pool:    pool,
		repo:    repo,
		ledger:  ledger,
		factory: factory,
		outbox:  outbox,
		now:     time.Now,
	}
}

// Rebroadcast emits a broadcast-request event for the convention. With an
// assessment on file the event carries it; the two request topics are
// mutually exclusive.
func (s *RebroadcastService) Rebroadcast(ctx context.Context, conventionID string, by identity.TriggeredBy) error {
	if err := ensureRebroadcastIdentity(by); err != nil {
		return err
	}

	if err := s.ensureCooldown(ctx, conventionID); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("broadcast: begin rebroadcast: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := s.repo.Get(ctx, tx, conventionID)
	if err != nil {
		return err
	}

	if err := s.ensureAgencyScope(ctx, tx, conv, by); err != nil {
		return err
	}

	topic := event.ConventionBroadcastRequested
	if _, err := s.repo.GetAssessment(ctx, tx, conventionID); err == nil {
		topic = event.ConventionWithAssessmentBroadcastRequested
	} else if !errors.Is(err, convention.ErrAssessmentNotFound) {
		return err
	}

	payload := rebroadcastPayload{
		ConventionID: conv.ID,
		ExternalID:   conv.ExternalID,
		AgencyID:     conv.AgencyID,
		Status:       conv.Status,
	}
	evt, err := s.factory.CreateNewEvent(topic, payload, by)
	if err != nil {
		return err
	}
	if err := s.outbox.Append(ctx, tx, evt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("broadcast: commit rebroadcast: %w", err)
	}
	return nil
}

// ensureCooldown enforces the gap since the convention's last recorded
// attempt. A convention with no history passes.
func (s *RebroadcastService) ensureCooldown(ctx context.Context, conventionID string) error {
	last, err := s.ledger.LastForConvention(ctx, conventionID)
	if errors.Is(err, ErrNoFeedback) {
		return nil
	}
	if err != nil {
		return err
	}

	elapsed := s.now().Sub(last.OccurredAt)
	if elapsed < rebroadcastCooldown {
		return TooManyRequestsError{
			ConventionID: conventionID,
			RetryAfter:   rebroadcastCooldown - elapsed,
		}
	}
	return nil
}

// ensureAgencyScope restricts agency users to conventions of their own
// agencies. Back-office users pass everywhere; magic-link identities are
// already scoped to the convention that issued them.
func (s *RebroadcastService) ensureAgencyScope(ctx context.Context, q convention.Queryer, conv convention.Convention, by identity.TriggeredBy) error {
	user, ok := by.(identity.ConnectedUser)
	if !ok || user.BackOffice {
		return nil
	}
	if user.HasAgency(conv.AgencyID) {
		return nil
	}

	agency, err := s.repo.GetAgency(ctx, q, conv.AgencyID)
	if err != nil {
		return err
	}
	if agency.RefersToAgencyID != nil && user.HasAgency(*agency.RefersToAgencyID) {
		return nil
	}
	return ErrRebroadcastWrongAgency
}

func ensureRebroadcastIdentity(by identity.TriggeredBy) error {
	switch v := by.(type) {
	case identity.ConnectedUser:
		return nil
	case identity.ConventionMagicLink:
		switch v.Role {
		case identity.RoleCounsellor, identity.RoleValidator, identity.RoleBackOffice:
			return nil
		}
		return ErrRebroadcastNotAllowed
	case identity.Crawler:
		return ErrRebroadcastNotAllowed
	default:
		return fmt.Errorf("broadcast: unhandled triggered-by kind %T", by)
	}
}
