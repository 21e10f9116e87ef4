package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"conventionflow/convention"
	"conventionflow/event"
	"conventionflow/identity"
)

func testRequest(status convention.Status) Request {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	submitted := start.AddDate(0, 0, -7)
	return Request{
		Convention: convention.Convention{
			ID:             "conv-1",
			ExternalID:     "IMM-000001",
			AgencyID:       "agency-1",
			Status:         status,
			DateSubmission: &submitted,
			DateStart:      start,
			DateEnd:        start.AddDate(0, 0, 14),
			Schedule:       convention.Schedule{TotalHours: 52.5},
			Signatories: convention.Signatories{
				Beneficiary: convention.Signatory{
					Role:      identity.RoleBeneficiary,
					FirstName: "Jean",
					LastName:  "Martin",
					Email:     "jean.martin@example.com",
					Phone:     "+33600000001",
				},
				EstablishmentRepresentative: convention.Signatory{
					Role:      identity.RoleEstablishmentRepresentative,
					FirstName: "Claire",
					LastName:  "Moreau",
					Email:     "claire.moreau@example.com",
				},
			},
			EstablishmentSiret:   "12345678901234",
			EstablishmentName:    "Boulangerie Moreau",
			EstablishmentTutor:   convention.Tutor{FirstName: "Claire", LastName: "Moreau", Job: "Gérante"},
			ImmersionAppellation: convention.Appellation{Code: "11573", Label: "Boulanger"},
			ImmersionObjective:   "Découvrir le métier",
		},
		Agency: convention.Agency{ID: "agency-1", Name: "Agence de Lyon", Kind: convention.AgencyKindPoleEmploi},
	}
}

// fakeLedger records appended feedback in memory.
type fakeLedger struct {
	rows      []Feedback
	appendErr error
	last      *Feedback
	lastErr   error
}

func (f *fakeLedger) Append(ctx context.Context, fb Feedback) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.rows = append(f.rows, fb)
	return nil
}

func (f *fakeLedger) LastForConvention(ctx context.Context, conventionID string) (Feedback, error) {
	if f.lastErr != nil {
		return Feedback{}, f.lastErr
	}
	if f.last == nil {
		return Feedback{}, ErrNoFeedback
	}
	return *f.last, nil
}

// fakeSync records outcome reflections onto the resync backlog.
type fakeSync struct {
	outcomes map[string]Outcome
}

func newFakeSync() *fakeSync {
	return &fakeSync{outcomes: make(map[string]Outcome)}
}

func (f *fakeSync) RecordOutcome(ctx context.Context, conventionID string, outcome Outcome, at time.Time) error {
	f.outcomes[conventionID] = outcome
	return nil
}

// fakePartner records orchestrator routing decisions.
type fakePartner struct {
	legacyCalls   []Request
	standardCalls []EventType
	outcome       Outcome
	err           error
}

func (f *fakePartner) NotifyOnConventionUpdated(ctx context.Context, req Request) (Outcome, error) {
	f.legacyCalls = append(f.legacyCalls, req)
	return f.outcome, f.err
}

func (f *fakePartner) BroadcastStandard(ctx context.Context, eventType EventType, req Request) (Outcome, error) {
	f.standardCalls = append(f.standardCalls, eventType)
	return f.outcome, f.err
}

// fakeConvStore backs the rebroadcast service without a database.
type fakeConvStore struct {
	conventions map[string]convention.Convention
	agencies    map[string]convention.Agency
	assessments map[string]convention.Assessment
}

func newFakeConvStore(convs ...convention.Convention) *fakeConvStore {
	s := &fakeConvStore{
		conventions: make(map[string]convention.Convention),
		agencies:    make(map[string]convention.Agency),
		assessments: make(map[string]convention.Assessment),
	}
	for _, c := range convs {
		s.conventions[c.ID] = c
	}
	return s
}

func (s *fakeConvStore) Get(ctx context.Context, q convention.Queryer, id string) (convention.Convention, error) {
	conv, ok := s.conventions[id]
	if !ok {
		return convention.Convention{}, convention.ErrConventionNotFound
	}
	return conv, nil
}

func (s *fakeConvStore) GetAgency(ctx context.Context, q convention.Queryer, id string) (convention.Agency, error) {
	a, ok := s.agencies[id]
	if !ok {
		return convention.Agency{}, convention.ErrAgencyNotFound
	}
	return a, nil
}

func (s *fakeConvStore) GetAssessment(ctx context.Context, q convention.Queryer, conventionID string) (convention.Assessment, error) {
	a, ok := s.assessments[conventionID]
	if !ok {
		return convention.Assessment{}, convention.ErrAssessmentNotFound
	}
	return a, nil
}

// fakeOutbox records appended events.
type fakeOutbox struct {
	events []event.DomainEvent
}

func (f *fakeOutbox) Append(ctx context.Context, tx pgx.Tx, evt event.DomainEvent) error {
	f.events = append(f.events, evt)
	return nil
}

// fakePool and fakeTx satisfy the transaction protocol in memory.
type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
