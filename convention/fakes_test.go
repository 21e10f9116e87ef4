package convention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"conventionflow/event"
	"conventionflow/identity"
)

func testConvention(status Status) Convention {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return Convention{
		ID:       "conv-1",
		AgencyID: "agency-1",
		Status:   status,
		DateStart: start,
		DateEnd:   start.AddDate(0, 0, 14),
		Schedule:  Schedule{TotalHours: 35},
		Signatories: Signatories{
			Beneficiary: Signatory{
				Role:      identity.RoleBeneficiary,
				FirstName: "Jean",
				LastName:  "Martin",
				Email:     "jean.martin@example.com",
			},
			EstablishmentRepresentative: Signatory{
				Role:      identity.RoleEstablishmentRepresentative,
				FirstName: "Claire",
				LastName:  "Moreau",
				Email:     "claire.moreau@example.com",
			},
		},
		EstablishmentSiret:   "12345678901234",
		EstablishmentName:    "Boulangerie Moreau",
		EstablishmentTutor:   Tutor{FirstName: "Claire", LastName: "Moreau", Job: "Gérante"},
		ImmersionAppellation: Appellation{Code: "11573", Label: "Boulanger"},
		ImmersionObjective:   "Découvrir le métier",
	}
}

func newTestFactory(t *testing.T) *event.Factory {
	t.Helper()
	f, err := event.NewFactory()
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	return f
}

// fakeOutbox records appended events and can simulate append failure.
type fakeOutbox struct {
	events    []event.DomainEvent
	appendErr error
}

func (f *fakeOutbox) Append(ctx context.Context, tx pgx.Tx, evt event.DomainEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeOutbox) topics() []event.Topic {
	out := make([]event.Topic, len(f.events))
	for i, evt := range f.events {
		out[i] = evt.Topic
	}
	return out
}

// fakeStore is an in-memory convention repository covering every service
// interface in this package.
type fakeStore struct {
	conventions map[string]Convention
	assessments map[string]Assessment
	insertErr   error
	reserveErr  error
	nextExtID   string
	inserted    bool
}

func newFakeStore(convs ...Convention) *fakeStore {
	s := &fakeStore{
		conventions: make(map[string]Convention),
		assessments: make(map[string]Assessment),
		nextExtID:   "IMM-000001",
	}
	for _, c := range convs {
		s.conventions[c.ID] = c
	}
	return s
}

func (s *fakeStore) Insert(ctx context.Context, tx pgx.Tx, conv Convention) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = true
	s.conventions[conv.ID] = conv
	return nil
}

func (s *fakeStore) ReserveExternalID(ctx context.Context, tx pgx.Tx, id string) (string, error) {
	if s.reserveErr != nil {
		return "", s.reserveErr
	}
	conv, ok := s.conventions[id]
	if !ok {
		return "", ErrConventionNotFound
	}
	conv.ExternalID = s.nextExtID
	s.conventions[id] = conv
	return s.nextExtID, nil
}

func (s *fakeStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error) {
	conv, ok := s.conventions[id]
	if !ok {
		return Convention{}, ErrConventionNotFound
	}
	return conv, nil
}

func (s *fakeStore) UpdateSignatoriesAndStatus(ctx context.Context, tx pgx.Tx, id string, signatories Signatories, status Status) error {
	conv, ok := s.conventions[id]
	if !ok {
		return ErrConventionNotFound
	}
	conv.Signatories = signatories
	conv.Status = status
	s.conventions[id] = conv
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, validatedAt *time.Time) error {
	conv, ok := s.conventions[id]
	if !ok {
		return ErrConventionNotFound
	}
	conv.Status = status
	if validatedAt != nil {
		conv.DateValidation = validatedAt
	}
	s.conventions[id] = conv
	return nil
}

func (s *fakeStore) UpdateCounsellorName(ctx context.Context, tx pgx.Tx, id, name string) error {
	conv, ok := s.conventions[id]
	if !ok {
		return ErrConventionNotFound
	}
	conv.AgencyCounsellorName = name
	s.conventions[id] = conv
	return nil
}

func (s *fakeStore) InsertAssessment(ctx context.Context, tx pgx.Tx, a Assessment) error {
	if _, exists := s.assessments[a.ConventionID]; exists {
		return ErrAssessmentAlreadyExists
	}
	s.assessments[a.ConventionID] = a
	return nil
}

// fakePool and fakeTx let the services run their transaction protocol
// without a database.
type fakePool struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
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
