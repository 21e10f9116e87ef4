package convention

import (
	"context"
	"errors"
	"testing"

	"conventionflow/event"
	"conventionflow/identity"
)

func TestSubmit_RejectsForbiddenStatus(t *testing.T) {
	for _, status := range []Status{StatusDraft, StatusPartiallySigned, StatusInReview, StatusAcceptedByValidator, StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			pool := &fakePool{}
			store := newFakeStore()
			outbox := &fakeOutbox{}
			svc := NewSubmitService(pool, store, newTestFactory(t), outbox)

			_, err := svc.Submit(context.Background(), testConvention(status), identity.ConnectedUser{UserID: "user-1"})

			var forbidden *ForbiddenStatusError
			if !errors.As(err, &forbidden) {
				t.Fatalf("expected ForbiddenStatusError, got %v", err)
			}
			if store.inserted {
				t.Error("expected nothing persisted on forbidden status")
			}
			if pool.tx != nil {
				t.Error("expected no transaction to be opened")
			}
			if len(outbox.events) != 0 {
				t.Error("expected no event emitted")
			}
		})
	}
}

func TestSubmit_Success(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore()
	outbox := &fakeOutbox{}
	svc := NewSubmitService(pool, store, newTestFactory(t), outbox)

	conv, err := svc.Submit(context.Background(), testConvention(StatusReadyToSign), identity.ConnectedUser{UserID: "user-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if conv.ExternalID != "IMM-000001" {
		t.Errorf("external id = %q", conv.ExternalID)
	}
	if conv.DateSubmission == nil {
		t.Error("expected submission date to be stamped")
	}
	if got := outbox.topics(); len(got) != 1 || got[0] != event.ConventionSubmittedByBeneficiary {
		t.Errorf("topics = %v", got)
	}
}

func TestSubmit_OutboxAppendFailureRollsBack(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore()
	outbox := &fakeOutbox{appendErr: errors.New("outbox down")}
	svc := NewSubmitService(pool, store, newTestFactory(t), outbox)

	_, err := svc.Submit(context.Background(), testConvention(StatusReadyToSign), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if pool.tx.committed {
		t.Error("expected commit to be skipped when the event append fails")
	}
	if !pool.tx.rolled {
		t.Error("expected rollback")
	}
}

func TestSign_FirstSignatureGoesPartiallySigned(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusReadyToSign))
	outbox := &fakeOutbox{}
	svc := NewSignService(pool, store, newTestFactory(t), outbox)

	conv, err := svc.Sign(context.Background(), "conv-1", identity.RoleBeneficiary,
		identity.ConventionMagicLink{Role: identity.RoleBeneficiary})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if conv.Status != StatusPartiallySigned {
		t.Errorf("status = %s, want PARTIALLY_SIGNED", conv.Status)
	}
	if conv.Signatories.Beneficiary.SignedAt == nil {
		t.Error("expected beneficiary signature timestamp")
	}
	if got := outbox.topics(); len(got) != 1 || got[0] != event.ConventionPartiallySigned {
		t.Errorf("topics = %v", got)
	}
}

func TestSign_LastSignatureAdvancesToInReview(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusReadyToSign))
	outbox := &fakeOutbox{}
	svc := NewSignService(pool, store, newTestFactory(t), outbox)

	ctx := context.Background()
	if _, err := svc.Sign(ctx, "conv-1", identity.RoleBeneficiary, nil); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	conv, err := svc.Sign(ctx, "conv-1", identity.RoleEstablishmentRepresentative, nil)
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}

	if conv.Status != StatusInReview {
		t.Errorf("status = %s, want IN_REVIEW", conv.Status)
	}
	got := outbox.topics()
	if len(got) != 2 || got[0] != event.ConventionPartiallySigned || got[1] != event.ConventionFullySigned {
		t.Errorf("topics = %v", got)
	}
}

func TestSign_IsIdempotentPerSignatory(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusReadyToSign))
	outbox := &fakeOutbox{}
	svc := NewSignService(pool, store, newTestFactory(t), outbox)

	ctx := context.Background()
	first, err := svc.Sign(ctx, "conv-1", identity.RoleBeneficiary, nil)
	if err != nil {
		t.Fatalf("first sign: %v", err)
	}
	second, err := svc.Sign(ctx, "conv-1", identity.RoleBeneficiary, nil)
	if err != nil {
		t.Fatalf("re-sign: %v", err)
	}

	if second.Status != first.Status {
		t.Errorf("re-sign changed status: %s -> %s", first.Status, second.Status)
	}
	if !second.Signatories.Beneficiary.SignedAt.Equal(*first.Signatories.Beneficiary.SignedAt) {
		t.Error("re-sign moved the signature timestamp")
	}
	if got := outbox.topics(); len(got) != 1 {
		t.Errorf("expected exactly one event, got %v", got)
	}
}

func TestSign_ForbiddenFromTerminalStatus(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusAcceptedByValidator))
	svc := NewSignService(pool, store, newTestFactory(t), &fakeOutbox{})

	_, err := svc.Sign(context.Background(), "conv-1", identity.RoleBeneficiary, nil)
	var forbidden *ForbiddenStatusError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenStatusError, got %v", err)
	}
}

func TestRenew_OnlyFromAcceptedByValidator(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusInReview))
	submit := NewSubmitService(pool, store, newTestFactory(t), &fakeOutbox{})
	svc := NewRenewService(pool, store, submit)

	_, err := svc.Renew(context.Background(), RenewParams{ConventionID: "conv-1"},
		identity.ConventionMagicLink{Role: identity.RoleValidator})
	var forbidden *ForbiddenStatusError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenStatusError, got %v", err)
	}
}

func TestRenew_CreatesFreshConventionThroughSubmit(t *testing.T) {
	original := testConvention(StatusAcceptedByValidator)
	signed := original
	now := original.DateStart
	signed.Signatories.Beneficiary.SignedAt = &now
	signed.Signatories.EstablishmentRepresentative.SignedAt = &now
	validation := now.AddDate(0, 0, 1)
	signed.DateValidation = &validation

	pool := &fakePool{}
	store := newFakeStore(signed)
	outbox := &fakeOutbox{}
	submit := NewSubmitService(pool, store, newTestFactory(t), outbox)
	svc := NewRenewService(pool, store, submit)

	renewed, err := svc.Renew(context.Background(), RenewParams{
		ConventionID: "conv-1",
		DateStart:    now.AddDate(0, 1, 0),
		DateEnd:      now.AddDate(0, 1, 14),
	}, identity.ConventionMagicLink{Role: identity.RoleCounsellor})
	if err != nil {
		t.Fatalf("renew: %v", err)
	}

	if renewed.ID == "conv-1" {
		t.Error("expected a fresh id")
	}
	if renewed.RenewedFrom == nil || *renewed.RenewedFrom != "conv-1" {
		t.Error("expected renewed convention to reference the original")
	}
	if renewed.Status != StatusReadyToSign {
		t.Errorf("status = %s, want READY_TO_SIGN", renewed.Status)
	}
	if renewed.Signatories.AnySigned() {
		t.Error("expected signatures to be cleared")
	}
	if renewed.DateValidation != nil {
		t.Error("expected validation date to be cleared")
	}
	got := outbox.topics()
	if len(got) != 2 || got[0] != event.ConventionSubmittedByBeneficiary || got[1] != event.ConventionRenewed {
		t.Errorf("topics = %v", got)
	}
}

func TestRenew_RefusesUnauthorizedIdentity(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusAcceptedByValidator))
	submit := NewSubmitService(pool, store, newTestFactory(t), &fakeOutbox{})
	svc := NewRenewService(pool, store, submit)

	for _, by := range []identity.TriggeredBy{
		identity.ConventionMagicLink{Role: identity.RoleBeneficiary},
		identity.Crawler{},
		nil,
	} {
		if _, err := svc.Renew(context.Background(), RenewParams{ConventionID: "conv-1"}, by); !errors.Is(err, ErrRenewalNotAllowed) {
			t.Errorf("identity %#v: expected ErrRenewalNotAllowed, got %v", by, err)
		}
	}
}

func TestTransition_AcceptedByValidatorStampsValidation(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusInReview))
	outbox := &fakeOutbox{}
	svc := NewStatusService(pool, store, newTestFactory(t), outbox)

	conv, err := svc.Transition(context.Background(), TransitionParams{
		ConventionID: "conv-1",
		NextStatus:   StatusAcceptedByValidator,
	}, identity.ConnectedUser{UserID: "validator-1"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if conv.Status != StatusAcceptedByValidator {
		t.Errorf("status = %s", conv.Status)
	}
	if conv.DateValidation == nil {
		t.Error("expected validation date")
	}
	if got := outbox.topics(); len(got) != 1 || got[0] != event.ConventionAcceptedByValidator {
		t.Errorf("topics = %v", got)
	}
}

func TestTransition_IllegalTargetRejected(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusAcceptedByValidator))
	svc := NewStatusService(pool, store, newTestFactory(t), &fakeOutbox{})

	_, err := svc.Transition(context.Background(), TransitionParams{
		ConventionID: "conv-1",
		NextStatus:   StatusRejected,
	}, nil)
	var forbidden *ForbiddenStatusError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenStatusError, got %v", err)
	}
}

func TestEditCounsellorName_AllowListAndEvent(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusInReview))
	outbox := &fakeOutbox{}
	svc := NewEditService(pool, store, newTestFactory(t), outbox)

	if err := svc.EditCounsellorName(context.Background(), "conv-1", "Sophie Bernard", nil); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := store.conventions["conv-1"].AgencyCounsellorName; got != "Sophie Bernard" {
		t.Errorf("counsellor name = %q", got)
	}
	if got := outbox.topics(); len(got) != 1 || got[0] != event.ConventionCounsellorNameEdited {
		t.Errorf("topics = %v", got)
	}

	// Forbidden once validated.
	store.conventions["conv-1"] = testConvention(StatusAcceptedByValidator)
	err := svc.EditCounsellorName(context.Background(), "conv-1", "Autre Nom", nil)
	var forbidden *ForbiddenStatusError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenStatusError, got %v", err)
	}
}

func TestCreateAssessment(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore(testConvention(StatusAcceptedByValidator))
	outbox := &fakeOutbox{}
	svc := NewAssessmentService(pool, store, newTestFactory(t), outbox)

	a, err := svc.Create(context.Background(), CreateAssessmentParams{
		ConventionID: "conv-1",
		Status:       AssessmentCompleted,
	}, identity.ConventionMagicLink{Role: identity.RoleEstablishmentRepresentative})
	if err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	if a.Status != AssessmentCompleted {
		t.Errorf("status = %s", a.Status)
	}
	if got := outbox.topics(); len(got) != 1 || got[0] != event.AssessmentCreated {
		t.Errorf("topics = %v", got)
	}

	if _, err := svc.Create(context.Background(), CreateAssessmentParams{
		ConventionID: "conv-1",
		Status:       AssessmentCompleted,
	}, nil); !errors.Is(err, ErrAssessmentAlreadyExists) {
		t.Errorf("expected ErrAssessmentAlreadyExists, got %v", err)
	}
}
