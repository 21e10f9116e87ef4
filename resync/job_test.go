package resync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"conventionflow/broadcast"
	"conventionflow/convention"
)

// fakeBacklog is an in-memory backlog that mirrors the repository's update
// rules: SUCCESS is terminal, and only TO_PROCESS and ERROR rows are listed.
type fakeBacklog struct {
	rows map[string]ConventionToSync
}

func newFakeBacklog(rows ...ConventionToSync) *fakeBacklog {
	b := &fakeBacklog{rows: make(map[string]ConventionToSync)}
	for _, row := range rows {
		b.rows[row.ConventionID] = row
	}
	return b
}

func (b *fakeBacklog) ListToProcessOrErrored(ctx context.Context, limit int) ([]ConventionToSync, error) {
	var out []ConventionToSync
	for _, row := range b.rows {
		if row.Status == StatusToProcess || row.Status == StatusError {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *fakeBacklog) Get(ctx context.Context, conventionID string) (ConventionToSync, error) {
	row, ok := b.rows[conventionID]
	if !ok {
		return ConventionToSync{}, ErrNotInBacklog
	}
	return row, nil
}

func (b *fakeBacklog) RecordError(ctx context.Context, conventionID string, at time.Time, reason string) error {
	row, ok := b.rows[conventionID]
	if !ok || row.Status == StatusSuccess {
		return nil
	}
	row.Status = StatusError
	row.ProcessDate = &at
	row.Reason = &reason
	b.rows[conventionID] = row
	return nil
}

// recordOutcome mimics the gateway's live recording during a broadcast.
func (b *fakeBacklog) recordOutcome(conventionID string, status Status, reason string) {
	row, ok := b.rows[conventionID]
	if !ok || row.Status == StatusSuccess {
		return
	}
	row.Status = status
	if reason != "" {
		row.Reason = &reason
	}
	b.rows[conventionID] = row
}

// fakeLoader serves broadcast requests for known conventions.
type fakeLoader struct {
	known map[string]broadcast.Request
}

func (l *fakeLoader) Load(ctx context.Context, conventionID string) (broadcast.Request, error) {
	req, ok := l.known[conventionID]
	if !ok {
		return broadcast.Request{}, convention.ErrConventionNotFound
	}
	return req, nil
}

// fakeBroadcaster drives the backlog the way the real gateway does, via its
// recorder, and can fail specific conventions.
type fakeBroadcaster struct {
	backlog  *fakeBacklog
	outcomes map[string]broadcast.Outcome
	calls    []string
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, eventType broadcast.EventType, req broadcast.Request) (broadcast.Outcome, error) {
	id := req.Convention.ID
	f.calls = append(f.calls, id)

	outcome, ok := f.outcomes[id]
	if !ok {
		outcome = broadcast.Outcome{Kind: broadcast.OutcomeDelivered, HTTPStatus: 200}
	}

	switch outcome.Kind {
	case broadcast.OutcomeDelivered:
		f.backlog.recordOutcome(id, StatusSuccess, "")
	case broadcast.OutcomeSkipped:
		f.backlog.recordOutcome(id, StatusSkip, outcome.Reason)
	case broadcast.OutcomeErrored:
		f.backlog.recordOutcome(id, StatusError, outcome.Reason)
	}
	return outcome, nil
}

func requestFor(id string) broadcast.Request {
	return broadcast.Request{
		Convention: convention.Convention{ID: id, AgencyID: "agency-1", Status: convention.StatusAcceptedByValidator},
		Agency:     convention.Agency{ID: "agency-1", Kind: convention.AgencyKindPoleEmploi},
	}
}

func TestJobDrivesBacklogRows(t *testing.T) {
	backlog := newFakeBacklog(
		ConventionToSync{ConventionID: "conv-1", Status: StatusToProcess},
		ConventionToSync{ConventionID: "conv-2", Status: StatusError},
	)
	loader := &fakeLoader{known: map[string]broadcast.Request{
		"conv-1": requestFor("conv-1"),
		"conv-2": requestFor("conv-2"),
	}}
	caster := &fakeBroadcaster{backlog: backlog}

	job := NewJob(backlog, loader, caster, nil)
	report, err := job.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Success != 2 || len(report.Skips) != 0 || len(report.Errors) != 0 {
		t.Errorf("report = %+v", report)
	}
	if backlog.rows["conv-1"].Status != StatusSuccess {
		t.Errorf("conv-1 status = %s", backlog.rows["conv-1"].Status)
	}
}

func TestJobNeverRedrivesSettledRows(t *testing.T) {
	backlog := newFakeBacklog(
		ConventionToSync{ConventionID: "conv-done", Status: StatusSuccess},
		ConventionToSync{ConventionID: "conv-skipped", Status: StatusSkip},
		ConventionToSync{ConventionID: "conv-pending", Status: StatusToProcess},
	)
	loader := &fakeLoader{known: map[string]broadcast.Request{
		"conv-pending": requestFor("conv-pending"),
	}}
	caster := &fakeBroadcaster{backlog: backlog}

	job := NewJob(backlog, loader, caster, nil)
	report, err := job.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(caster.calls) != 1 || caster.calls[0] != "conv-pending" {
		t.Errorf("broadcast calls = %v, want the pending row only", caster.calls)
	}
	if report.Success != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestJobRecoversPerRowErrors(t *testing.T) {
	backlog := newFakeBacklog(
		ConventionToSync{ConventionID: "conv-ok", Status: StatusToProcess},
		ConventionToSync{ConventionID: "conv-gone", Status: StatusToProcess},
	)
	// conv-gone is missing from the loader: its row errors, the other row
	// still completes.
	loader := &fakeLoader{known: map[string]broadcast.Request{
		"conv-ok": requestFor("conv-ok"),
	}}
	caster := &fakeBroadcaster{backlog: backlog}

	job := NewJob(backlog, loader, caster, nil)
	report, err := job.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Success != 1 {
		t.Errorf("success = %d", report.Success)
	}
	rowErr, ok := report.Errors["conv-gone"]
	if !ok || !errors.Is(rowErr, convention.ErrConventionNotFound) {
		t.Errorf("errors = %v", report.Errors)
	}
	if backlog.rows["conv-gone"].Status != StatusError {
		t.Errorf("conv-gone status = %s", backlog.rows["conv-gone"].Status)
	}
}

func TestJobReportsSkips(t *testing.T) {
	backlog := newFakeBacklog(ConventionToSync{ConventionID: "conv-1", Status: StatusToProcess})
	loader := &fakeLoader{known: map[string]broadcast.Request{"conv-1": requestFor("conv-1")}}
	caster := &fakeBroadcaster{
		backlog: backlog,
		outcomes: map[string]broadcast.Outcome{
			"conv-1": {Kind: broadcast.OutcomeSkipped, Reason: "agency kind \"autre\" is not eligible for partner broadcast"},
		},
	}

	job := NewJob(backlog, loader, caster, nil)
	report, err := job.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Success != 0 || len(report.Errors) != 0 {
		t.Errorf("report = %+v", report)
	}
	if reason := report.Skips["conv-1"]; !strings.Contains(reason, "not eligible") {
		t.Errorf("skip reason = %q", reason)
	}
}

func TestJobFlagsRowsStillToProcess(t *testing.T) {
	backlog := newFakeBacklog(ConventionToSync{ConventionID: "conv-1", Status: StatusToProcess})
	loader := &fakeLoader{known: map[string]broadcast.Request{"conv-1": requestFor("conv-1")}}
	// Dropped outcomes never reach the gateway's recorder, so the row
	// stays TO_PROCESS.
	caster := &fakeBroadcaster{
		backlog:  backlog,
		outcomes: map[string]broadcast.Outcome{"conv-1": {Kind: broadcast.OutcomeDropped}},
	}

	job := NewJob(backlog, loader, caster, nil)
	report, err := job.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rowErr, ok := report.Errors["conv-1"]
	if !ok || !strings.Contains(rowErr.Error(), "still TO_PROCESS") {
		t.Errorf("errors = %v", report.Errors)
	}
}
