package resync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"conventionflow/broadcast"
)

const maxConcurrentResyncs = 4

// Report summarizes one job run.
type Report struct {
	Success int
	Skips   map[string]string
	Errors  map[string]error
}

type backlog interface {
	ListToProcessOrErrored(ctx context.Context, limit int) ([]ConventionToSync, error)
	Get(ctx context.Context, conventionID string) (ConventionToSync, error)
	RecordError(ctx context.Context, conventionID string, at time.Time, reason string) error
}

type broadcaster interface {
	Broadcast(ctx context.Context, eventType broadcast.EventType, req broadcast.Request) (broadcast.Outcome, error)
}

type requestLoader interface {
	Load(ctx context.Context, conventionID string) (broadcast.Request, error)
}

// rowResult is one row's outcome, filled in by the worker that drove it and
// read only after the group is done.
type rowResult struct {
	conventionID string
	status       Status
	reason       string
	err          error
}

// Job re-drives partner broadcast for the backlog. The gateway's live
// recording does the bookkeeping; the job supplies ordering, concurrency and
// per-row error recovery.
type Job struct {
	backlog     backlog
	loader      requestLoader
	broadcaster broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewJob(backlog backlog, loader requestLoader, broadcaster broadcaster, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		backlog:     backlog,
		loader:      loader,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// Run drives up to limit backlog rows and reports per-row outcomes. A row
// failure never fails the run.
func (j *Job) Run(ctx context.Context, limit int) (Report, error) {
	rows, err := j.backlog.ListToProcessOrErrored(ctx, limit)
	if err != nil {
		return Report{}, err
	}

	results := make([]rowResult, len(rows))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentResyncs)

	for i, row := range rows {
		i, row := i, row
		group.Go(func() error {
			results[i] = j.driveRow(groupCtx, row)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{Skips: make(map[string]string), Errors: make(map[string]error)}
	for _, res := range results {
		switch {
		case res.err != nil:
			report.Errors[res.conventionID] = res.err
		case res.status == StatusSkip:
			report.Skips[res.conventionID] = res.reason
		case res.status == StatusSuccess:
			report.Success++
		}
	}

	j.logger.InfoContext(ctx, "resync run finished",
		"processed", len(rows), "success", report.Success,
		"skips", len(report.Skips), "errors", len(report.Errors))

	return report, nil
}

func (j *Job) driveRow(ctx context.Context, row ConventionToSync) rowResult {
	res := rowResult{conventionID: row.ConventionID}

	if err := j.rebroadcast(ctx, row.ConventionID); err != nil {
		res.err = err
		if recErr := j.backlog.RecordError(ctx, row.ConventionID, j.now().UTC(), err.Error()); recErr != nil {
			j.logger.ErrorContext(ctx, "record resync error failed",
				"convention_id", row.ConventionID, "error", recErr)
		}
		return res
	}

	// The gateway records the outcome while the call happens; the row's
	// post-call state is the source of truth.
	after, err := j.backlog.Get(ctx, row.ConventionID)
	if err != nil {
		res.err = err
		return res
	}

	switch after.Status {
	case StatusToProcess:
		res.err = fmt.Errorf("resync: convention %s is still TO_PROCESS after broadcast", row.ConventionID)
	case StatusError:
		res.err = fmt.Errorf("resync: broadcast of %s errored: %s", row.ConventionID, deref(after.Reason))
	case StatusSkip:
		res.status = StatusSkip
		res.reason = deref(after.Reason)
	case StatusSuccess:
		res.status = StatusSuccess
	}
	return res
}

// rebroadcast performs one guarded partner call. Panics in mapping or
// transport code are recovered into the row's error.
func (j *Job) rebroadcast(ctx context.Context, conventionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resync: broadcast of %s panicked: %v", conventionID, r)
		}
	}()

	req, err := j.loader.Load(ctx, conventionID)
	if err != nil {
		return err
	}

	// Resync always replays the convention-updated broadcast; under the
	// standard format the envelope carries the assessment when one exists.
	_, err = j.broadcaster.Broadcast(ctx, broadcast.EventConventionUpdated, req)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
