package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conventionflow/consumer"
	"conventionflow/convention"
	"conventionflow/event"
)

// RequestLoader assembles the full broadcast context for a convention: the
// aggregate, its agency, the refers-to parent when set, and the assessment
// when one exists.
type RequestLoader struct {
	pool convention.Queryer
	repo *convention.Repository
}

func NewRequestLoader(pool convention.Queryer) *RequestLoader {
	return &RequestLoader{pool: pool, repo: convention.NewRepository()}
}

func (l *RequestLoader) Load(ctx context.Context, conventionID string) (Request, error) {
	conv, err := l.repo.Get(ctx, l.pool, conventionID)
	if err != nil {
		return Request{}, err
	}

	agency, err := l.repo.GetAgency(ctx, l.pool, conv.AgencyID)
	if err != nil {
		return Request{}, err
	}

	req := Request{Convention: conv, Agency: agency}

	if agency.RefersToAgencyID != nil {
		parent, err := l.repo.GetAgency(ctx, l.pool, *agency.RefersToAgencyID)
		if err != nil {
			return Request{}, err
		}
		req.ParentAgency = &parent
	}

	assessment, err := l.repo.GetAssessment(ctx, l.pool, conventionID)
	switch {
	case err == nil:
		req.Assessment = &assessment
	case errors.Is(err, convention.ErrAssessmentNotFound):
		// no assessment yet, broadcast without one
	default:
		return Request{}, err
	}

	return req, nil
}

// eventRoutes maps outbox topics onto partner event types. Topics absent from
// the table are internal and publish without a partner call.
var eventRoutes = map[event.Topic]EventType{
	event.ConventionSubmittedByBeneficiary:           EventConventionUpdated,
	event.ConventionPartiallySigned:                  EventConventionUpdated,
	event.ConventionFullySigned:                      EventConventionUpdated,
	event.ConventionAcceptedByCounsellor:             EventConventionUpdated,
	event.ConventionAcceptedByValidator:              EventConventionUpdated,
	event.ConventionRejected:                         EventConventionUpdated,
	event.ConventionCancelled:                        EventConventionUpdated,
	event.ConventionDeprecated:                       EventConventionUpdated,
	event.ConventionCounsellorNameEdited:             EventConventionUpdated,
	event.ConventionBeneficiaryBirthdateEdited:       EventConventionUpdated,
	event.ConventionBroadcastRequested:               EventConventionUpdated,
	event.AssessmentCreated:                          EventAssessmentCreated,
	event.ConventionWithAssessmentBroadcastRequested: EventAssessmentCreated,
}

type eventStore interface {
	ListPending(ctx context.Context, limit int) ([]event.DomainEvent, error)
	MarkPublished(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string) error
}

type consumerLister interface {
	ListActiveConventionConsumers(ctx context.Context) ([]consumer.ApiConsumer, error)
}

type requestLoader interface {
	Load(ctx context.Context, conventionID string) (Request, error)
}

// Dispatcher drains the outbox: each pending event is resolved to its
// convention context, routed to the partner orchestrator and, for convention
// updates, fanned out to webhook consumers. Events publish independently; one
// bad event never wedges the queue.
type Dispatcher struct {
	store        eventStore
	loader       requestLoader
	orchestrator *Orchestrator
	notifier     *WebhookNotifier
	consumers    consumerLister
	logger       *slog.Logger
	batchSize    int
}

func NewDispatcher(store eventStore, loader requestLoader, orchestrator *Orchestrator, notifier *WebhookNotifier, consumers consumerLister, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:        store,
		loader:       loader,
		orchestrator: orchestrator,
		notifier:     notifier,
		consumers:    consumers,
		logger:       logger,
		batchSize:    50,
	}
}

// Run polls the outbox until the context ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.ErrorContext(ctx, "outbox tick failed", "error", err)
			}
		}
	}
}

// Tick processes one batch of pending events.
func (d *Dispatcher) Tick(ctx context.Context) error {
	events, err := d.store.ListPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, evt := range events {
		if err := d.dispatch(ctx, evt); err != nil {
			d.logger.WarnContext(ctx, "event dispatch failed",
				"event_id", evt.ID, "topic", string(evt.Topic), "error", err)
			if markErr := d.store.MarkFailed(ctx, evt.ID); markErr != nil {
				return markErr
			}
			continue
		}
		if err := d.store.MarkPublished(ctx, evt.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, evt event.DomainEvent) error {
	eventType, routed := eventRoutes[evt.Topic]
	if !routed {
		return nil
	}

	var payload struct {
		ConventionID string `json:"conventionId"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("broadcast: decode payload of %s: %w", evt.Topic, err)
	}
	if payload.ConventionID == "" {
		return fmt.Errorf("broadcast: event %s carries no convention id", evt.ID)
	}

	req, err := d.loader.Load(ctx, payload.ConventionID)
	if err != nil {
		return err
	}

	if _, err := d.orchestrator.Broadcast(ctx, eventType, req); err != nil {
		return err
	}

	if eventType == EventConventionUpdated {
		subscribers, err := d.consumers.ListActiveConventionConsumers(ctx)
		if err != nil {
			return err
		}
		if err := d.notifier.NotifyConventionUpdated(ctx, req, subscribers); err != nil {
			return err
		}
	}

	return nil
}
