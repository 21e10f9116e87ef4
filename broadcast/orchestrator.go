package broadcast

import (
	"context"
	"log/slog"
)

type routeKey struct {
	eventType EventType
	standard  bool
}

type routeHandler func(ctx context.Context, o *Orchestrator, req Request) (Outcome, error)

// Orchestrator decides, per event type and format flag, which wire format
// reaches the partner. Routing is a closed table: an event type with no route
// under the active flag is dropped, not errored.
type Orchestrator struct {
	partner  PartnerNotifier
	standard bool
	logger   *slog.Logger
}

func NewOrchestrator(partner PartnerNotifier, flags FeatureFlags, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		partner:  partner,
		standard: flags.EnableStandardFormatBroadcastToPartner,
		logger:   logger,
	}
}

var routes = map[routeKey]routeHandler{
	{EventConventionUpdated, false}: func(ctx context.Context, o *Orchestrator, req Request) (Outcome, error) {
		return o.partner.NotifyOnConventionUpdated(ctx, req)
	},
	{EventConventionUpdated, true}: func(ctx context.Context, o *Orchestrator, req Request) (Outcome, error) {
		return o.partner.BroadcastStandard(ctx, EventConventionUpdated, req)
	},
	{EventAssessmentCreated, true}: func(ctx context.Context, o *Orchestrator, req Request) (Outcome, error) {
		if req.Assessment == nil {
			return Outcome{}, &MissingAssessmentError{ConventionID: req.Convention.ID}
		}
		return o.partner.BroadcastStandard(ctx, EventAssessmentCreated, req)
	},
	// Assessment events have no legacy representation: with the standard
	// format disabled they are dropped without a partner call.
}

// Broadcast routes one event to the partner.
func (o *Orchestrator) Broadcast(ctx context.Context, eventType EventType, req Request) (Outcome, error) {
	handler, ok := routes[routeKey{eventType, o.standard}]
	if !ok {
		o.logger.DebugContext(ctx, "no partner route for event",
			"event_type", string(eventType), "standard_format", o.standard,
			"convention_id", req.Convention.ID)
		return Outcome{Kind: OutcomeDropped, Reason: "no route for event type under active format"}, nil
	}
	return handler(ctx, o, req)
}
