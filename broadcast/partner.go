package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxResponseBody = 1024 // cap on stored partner response bodies

// PartnerNotifier is the outbound surface the orchestrator routes onto.
type PartnerNotifier interface {
	// NotifyOnConventionUpdated sends the legacy flat wire format.
	NotifyOnConventionUpdated(ctx context.Context, req Request) (Outcome, error)

	// BroadcastStandard sends the standard envelope for either event type.
	BroadcastStandard(ctx context.Context, eventType EventType, req Request) (Outcome, error)
}

// SyncRecorder reflects a broadcast outcome onto the convention's resync
// backlog row. Recording is update-only: conventions outside the backlog are
// untouched.
type SyncRecorder interface {
	RecordOutcome(ctx context.Context, conventionID string, outcome Outcome, at time.Time) error
}

// LedgerAppender is the write surface of the feedback ledger.
type LedgerAppender interface {
	Append(ctx context.Context, fb Feedback) error
}

// PartnerGateway maps conventions onto the national agency's wire schemas and
// performs the HTTP calls. Delivery failures are ledger rows, never errors;
// only mapping bugs surface as errors. It never retries synchronously.
type PartnerGateway struct {
	client       *http.Client
	legacyURL    string
	standardURL  string
	apiKey       string
	allowedKinds map[string]struct{}
	ledger       LedgerAppender
	sync         SyncRecorder
	logger       *slog.Logger
	now          func() time.Time
}

// PartnerGatewayConfig wires a gateway.
type PartnerGatewayConfig struct {
	LegacyURL    string
	StandardURL  string
	APIKey       string
	Timeout      time.Duration
	AllowedKinds map[string]struct{}
}

func NewPartnerGateway(cfg PartnerGatewayConfig, ledger LedgerAppender, sync SyncRecorder, logger *slog.Logger) *PartnerGateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &PartnerGateway{
		client:       &http.Client{Timeout: cfg.Timeout},
		legacyURL:    cfg.LegacyURL,
		standardURL:  cfg.StandardURL,
		apiKey:       cfg.APIKey,
		allowedKinds: cfg.AllowedKinds,
		ledger:       ledger,
		sync:         sync,
		logger:       logger,
		now:          time.Now,
	}
}

// NotifyOnConventionUpdated sends the legacy flat format to the partner.
func (g *PartnerGateway) NotifyOnConventionUpdated(ctx context.Context, req Request) (Outcome, error) {
	if outcome, skipped := g.agencyGate(req); skipped {
		return g.record(ctx, req, outcome)
	}

	payload, err := buildLegacyPayload(req.Convention)
	if err != nil {
		return Outcome{}, err
	}

	outcome := g.post(ctx, g.legacyURL, payload)
	g.appendFeedback(ctx, ServiceNameConventionUpdated, req, outcome)
	return g.record(ctx, req, outcome)
}

// BroadcastStandard sends the standard envelope.
func (g *PartnerGateway) BroadcastStandard(ctx context.Context, eventType EventType, req Request) (Outcome, error) {
	if outcome, skipped := g.agencyGate(req); skipped {
		return g.record(ctx, req, outcome)
	}

	envelope, err := buildStandardEnvelope(eventType, req)
	if err != nil {
		return Outcome{}, err
	}

	serviceName := ServiceNameConventionUpdated
	if eventType == EventAssessmentCreated {
		serviceName = ServiceNameAssessmentCreated
	}

	outcome := g.post(ctx, g.standardURL, envelope)
	g.appendFeedback(ctx, serviceName, req, outcome)
	return g.record(ctx, req, outcome)
}

// agencyGate checks kind eligibility against the allow list, considering the
// refers-to parent. A gated-out convention is a skip, not an error, and
// writes no ledger row.
func (g *PartnerGateway) agencyGate(req Request) (Outcome, bool) {
	if _, ok := g.allowedKinds[req.Agency.Kind]; ok {
		return Outcome{}, false
	}
	if req.ParentAgency != nil {
		if _, ok := g.allowedKinds[req.ParentAgency.Kind]; ok {
			return Outcome{}, false
		}
	}

	return Outcome{
		Kind:   OutcomeSkipped,
		Reason: fmt.Sprintf("agency kind %q is not eligible for partner broadcast", req.Agency.Kind),
	}, true
}

// post performs one HTTP call and classifies the result. Timeouts and
// transport failures are delivery errors like any other.
func (g *PartnerGateway) post(ctx context.Context, url string, payload any) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Kind: OutcomeErrored, Reason: fmt.Sprintf("marshal payload: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: OutcomeErrored, Reason: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Outcome{Kind: OutcomeErrored, Reason: fmt.Sprintf("partner call: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return Outcome{Kind: OutcomeDelivered, HTTPStatus: resp.StatusCode, Reason: string(respBody)}
	default:
		return Outcome{
			Kind:       OutcomeErrored,
			HTTPStatus: resp.StatusCode,
			Reason:     string(respBody),
		}
	}
}

// appendFeedback writes the attempt to the ledger. Ledger trouble is logged,
// not propagated: the delivery result is already decided.
func (g *PartnerGateway) appendFeedback(ctx context.Context, serviceName string, req Request, outcome Outcome) {
	fb := Feedback{
		ServiceName:  serviceName,
		ConventionID: req.Convention.ID,
		RequestParams: map[string]any{
			"conventionId": req.Convention.ID,
			"externalId":   req.Convention.ExternalID,
			"agencyId":     req.Agency.ID,
		},
		Response:   &Response{HTTPStatus: outcome.HTTPStatus, Body: outcome.Reason},
		OccurredAt: g.now().UTC(),
	}

	if err := g.ledger.Append(ctx, fb); err != nil {
		g.logger.ErrorContext(ctx, "append feedback failed",
			"convention_id", req.Convention.ID, "service", serviceName, "error", err)
	}
}

// record reflects the outcome onto the resync backlog when a recorder is
// wired.
func (g *PartnerGateway) record(ctx context.Context, req Request, outcome Outcome) (Outcome, error) {
	if g.sync != nil {
		if err := g.sync.RecordOutcome(ctx, req.Convention.ID, outcome, g.now().UTC()); err != nil {
			g.logger.ErrorContext(ctx, "record sync outcome failed",
				"convention_id", req.Convention.ID, "error", err)
		}
	}
	return outcome, nil
}
