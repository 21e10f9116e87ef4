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

	"golang.org/x/sync/errgroup"

	"conventionflow/consumer"
)

const maxConcurrentWebhooks = 8

// webhookConvention extends the read model with the legacy occupation code
// field; it is only set for subscriptions that registered the shim.
type webhookConvention struct {
	ConventionRead
	LegacyAppellationCode string `json:"codeAppellation,omitempty"`
}

type webhookBody struct {
	Payload struct {
		Convention webhookConvention `json:"convention"`
	} `json:"payload"`
	SubscribedEvent string `json:"subscribedEvent"`
}

// WebhookNotifier pushes convention updates to every subscribed API consumer
// whose scope covers the convention's agency. Each consumer gets its own
// ledger row; one consumer's failure never blocks the others.
type WebhookNotifier struct {
	client *http.Client
	ledger LedgerAppender
	logger *slog.Logger
	now    func() time.Time
}

func NewWebhookNotifier(timeout time.Duration, ledger LedgerAppender, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// NotifyConventionUpdated fans the update out to all matching consumers. The
// returned error covers infrastructure only; consumer-side failures land in
// the ledger.
func (n *WebhookNotifier) NotifyConventionUpdated(ctx context.Context, req Request, consumers []consumer.ApiConsumer) error {
	read := NewConventionRead(req.Convention, req.Agency)

	encode := func(legacyCode bool) ([]byte, error) {
		var body webhookBody
		body.Payload.Convention = webhookConvention{ConventionRead: read}
		if legacyCode {
			body.Payload.Convention.LegacyAppellationCode = read.AppellationCode
		}
		body.SubscribedEvent = consumer.SubscribedEventConventionUpdated
		return json.Marshal(body)
	}

	modern, err := encode(false)
	if err != nil {
		return fmt.Errorf("broadcast: marshal webhook body: %w", err)
	}
	legacy, err := encode(true)
	if err != nil {
		return fmt.Errorf("broadcast: marshal webhook body: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentWebhooks)

	for _, c := range consumers {
		right, ok := c.ConventionRight()
		if !ok || !right.Scope.Matches(req.Agency, req.ParentAgency) {
			continue
		}
		sub, ok := c.SubscriptionFor(consumer.SubscribedEventConventionUpdated)
		if !ok {
			continue
		}

		body := modern
		if sub.LegacyOccupationCode {
			body = legacy
		}

		c, sub := c, sub
		group.Go(func() error {
			n.deliver(groupCtx, c, sub, req, body)
			return nil
		})
	}

	return group.Wait()
}

func (n *WebhookNotifier) deliver(ctx context.Context, c consumer.ApiConsumer, sub consumer.WebhookSubscription, req Request, body []byte) {
	fb := Feedback{
		ServiceName:  ServiceNameWebhookNotifier,
		ConsumerID:   c.ID,
		ConsumerName: c.Name,
		ConventionID: req.Convention.ID,
		RequestParams: map[string]any{
			"conventionId":   req.Convention.ID,
			"callbackUrl":    sub.CallbackURL,
			"subscriptionId": sub.ID,
		},
		OccurredAt: n.now().UTC(),
	}

	status, respBody, err := n.post(ctx, sub, body)
	if err != nil {
		fb.SubscriberError = &SubscriberError{Status: status, Message: err.Error()}
		n.logger.WarnContext(ctx, "webhook delivery failed",
			"consumer", c.Name, "convention_id", req.Convention.ID, "error", err)
	} else {
		fb.Response = &Response{HTTPStatus: status, Body: respBody}
	}

	if err := n.ledger.Append(ctx, fb); err != nil {
		n.logger.ErrorContext(ctx, "append webhook feedback failed",
			"consumer", c.Name, "convention_id", req.Convention.ID, "error", err)
	}
}

func (n *WebhookNotifier) post(ctx context.Context, sub consumer.WebhookSubscription, body []byte) (int, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for name, value := range sub.CallbackHeaders {
		httpReq.Header.Set(name, value)
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return 0, "", fmt.Errorf("call subscriber: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, "", fmt.Errorf("subscriber returned %d: %s", resp.StatusCode, string(respBody))
	}
	return resp.StatusCode, string(respBody), nil
}
