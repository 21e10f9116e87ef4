package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conventionflow/identity"
)

// Factory builds well-formed domain events. Quarantined topics are fixed at
// construction: their events are still persisted, but marked non-publishable
// so a noisy topic can be paused without code changes.
type Factory struct {
	idGenerator func() string
	now         func() time.Time
	quarantined map[Topic]struct{}
}

// NewFactory builds a factory. Unknown quarantined topics are a configuration
// error and fail construction.
func NewFactory(quarantined ...Topic) (*Factory, error) {
	q := make(map[Topic]struct{}, len(quarantined))
	for _, t := range quarantined {
		if !t.Valid() {
			return nil, fmt.Errorf("event: quarantined topic %q is not a known topic", t)
		}
		q[t] = struct{}{}
	}

	return &Factory{
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
		quarantined: q,
	}, nil
}

// CreateNewEvent stamps id, occurredAt and triggeredBy onto a new event for
// the given topic. The payload must marshal; topic must be known.
func (f *Factory) CreateNewEvent(topic Topic, payload any, triggeredBy identity.TriggeredBy) (DomainEvent, error) {
	if !topic.Valid() {
		return DomainEvent{}, fmt.Errorf("event: unknown topic %q", topic)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("event: marshal payload for %s: %w", topic, err)
	}

	status := StatusPending
	if _, ok := f.quarantined[topic]; ok {
		status = StatusQuarantined
	}

	return DomainEvent{
		ID:          f.idGenerator(),
		Topic:       topic,
		OccurredAt:  f.now().UTC(),
		Payload:     body,
		TriggeredBy: triggeredBy,
		Status:      status,
	}, nil
}
