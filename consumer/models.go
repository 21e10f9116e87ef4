package consumer

import (
	"time"

	"conventionflow/convention"
)

// SubscribedEventConventionUpdated is the event name API consumers subscribe
// to for convention lifecycle notifications.
const SubscribedEventConventionUpdated = "convention.updated"

// RightConvention names the domain right covering convention data.
const RightConvention = "convention"

// ApiConsumer is an external API subscriber. Rights are keyed by domain-right
// name; only the "convention" right matters to this subsystem.
type ApiConsumer struct {
	ID      string
	Name    string
	KeyHash string
	Rights  map[string]Right
}

// Right carries a scope plus the consumer's webhook subscriptions for that
// domain.
type Right struct {
	Scope         Scope                 `json:"scope"`
	Subscriptions []WebhookSubscription `json:"subscriptions"`
}

// Scope restricts a right to specific agencies, by id or by kind. An empty
// scope matches nothing.
type Scope struct {
	AgencyIDs   []string `json:"agencyIds,omitempty"`
	AgencyKinds []string `json:"agencyKinds,omitempty"`
}

// WebhookSubscription is one registered callback. LegacyOccupationCode marks
// integrations that still parse the duplicated occupation-code field.
type WebhookSubscription struct {
	ID                   string            `json:"id"`
	SubscribedEvent      string            `json:"subscribedEvent"`
	CallbackURL          string            `json:"callbackUrl"`
	CallbackHeaders      map[string]string `json:"callbackHeaders,omitempty"`
	LegacyOccupationCode bool              `json:"legacyOccupationCode,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
}

// Matches reports whether the scope covers the convention's agency or its
// refers-to parent.
func (s Scope) Matches(agency convention.Agency, parent *convention.Agency) bool {
	if s.matchesOne(agency) {
		return true
	}
	return parent != nil && s.matchesOne(*parent)
}

func (s Scope) matchesOne(agency convention.Agency) bool {
	for _, id := range s.AgencyIDs {
		if id == agency.ID {
			return true
		}
	}
	for _, kind := range s.AgencyKinds {
		if kind == agency.Kind {
			return true
		}
	}
	return false
}

// ConventionRight returns the consumer's convention right, if granted.
func (c ApiConsumer) ConventionRight() (Right, bool) {
	r, ok := c.Rights[RightConvention]
	return r, ok
}

// SubscriptionFor returns the consumer's active subscription to the named
// event under its convention right, if any.
func (c ApiConsumer) SubscriptionFor(eventName string) (WebhookSubscription, bool) {
	right, ok := c.ConventionRight()
	if !ok {
		return WebhookSubscription{}, false
	}
	for _, sub := range right.Subscriptions {
		if sub.SubscribedEvent == eventName {
			return sub, true
		}
	}
	return WebhookSubscription{}, false
}
