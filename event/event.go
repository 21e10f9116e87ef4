package event

import (
	"encoding/json"
	"time"

	"conventionflow/identity"
)

// Topic tags a domain event. The set is closed: the factory refuses anything
// not listed here, so an unknown topic is caught at construction, never at
// dispatch.
type Topic string

const (
	ConventionSubmittedByBeneficiary           Topic = "ConventionSubmittedByBeneficiary"
	ConventionPartiallySigned                  Topic = "ConventionPartiallySigned"
	ConventionFullySigned                      Topic = "ConventionFullySigned"
	ConventionAcceptedByCounsellor             Topic = "ConventionAcceptedByCounsellor"
	ConventionAcceptedByValidator              Topic = "ConventionAcceptedByValidator"
	ConventionRejected                         Topic = "ConventionRejected"
	ConventionCancelled                        Topic = "ConventionCancelled"
	ConventionDeprecated                       Topic = "ConventionDeprecated"
	ConventionRenewed                          Topic = "ConventionRenewed"
	ConventionCounsellorNameEdited             Topic = "ConventionCounsellorNameEdited"
	ConventionBeneficiaryBirthdateEdited       Topic = "ConventionBeneficiaryBirthdateEdited"
	ConventionBroadcastRequested               Topic = "ConventionBroadcastRequested"
	ConventionWithAssessmentBroadcastRequested Topic = "ConventionWithAssessmentBroadcastRequested"
	AssessmentCreated                          Topic = "AssessmentCreated"
)

var knownTopics = map[Topic]struct{}{
	ConventionSubmittedByBeneficiary:           {},
	ConventionPartiallySigned:                  {},
	ConventionFullySigned:                      {},
	ConventionAcceptedByCounsellor:             {},
	ConventionAcceptedByValidator:              {},
	ConventionRejected:                         {},
	ConventionCancelled:                        {},
	ConventionDeprecated:                       {},
	ConventionRenewed:                          {},
	ConventionCounsellorNameEdited:             {},
	ConventionBeneficiaryBirthdateEdited:       {},
	ConventionBroadcastRequested:               {},
	ConventionWithAssessmentBroadcastRequested: {},
	AssessmentCreated:                          {},
}

// Valid reports whether t belongs to the closed topic set.
func (t Topic) Valid() bool {
	_, ok := knownTopics[t]
	return ok
}

// PublicationStatus tracks outbox delivery. Payloads are immutable once
// persisted; only publication records move.
type PublicationStatus string

const (
	// StatusPending awaits dispatch.
	StatusPending PublicationStatus = "PENDING"
	// StatusPublished was handed to every handler successfully.
	StatusPublished PublicationStatus = "PUBLISHED"
	// StatusFailed had at least one handler fail; eligible for republish.
	StatusFailed PublicationStatus = "FAILED"
	// StatusQuarantined is persisted but deliberately withheld from dispatch.
	StatusQuarantined PublicationStatus = "QUARANTINED"
)

// DomainEvent is one durably recorded domain fact.
type DomainEvent struct {
	ID          string
	Topic       Topic
	OccurredAt  time.Time
	Payload     json.RawMessage
	TriggeredBy identity.TriggeredBy
	Status      PublicationStatus
	Attempts    int
}
