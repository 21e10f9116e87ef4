// Package broadcast propagates convention lifecycle changes to external
// partners: the national employment agency over the partner gateway, and
// third-party API consumers over webhooks. Every delivery attempt lands in
// the feedback ledger; delivery failures are operational data, never
// propagated errors.
package broadcast

import (
	"fmt"

	"conventionflow/convention"
)

// EventType tags a broadcast request.
type EventType string

const (
	EventConventionUpdated EventType = "CONVENTION_UPDATED"
	EventAssessmentCreated EventType = "ASSESSMENT_CREATED"
)

// Request is one broadcast unit: the convention, its agency context, and the
// assessment when the event carries one.
type Request struct {
	Convention   convention.Convention
	Agency       convention.Agency
	ParentAgency *convention.Agency
	Assessment   *convention.Assessment
}

// OutcomeKind classifies what happened to a broadcast request.
type OutcomeKind int

const (
	// OutcomeDelivered means the partner accepted the call (2xx).
	OutcomeDelivered OutcomeKind = iota

	// OutcomeSkipped means the convention's agency kind is not eligible;
	// a skip is not an error.
	OutcomeSkipped

	// OutcomeErrored means the partner rejected the call or the transport
	// failed; the attempt is in the ledger.
	OutcomeErrored

	// OutcomeDropped means the route does not exist in the active
	// configuration (assessment events under the legacy format).
	OutcomeDropped
)

// Outcome is the result of one broadcast request.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string
	HTTPStatus int
}

// MissingAssessmentError signals an assessment-created broadcast without its
// assessment. Raised before any I/O.
type MissingAssessmentError struct {
	ConventionID string
}

func (e *MissingAssessmentError) Error() string {
	return fmt.Sprintf("broadcast: assessment broadcast for convention %s without an assessment", e.ConventionID)
}

// UnmappedStatusError signals a convention status missing from the partner
// enum table. This is a programming error and fails loudly.
type UnmappedStatusError struct {
	Status convention.Status
}

func (e *UnmappedStatusError) Error() string {
	return fmt.Sprintf("broadcast: no partner status mapping for %s", e.Status)
}
