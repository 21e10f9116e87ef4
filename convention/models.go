package convention

import (
	"fmt"
	"time"

	"conventionflow/identity"
)

// Convention is the tripartite work-immersion agreement between a
// beneficiary, a host establishment and an oversight agency. It is mutated
// only through the services in this package; every mutation commits together
// with its outbox event.
type Convention struct {
	ID         string
	ExternalID string // partner-facing id, reserved at submission
	AgencyID   string
	Status     Status

	DateSubmission *time.Time
	DateStart      time.Time
	DateEnd        time.Time
	DateValidation *time.Time

	Schedule    Schedule
	Signatories Signatories

	EstablishmentSiret string
	EstablishmentName  string
	EstablishmentTutor Tutor

	ImmersionAppellation Appellation
	ImmersionObjective   string

	AgencyCounsellorName string

	// RenewedFrom references the convention this one renews, if any.
	RenewedFrom *string
}

// Signatories holds the people whose signatures bring a convention into
// review. Beneficiary and establishment representative are mandatory.
type Signatories struct {
	Beneficiary                 Signatory  `json:"beneficiary"`
	EstablishmentRepresentative Signatory  `json:"establishmentRepresentative"`
	BeneficiaryRepresentative   *Signatory `json:"beneficiaryRepresentative,omitempty"`
	BeneficiaryCurrentEmployer  *Signatory `json:"beneficiaryCurrentEmployer,omitempty"`
}

// Signatory is one required signer. SignedAt is nil until they sign.
type Signatory struct {
	Role      identity.SignatoryRole `json:"role"`
	FirstName string                 `json:"firstName"`
	LastName  string                 `json:"lastName"`
	Email     string                 `json:"email"`
	Phone     string                 `json:"phone,omitempty"`
	BirthDate *time.Time             `json:"birthDate,omitempty"`
	SignedAt  *time.Time             `json:"signedAt,omitempty"`
}

// Schedule captures the immersion workload.
type Schedule struct {
	TotalHours float64
}

// Tutor is the establishment-side supervisor declared on the convention.
type Tutor struct {
	FirstName string
	LastName  string
	Job       string
}

// Appellation is the ROME occupation the immersion targets.
type Appellation struct {
	Code  string
	Label string
}

// Agency is the oversight structure owning the convention. RefersToAgencyID
// points at the parent agency for antenna-style structures.
type Agency struct {
	ID               string
	Name             string
	Kind             string
	RefersToAgencyID *string
}

// Agency kinds relevant to partner broadcast gating.
const (
	AgencyKindPoleEmploi           = "pole-emploi"
	AgencyKindMissionLocale        = "mission-locale"
	AgencyKindCapEmploi            = "cap-emploi"
	AgencyKindConseilDepartemental = "conseil-departemental"
	AgencyKindOther                = "autre"
)

// Assessment records how the immersion went once it has ended.
type Assessment struct {
	ConventionID          string
	Status                AssessmentStatus
	EstablishmentFeedback string
	EndedWithAJob         bool
	CreatedAt             time.Time
}

// AssessmentStatus is the closed outcome set for an assessment.
type AssessmentStatus string

const (
	AssessmentCompleted AssessmentStatus = "COMPLETED"
	AssessmentAbandoned AssessmentStatus = "ABANDONED"
)

// AllSignatories returns the present signatories in a stable order.
func (s Signatories) AllSignatories() []Signatory {
	out := []Signatory{s.Beneficiary, s.EstablishmentRepresentative}
	if s.BeneficiaryRepresentative != nil {
		out = append(out, *s.BeneficiaryRepresentative)
	}
	if s.BeneficiaryCurrentEmployer != nil {
		out = append(out, *s.BeneficiaryCurrentEmployer)
	}
	return out
}

// FullySigned reports whether every present signatory has signed.
func (s Signatories) FullySigned() bool {
	for _, sig := range s.AllSignatories() {
		if sig.SignedAt == nil {
			return false
		}
	}
	return true
}

// AnySigned reports whether at least one signatory has signed.
func (s Signatories) AnySigned() bool {
	for _, sig := range s.AllSignatories() {
		if sig.SignedAt != nil {
			return true
		}
	}
	return false
}

// Validate checks the whole aggregate. Every edit path re-runs this before
// persisting, not just the initial submission.
func (c Convention) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("convention: id required")
	}
	if c.AgencyID == "" {
		return fmt.Errorf("convention: agency id required")
	}
	if !ValidStatus(c.Status) {
		return fmt.Errorf("convention: unknown status %q", c.Status)
	}
	if c.DateEnd.Before(c.DateStart) {
		return fmt.Errorf("convention: end date %s before start date %s",
			c.DateEnd.Format(time.DateOnly), c.DateStart.Format(time.DateOnly))
	}
	if c.Schedule.TotalHours <= 0 {
		return fmt.Errorf("convention: schedule must have positive hours")
	}
	if c.EstablishmentSiret == "" {
		return fmt.Errorf("convention: establishment siret required")
	}

	seen := make(map[string]identity.SignatoryRole)
	for _, sig := range c.Signatories.AllSignatories() {
		if sig.Email == "" {
			return fmt.Errorf("convention: signatory %s has no email", sig.Role)
		}
		if prev, dup := seen[sig.Email]; dup {
			return fmt.Errorf("convention: signatories %s and %s share email %s", prev, sig.Role, sig.Email)
		}
		seen[sig.Email] = sig.Role
	}

	return nil
}

// SignatoryByRole returns a pointer into the aggregate for the signatory
// holding the given role, or nil if the role has no signatory here.
func (c *Convention) SignatoryByRole(role identity.SignatoryRole) *Signatory {
	switch role {
	case identity.RoleBeneficiary:
		return &c.Signatories.Beneficiary
	case identity.RoleEstablishmentRepresentative:
		return &c.Signatories.EstablishmentRepresentative
	case identity.RoleBeneficiaryRepresentative:
		return c.Signatories.BeneficiaryRepresentative
	case identity.RoleBeneficiaryCurrentEmployer:
		return c.Signatories.BeneficiaryCurrentEmployer
	default:
		return nil
	}
}
