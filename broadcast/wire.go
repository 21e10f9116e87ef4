package broadcast

import (
	"fmt"
	"time"

	"conventionflow/convention"
)

// partnerStatuses is the partner's status enum. This table is an external
// contract: an internal status absent from it is a bug, not a fallback case.
var partnerStatuses = map[convention.Status]string{
	convention.StatusDraft:                "BROUILLON",
	convention.StatusReadyToSign:          "DEMANDE_A_SIGNER",
	convention.StatusPartiallySigned:      "DEMANDE_PARTIELLEMENT_SIGNÉE",
	convention.StatusInReview:             "DEMANDE_A_ETUDIER",
	convention.StatusAcceptedByCounsellor: "DEMANDE_ELIGIBLE",
	convention.StatusAcceptedByValidator:  "DEMANDE_VALIDÉE",
	convention.StatusRejected:             "DEMANDE_REJETÉE",
	convention.StatusCancelled:            "DEMANDE_ANNULÉE",
	convention.StatusDeprecated:           "DEMANDE_OBSOLÈTE",
}

func partnerStatus(s convention.Status) (string, error) {
	mapped, ok := partnerStatuses[s]
	if !ok {
		return "", &UnmappedStatusError{Status: s}
	}
	return mapped, nil
}

// formatAppellationCode zero-pads appellation codes to the partner's
// fixed-width 6 digits.
func formatAppellationCode(code string) string {
	return fmt.Sprintf("%06s", code)
}

// legacyConventionPayload is the partner's flat legacy wire format,
// convention-updated only.
type legacyConventionPayload struct {
	ID               string  `json:"id"`
	OriginalID       string  `json:"originalId"`
	Statut           string  `json:"statut"`
	Email            string  `json:"email"`
	Telephone        string  `json:"telephone,omitempty"`
	Prenom           string  `json:"prenom"`
	Nom              string  `json:"nom"`
	DateDemande      string  `json:"dateDemande,omitempty"`
	DateDebut        string  `json:"dateDebut"`
	DateFin          string  `json:"dateFin"`
	DureeImmersion   float64 `json:"dureeImmersion"`
	RaisonSociale    string  `json:"raisonSociale"`
	Siret            string  `json:"siret"`
	NomPrenomTuteur  string  `json:"nomPrenomFonctionTuteur"`
	CodeAppellation  string  `json:"codeAppellation"`
	Objectif         string  `json:"objectifDeImmersion"`
	SignataireSigned bool    `json:"enseigneEstSignee"`
}

func buildLegacyPayload(conv convention.Convention) (legacyConventionPayload, error) {
	statut, err := partnerStatus(conv.Status)
	if err != nil {
		return legacyConventionPayload{}, err
	}

	beneficiary := conv.Signatories.Beneficiary
	payload := legacyConventionPayload{
		ID:               conv.ExternalID,
		OriginalID:       conv.ID,
		Statut:           statut,
		Email:            beneficiary.Email,
		Telephone:        beneficiary.Phone,
		Prenom:           beneficiary.FirstName,
		Nom:              beneficiary.LastName,
		DateDebut:        conv.DateStart.Format(time.DateOnly),
		DateFin:          conv.DateEnd.Format(time.DateOnly),
		DureeImmersion:   conv.Schedule.TotalHours,
		RaisonSociale:    conv.EstablishmentName,
		Siret:            conv.EstablishmentSiret,
		NomPrenomTuteur:  fmt.Sprintf("%s %s %s", conv.EstablishmentTutor.FirstName, conv.EstablishmentTutor.LastName, conv.EstablishmentTutor.Job),
		CodeAppellation:  formatAppellationCode(conv.ImmersionAppellation.Code),
		Objectif:         conv.ImmersionObjective,
		SignataireSigned: conv.Signatories.EstablishmentRepresentative.SignedAt != nil,
	}
	if conv.DateSubmission != nil {
		payload.DateDemande = conv.DateSubmission.Format(time.DateOnly)
	}

	return payload, nil
}

// ConventionRead is the rich outbound projection used by the standard partner
// format and the consumer webhooks.
type ConventionRead struct {
	ID                   string   `json:"id"`
	ExternalID           string   `json:"externalId,omitempty"`
	Status               string   `json:"status"`
	AgencyID             string   `json:"agencyId"`
	AgencyName           string   `json:"agencyName"`
	AgencyKind           string   `json:"agencyKind"`
	AgencyRefersTo       *string  `json:"agencyRefersTo,omitempty"`
	DateSubmission       string   `json:"dateSubmission,omitempty"`
	DateStart            string   `json:"dateStart"`
	DateEnd              string   `json:"dateEnd"`
	DateValidation       string   `json:"dateValidation,omitempty"`
	TotalHours           float64  `json:"totalHours"`
	BeneficiaryFirstName string   `json:"beneficiaryFirstName"`
	BeneficiaryLastName  string   `json:"beneficiaryLastName"`
	BeneficiaryEmail     string   `json:"beneficiaryEmail"`
	EstablishmentSiret   string   `json:"siret"`
	EstablishmentName    string   `json:"businessName"`
	TutorName            string   `json:"establishmentTutorName"`
	AppellationCode      string   `json:"appellationCode"`
	AppellationLabel     string   `json:"appellationLabel"`
	ImmersionObjective   string   `json:"immersionObjective"`
	CounsellorName       string   `json:"agencyCounsellorName,omitempty"`
	RenewedFrom          *string  `json:"renewedFrom,omitempty"`
	SignedRoles          []string `json:"signedRoles"`
}

// NewConventionRead projects a convention and its agency context onto the
// outbound read model.
func NewConventionRead(conv convention.Convention, agency convention.Agency) ConventionRead {
	read := ConventionRead{
		ID:                   conv.ID,
		ExternalID:           conv.ExternalID,
		Status:               string(conv.Status),
		AgencyID:             agency.ID,
		AgencyName:           agency.Name,
		AgencyKind:           agency.Kind,
		AgencyRefersTo:       agency.RefersToAgencyID,
		DateStart:            conv.DateStart.Format(time.DateOnly),
		DateEnd:              conv.DateEnd.Format(time.DateOnly),
		TotalHours:           conv.Schedule.TotalHours,
		BeneficiaryFirstName: conv.Signatories.Beneficiary.FirstName,
		BeneficiaryLastName:  conv.Signatories.Beneficiary.LastName,
		BeneficiaryEmail:     conv.Signatories.Beneficiary.Email,
		EstablishmentSiret:   conv.EstablishmentSiret,
		EstablishmentName:    conv.EstablishmentName,
		TutorName:            fmt.Sprintf("%s %s", conv.EstablishmentTutor.FirstName, conv.EstablishmentTutor.LastName),
		AppellationCode:      formatAppellationCode(conv.ImmersionAppellation.Code),
		AppellationLabel:     conv.ImmersionAppellation.Label,
		ImmersionObjective:   conv.ImmersionObjective,
		CounsellorName:       conv.AgencyCounsellorName,
		RenewedFrom:          conv.RenewedFrom,
	}
	if conv.DateSubmission != nil {
		read.DateSubmission = conv.DateSubmission.Format(time.DateOnly)
	}
	if conv.DateValidation != nil {
		read.DateValidation = conv.DateValidation.Format(time.DateOnly)
	}

	read.SignedRoles = []string{}
	for _, sig := range conv.Signatories.AllSignatories() {
		if sig.SignedAt != nil {
			read.SignedRoles = append(read.SignedRoles, string(sig.Role))
		}
	}

	return read
}

// assessmentWire is the assessment section of the standard envelope.
type assessmentWire struct {
	ConventionID          string `json:"conventionId"`
	Status                string `json:"status"`
	EstablishmentFeedback string `json:"establishmentFeedback,omitempty"`
	EndedWithAJob         bool   `json:"endedWithAJob"`
}

// standardEnvelope is the partner's standard wire format.
type standardEnvelope struct {
	EventType  EventType       `json:"eventType"`
	Convention ConventionRead  `json:"convention"`
	Assessment *assessmentWire `json:"assessment,omitempty"`
}

func buildStandardEnvelope(eventType EventType, req Request) (standardEnvelope, error) {
	if _, err := partnerStatus(req.Convention.Status); err != nil {
		// The standard format carries internal statuses, but an unmapped
		// status still means the enum tables are out of sync.
		return standardEnvelope{}, err
	}

	env := standardEnvelope{
		EventType:  eventType,
		Convention: NewConventionRead(req.Convention, req.Agency),
	}
	if req.Assessment != nil {
		env.Assessment = &assessmentWire{
			ConventionID:          req.Assessment.ConventionID,
			Status:                string(req.Assessment.Status),
			EstablishmentFeedback: req.Assessment.EstablishmentFeedback,
			EndedWithAJob:         req.Assessment.EndedWithAJob,
		}
	}

	return env, nil
}
