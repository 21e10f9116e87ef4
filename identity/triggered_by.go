package identity

import (
	"encoding/json"
	"fmt"
)

// TriggeredBy identifies who (or what) caused a domain mutation. It is a
// closed set of variants: adding a new one requires updating every consumption
// site, which Encode/Decode enforce by rejecting unknown kinds.
type TriggeredBy interface {
	triggeredBy()
}

// ConnectedUser is an authenticated back-office or agency user. BackOffice
// and AgencyIDs are authorization context resolved by the auth layer at
// request time; only the user id is persisted as provenance.
type ConnectedUser struct {
	UserID     string
	BackOffice bool
	AgencyIDs  []string
}

// HasAgency reports whether the user holds a role on the given agency.
func (u ConnectedUser) HasAgency(agencyID string) bool {
	for _, id := range u.AgencyIDs {
		if id == agencyID {
			return true
		}
	}
	return false
}

// ConventionMagicLink is a signatory acting through a role-scoped magic link.
type ConventionMagicLink struct {
	Role SignatoryRole
}

// Crawler is an automated job (resync, scheduled re-broadcast).
type Crawler struct{}

func (ConnectedUser) triggeredBy()       {}
func (ConventionMagicLink) triggeredBy() {}
func (Crawler) triggeredBy()             {}

// SignatoryRole names the role carried by a convention magic link.
type SignatoryRole string

const (
	RoleBeneficiary                 SignatoryRole = "beneficiary"
	RoleBeneficiaryRepresentative   SignatoryRole = "beneficiary-representative"
	RoleBeneficiaryCurrentEmployer  SignatoryRole = "beneficiary-current-employer"
	RoleEstablishmentRepresentative SignatoryRole = "establishment-representative"
	RoleCounsellor                  SignatoryRole = "counsellor"
	RoleValidator                   SignatoryRole = "validator"
	RoleBackOffice                  SignatoryRole = "back-office"
)

// ValidSignatoryRole reports whether the role is one of the known roles.
func ValidSignatoryRole(r SignatoryRole) bool {
	switch r {
	case RoleBeneficiary, RoleBeneficiaryRepresentative, RoleBeneficiaryCurrentEmployer,
		RoleEstablishmentRepresentative, RoleCounsellor, RoleValidator, RoleBackOffice:
		return true
	default:
		return false
	}
}

type triggeredByRecord struct {
	Kind   string `json:"kind"`
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
}

// EncodeTriggeredBy serialises a TriggeredBy to its persisted JSON form.
// A nil value encodes to JSON null.
func EncodeTriggeredBy(tb TriggeredBy) ([]byte, error) {
	if tb == nil {
		return []byte("null"), nil
	}

	var rec triggeredByRecord
	switch v := tb.(type) {
	case ConnectedUser:
		rec = triggeredByRecord{Kind: "connected-user", UserID: v.UserID}
	case ConventionMagicLink:
		rec = triggeredByRecord{Kind: "convention-magic-link", Role: string(v.Role)}
	case Crawler:
		rec = triggeredByRecord{Kind: "crawler"}
	default:
		return nil, fmt.Errorf("identity: unhandled triggered-by variant %T", tb)
	}

	return json.Marshal(rec)
}

// DecodeTriggeredBy parses the persisted JSON form back into a variant.
func DecodeTriggeredBy(data []byte) (TriggeredBy, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var rec triggeredByRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("identity: decode triggered-by: %w", err)
	}

	switch rec.Kind {
	case "connected-user":
		if rec.UserID == "" {
			return nil, fmt.Errorf("identity: connected-user without user id")
		}
		return ConnectedUser{UserID: rec.UserID}, nil
	case "convention-magic-link":
		role := SignatoryRole(rec.Role)
		if !ValidSignatoryRole(role) {
			return nil, fmt.Errorf("identity: invalid magic-link role %q", rec.Role)
		}
		return ConventionMagicLink{Role: role}, nil
	case "crawler":
		return Crawler{}, nil
	default:
		return nil, fmt.Errorf("identity: unhandled triggered-by kind %q", rec.Kind)
	}
}
