package consumer

import (
	"testing"

	"conventionflow/convention"
)

func TestScopeMatches(t *testing.T) {
	agencyA := convention.Agency{ID: "agency-a", Kind: convention.AgencyKindPoleEmploi}
	agencyB := convention.Agency{ID: "agency-b", Kind: convention.AgencyKindMissionLocale}
	parent := convention.Agency{ID: "agency-parent", Kind: convention.AgencyKindPoleEmploi}

	cases := []struct {
		name   string
		scope  Scope
		agency convention.Agency
		parent *convention.Agency
		want   bool
	}{
		{"by id", Scope{AgencyIDs: []string{"agency-a"}}, agencyA, nil, true},
		{"by kind", Scope{AgencyKinds: []string{convention.AgencyKindMissionLocale}}, agencyB, nil, true},
		{"other agency", Scope{AgencyIDs: []string{"agency-a"}}, agencyB, nil, false},
		{"via refers-to parent", Scope{AgencyIDs: []string{"agency-parent"}}, agencyB, &parent, true},
		{"empty scope matches nothing", Scope{}, agencyA, &parent, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.scope.Matches(tc.agency, tc.parent); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSubscriptionFor(t *testing.T) {
	c := ApiConsumer{
		ID:   "consumer-1",
		Name: "jobboard",
		Rights: map[string]Right{
			RightConvention: {
				Scope: Scope{AgencyIDs: []string{"agency-a"}},
				Subscriptions: []WebhookSubscription{
					{ID: "sub-1", SubscribedEvent: SubscribedEventConventionUpdated, CallbackURL: "https://example.com/hook"},
				},
			},
		},
	}

	if _, ok := c.SubscriptionFor(SubscribedEventConventionUpdated); !ok {
		t.Error("expected subscription for convention.updated")
	}
	if _, ok := c.SubscriptionFor("assessment.created"); ok {
		t.Error("expected no subscription for assessment.created")
	}

	none := ApiConsumer{ID: "consumer-2", Rights: map[string]Right{}}
	if _, ok := none.SubscriptionFor(SubscribedEventConventionUpdated); ok {
		t.Error("expected no subscription without a convention right")
	}
}
