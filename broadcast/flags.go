package broadcast

import "conventionflow/convention"

// FeatureFlags is the runtime configuration for partner broadcast. The
// standard-format flag is read only by the orchestrator; per-kind flags are
// resolved once into the gateway's allow list at startup.
type FeatureFlags struct {
	EnableStandardFormatBroadcastToPartner bool
	EnableBroadcastToMissionLocale         bool
	EnableBroadcastToCapEmploi             bool
	EnableBroadcastToConseilDepartemental  bool
}

// AllowedAgencyKinds resolves the flags into the set of agency kinds eligible
// for partner broadcast. The national employment agency is always included.
func (f FeatureFlags) AllowedAgencyKinds() map[string]struct{} {
	allowed := map[string]struct{}{
		convention.AgencyKindPoleEmploi: {},
	}
	if f.EnableBroadcastToMissionLocale {
		allowed[convention.AgencyKindMissionLocale] = struct{}{}
	}
	if f.EnableBroadcastToCapEmploi {
		allowed[convention.AgencyKindCapEmploi] = struct{}{}
	}
	if f.EnableBroadcastToConseilDepartemental {
		allowed[convention.AgencyKindConseilDepartemental] = struct{}{}
	}
	return allowed
}
