package monitor

import "github.com/chainsafe/paymaster-middleware/pkg/registry"

// Next computes the target pool mode from the persisted mode and the combined
// health predicates. Precedence, highest first:
//
//	PAUSED    admin override, never cleared here; only Resume clears it
//	SAFE_MODE any health predicate failed
//	NORMAL    all predicates hold
//
// THROTTLED and RECOVERY exist in the mode enum but have no transition rule;
// Next never produces them and treats them like any other non-PAUSED mode.
func Next(persisted registry.Mode, healthy bool) registry.Mode {
	if persisted == registry.ModePaused {
		return registry.ModePaused
	}
	if !healthy {
		return registry.ModeSafeMode
	}
	return registry.ModeNormal
}
