package monitor

import (
	"testing"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name      string
		persisted registry.Mode
		healthy   bool
		want      registry.Mode
	}{
		{"healthy from init", registry.ModeInit, true, registry.ModeNormal},
		{"healthy from normal", registry.ModeNormal, true, registry.ModeNormal},
		{"healthy from safe mode", registry.ModeSafeMode, true, registry.ModeNormal},
		{"unhealthy from normal", registry.ModeNormal, false, registry.ModeSafeMode},
		{"unhealthy from init", registry.ModeInit, false, registry.ModeSafeMode},
		{"paused stays paused when healthy", registry.ModePaused, true, registry.ModePaused},
		{"paused stays paused when unhealthy", registry.ModePaused, false, registry.ModePaused},
		{"throttled treated as ordinary mode", registry.ModeThrottled, true, registry.ModeNormal},
		{"recovery treated as ordinary mode", registry.ModeRecovery, false, registry.ModeSafeMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Next(tt.persisted, tt.healthy); got != tt.want {
				t.Errorf("Next(%s, %v) = %s, want %s", tt.persisted, tt.healthy, got, tt.want)
			}
		})
	}
}
