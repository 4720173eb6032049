package clock

import (
	"os"
	"testing"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

func TestLoadPolicyAppliesEnvOverridesAndDefaults(t *testing.T) {
	os.Setenv("ASSIGN_MODE", "URGENT")
	os.Setenv("BATCH_SIZE", "25")
	defer os.Unsetenv("ASSIGN_MODE")
	defer os.Unsetenv("BATCH_SIZE")

	cfg := NewConfig()
	p := cfg.LoadPolicy()

	if p.Mode != store.ModeUrgent {
		t.Fatalf("expected mode URGENT from env, got %s", p.Mode)
	}
	if p.BatchSize != 25 {
		t.Fatalf("expected batch size 25 from env, got %d", p.BatchSize)
	}
	if p.PollInterval <= 0 {
		t.Fatalf("expected a positive default poll interval, got %v", p.PollInterval)
	}
}

func TestLoadPolicyFallsBackOnInvalidInt(t *testing.T) {
	os.Setenv("CONFLICT_BUFFER_MINUTES", "not-a-number")
	defer os.Unsetenv("CONFLICT_BUFFER_MINUTES")

	cfg := NewConfig()
	p := cfg.LoadPolicy()
	if p.ConflictBufferMinutes != 0 {
		t.Fatalf("expected default of 0 on invalid env value, got %d", p.ConflictBufferMinutes)
	}
}

func TestThresholdsForFallsBackToDefault(t *testing.T) {
	p := &Policy{
		Default:    ThresholdConfig{UrgentDays: 1, GeneralDays: 14},
		Thresholds: map[store.MeetingType]ThresholdConfig{store.MeetingVIP: {UrgentDays: 3, GeneralDays: 20}},
	}

	if got := p.ThresholdsFor(store.MeetingVIP); got.UrgentDays != 3 {
		t.Fatalf("expected VIP-specific threshold, got %+v", got)
	}
	if got := p.ThresholdsFor(store.MeetingGeneral); got.UrgentDays != 1 {
		t.Fatalf("expected fallback to Default for unlisted meeting type, got %+v", got)
	}
}

func TestReloadPublishesNewSnapshotWithoutMutatingOld(t *testing.T) {
	cfg := NewConfig()
	first := cfg.LoadPolicy()

	os.Setenv("ASSIGN_MODE", "BALANCE")
	defer os.Unsetenv("ASSIGN_MODE")
	cfg.Reload()
	second := cfg.LoadPolicy()

	if first.Mode == second.Mode {
		t.Fatalf("expected mode to change after reload, both are %s", first.Mode)
	}
	if first.Mode != store.ModeNormal {
		t.Fatalf("holder of the old snapshot should still see the original mode, got %s", first.Mode)
	}
}
