package clock

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// ThresholdConfig is the per-meeting-type urgent/general day thresholds used
// by the pool readiness table.
type ThresholdConfig struct {
	UrgentDays   int
	GeneralDays  int
}

// Policy is an immutable configuration snapshot. Callers obtain one via
// Config.LoadPolicy and keep using it for the duration of a pass even if a
// newer snapshot is swapped in concurrently. This follows the same
// swap-the-active-pointer idiom control_plane uses for mid-flight config
// changes (there: mode changes guarded by sync.RWMutex; here: a
// lock-free atomic pointer).
type Policy struct {
	Mode store.Mode

	PollInterval    time.Duration
	DailyRunTimes   []string // "HH:MM", in Timezone
	Timezone        *time.Location

	StaleLockTTL time.Duration
	BatchSize    int

	FairnessWindow time.Duration

	// Thresholds is keyed by MeetingType; a meeting type with no entry
	// falls back to Default.
	Thresholds map[store.MeetingType]ThresholdConfig
	Default    ThresholdConfig

	DRConsecutivePenaltyHours float64
	DRConsecutiveMaxRun       int

	WAvailability float64
	WFairness     float64
	WDR           float64
	WRecency      float64
	WLanguage     float64

	ConflictBufferMinutes int

	MaxPoolAttempts  int
	PoolBaseBackoff  time.Duration
	PoolMaxBackoff   time.Duration

	// Hash identifies this snapshot for decision-log provenance; it is a
	// cheap content fingerprint, not a cryptographic digest.
	Hash string
}

// Config loads and republishes Policy snapshots. LoadPolicy is safe for
// concurrent callers and always returns a fully-formed, immutable value.
type Config struct {
	current atomic.Pointer[Policy]
}

func NewConfig() *Config {
	c := &Config{}
	c.current.Store(loadFromEnv())
	return c
}

func (c *Config) LoadPolicy() *Policy {
	return c.current.Load()
}

// Reload re-reads environment configuration and atomically republishes the
// snapshot. In-flight callers holding the old *Policy are unaffected.
func (c *Config) Reload() {
	c.current.Store(loadFromEnv())
}

func loadFromEnv() *Policy {
	p := &Policy{
		Mode:           store.Mode(getEnvDefault("ASSIGN_MODE", "NORMAL")),
		PollInterval:   envMinutes("POLL_INTERVAL_MINUTES", 180),
		DailyRunTimes:  envCSV("DAILY_RUN_TIMES", []string{"08:00", "17:00"}),
		StaleLockTTL:   envMinutes("STALE_LOCK_TTL_MINUTES", 15),
		BatchSize:      envInt("BATCH_SIZE", 50),
		FairnessWindow: envDays("FAIRNESS_WINDOW_DAYS", 30),

		Default: ThresholdConfig{
			UrgentDays:  envIntFor("URGENT_DAYS", 1),
			GeneralDays: envIntFor("GENERAL_DAYS", 14),
		},
		Thresholds: make(map[store.MeetingType]ThresholdConfig),

		DRConsecutivePenaltyHours: 2.0,
		DRConsecutiveMaxRun:       3,

		WAvailability: 1.0,
		WFairness:     0.4,
		WDR:           0.3,
		WRecency:      0.2,
		WLanguage:     0.5,

		ConflictBufferMinutes: envInt("CONFLICT_BUFFER_MINUTES", 0),

		MaxPoolAttempts: 5,
		PoolBaseBackoff: 5 * time.Minute,
		PoolMaxBackoff:  4 * time.Hour,
	}

	loc, err := time.LoadLocation(getEnvDefault("TIMEZONE", "Asia/Bangkok"))
	if err != nil {
		log.Printf("[clock] unknown timezone %q, defaulting to UTC: %v", os.Getenv("TIMEZONE"), err)
		loc = time.UTC
	}
	p.Timezone = loc

	p.Hash = fmt.Sprintf("%s-%d-%d-%d-%s", p.Mode, p.PollInterval, p.StaleLockTTL, p.BatchSize, p.Timezone)
	return p
}

// ThresholdsFor returns the effective urgent/general day thresholds for a
// meeting type, falling back to the policy default.
func (p *Policy) ThresholdsFor(mt store.MeetingType) ThresholdConfig {
	if t, ok := p.Thresholds[mt]; ok {
		return t
	}
	return p.Default
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		log.Printf("[clock] invalid int for %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func envIntFor(key string, def int) int {
	return envInt(key, def)
}

func envMinutes(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Minute
}

func envDays(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * 24 * time.Hour
}

func envCSV(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
