// Package resilience tracks dependency health so the HTTP control
// surface can report degraded operation instead of failing
// silently. Grounded on control_plane/resilience/degraded_mode.go's
// DegradedMode, trimmed to the two dependencies this system actually has
// (the Postgres store and the Redis coordinator) and stripped of the
// teacher's generic local-cache/pending-write reconciliation machinery —
// this domain has nowhere to "write through" during an outage (a booking
// that can't be claimed just waits for the next pass), so there is no
// fallback cache to bound or reconcile.
package resilience

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/observability"
)

// DegradedMode tracks whether the store and coordinator dependencies are
// currently reachable.
type DegradedMode struct {
	mu sync.RWMutex

	storeAvailable       bool
	coordinatorAvailable bool
	degradedModeActive   bool

	lastStoreCheck       time.Time
	lastCoordinatorCheck time.Time
}

func NewDegradedMode() *DegradedMode {
	return &DegradedMode{
		storeAvailable:       true,
		coordinatorAvailable: true,
	}
}

func (d *DegradedMode) MarkStoreUnavailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.storeAvailable {
		log.Printf("[resilience] store unavailable, entering degraded mode")
		d.storeAvailable = false
		d.degradedModeActive = true
	}
	d.lastStoreCheck = time.Now()
	observability.DegradedMode.WithLabelValues("store").Set(1)
}

func (d *DegradedMode) MarkStoreAvailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.storeAvailable {
		log.Printf("[resilience] store recovered")
		d.storeAvailable = true
		d.checkDegradedModeLocked()
	}
	d.lastStoreCheck = time.Now()
	observability.DegradedMode.WithLabelValues("store").Set(0)
}

func (d *DegradedMode) MarkCoordinatorUnavailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.coordinatorAvailable {
		log.Printf("[resilience] coordinator unavailable, entering degraded mode")
		d.coordinatorAvailable = false
		d.degradedModeActive = true
	}
	d.lastCoordinatorCheck = time.Now()
	observability.DegradedMode.WithLabelValues("coordinator").Set(1)
}

func (d *DegradedMode) MarkCoordinatorAvailable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.coordinatorAvailable {
		log.Printf("[resilience] coordinator recovered")
		d.coordinatorAvailable = true
		d.checkDegradedModeLocked()
	}
	d.lastCoordinatorCheck = time.Now()
	observability.DegradedMode.WithLabelValues("coordinator").Set(0)
}

// checkDegradedModeLocked exits degraded mode once every dependency has
// recovered. Caller holds d.mu.
func (d *DegradedMode) checkDegradedModeLocked() {
	if d.storeAvailable && d.coordinatorAvailable {
		d.degradedModeActive = false
		log.Printf("[resilience] all dependencies recovered, normal mode restored")
	}
}

func (d *DegradedMode) IsStoreAvailable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.storeAvailable
}

func (d *DegradedMode) IsCoordinatorAvailable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.coordinatorAvailable
}

func (d *DegradedMode) IsDegraded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.degradedModeActive
}

// HealthCheck reports per-dependency availability plus the overall
// degraded flag, suitable for serving directly from a /health endpoint.
func (d *DegradedMode) HealthCheck(ctx context.Context) map[string]bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]bool{
		"store":       d.storeAvailable,
		"coordinator": d.coordinatorAvailable,
		"degraded":    d.degradedModeActive,
	}
}

// WithFallback runs primary, falling back to a secondary path (e.g. a
// read against a cached candidate snapshot) if primary fails. Grounded on
// control_plane/resilience's WithFallback.
func (d *DegradedMode) WithFallback(ctx context.Context, primary, fallback func(context.Context) error) error {
	if err := primary(ctx); err == nil {
		return nil
	} else {
		log.Printf("[resilience] primary operation failed: %v, using fallback", err)
		if fbErr := fallback(ctx); fbErr != nil {
			return fmt.Errorf("both primary and fallback failed: %w", fbErr)
		}
		return nil
	}
}
