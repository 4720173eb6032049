package resilience

import (
	"context"
	"errors"
	"testing"
)

func TestDegradedModeEntersAndExitsOnStoreFlap(t *testing.T) {
	d := NewDegradedMode()
	if d.IsDegraded() {
		t.Fatal("should start healthy")
	}

	d.MarkStoreUnavailable()
	if !d.IsDegraded() || d.IsStoreAvailable() {
		t.Fatal("expected degraded mode after store marked unavailable")
	}

	d.MarkStoreAvailable()
	if d.IsDegraded() {
		t.Fatal("expected degraded mode to clear once store recovers")
	}
}

func TestDegradedModeStaysDegradedUntilAllDependenciesRecover(t *testing.T) {
	d := NewDegradedMode()
	d.MarkStoreUnavailable()
	d.MarkCoordinatorUnavailable()
	d.MarkStoreAvailable()

	if !d.IsDegraded() {
		t.Fatal("expected degraded mode to persist while coordinator is still down")
	}

	d.MarkCoordinatorAvailable()
	if d.IsDegraded() {
		t.Fatal("expected degraded mode to clear once both dependencies recover")
	}
}

func TestWithFallbackUsesFallbackOnPrimaryFailure(t *testing.T) {
	d := NewDegradedMode()
	called := false
	err := d.WithFallback(context.Background(),
		func(ctx context.Context) error { return errors.New("primary down") },
		func(ctx context.Context) error { called = true; return nil },
	)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if !called {
		t.Fatal("expected fallback to be invoked")
	}
}
