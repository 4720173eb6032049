// Package coordination provides the daily-tick leader election used to
// ensure only one instance fires each DAILY_RUN_TIMES trigger even when
// several assignd processes run concurrently. It intentionally does NOT
// gate the interval pass or ClaimBooking — those rely solely on the
// store's atomic CAS, and multiple instances are meant to coexist and
// partition work automatically.
//
// Grounded on control_plane/coordination/leader.go's LeaderElector: same
// lease-renew-with-backoff loop, same fencing-epoch-in-context mechanism,
// trimmed of the dashboard/GetState plumbing this domain has no analog
// for.
package coordination

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/observability"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

type fencingKey string

const fencingEpochKey fencingKey = "fencing_epoch"

// GetEpochFromContext extracts the fencing epoch set by becomeLeader.
func GetEpochFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(fencingEpochKey)
	if v == nil {
		return 0, false
	}
	e, ok := v.(int64)
	return e, ok
}

// LeaderElector elects a single daily-tick driver among cooperating
// instances.
type LeaderElector struct {
	coordinator store.Coordinator
	instanceID  string
	lockKey     string
	ttl         time.Duration

	mu           sync.RWMutex
	isLeader     bool
	currentValue string
	currentEpoch int64
	leaderCtx    context.Context
	leaderCancel context.CancelFunc
	stepDownTime time.Time
	transitions  int64

	onElected func(context.Context)
	onLost    func()
}

func NewLeaderElector(c store.Coordinator, instanceID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{
		coordinator: c,
		instanceID:  instanceID,
		lockKey:     "assign:lock:daily-tick-leader",
		ttl:         ttl,
	}
}

func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

func (l *LeaderElector) Start(ctx context.Context) {
	go l.loop(ctx)
}

func (l *LeaderElector) Stop() {
	if l.IsLeader() {
		l.release()
	}
}

func (l *LeaderElector) loop(ctx context.Context) {
	interval := l.ttl / 3
	minInterval := interval
	maxInterval := 10 * l.ttl

	renewFailures := 0
	const maxRenewFailures = 3

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.release()
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.renew(ctx)
				if err == nil {
					renewFailures = 0
					if !renewed {
						l.stepDown()
					}
				} else {
					renewFailures++
					log.Printf("[coordination] renew failed (%d/%d): %v", renewFailures, maxRenewFailures, err)
					if renewFailures >= maxRenewFailures {
						log.Printf("[coordination] too many renew failures, stepping down")
						l.stepDown()
						renewFailures = 0
					}
				}
			} else {
				var acquired bool
				acquired, err = l.acquire(ctx)
				if err == nil && acquired {
					l.becomeLeader()
					renewFailures = 0
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
			} else {
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, error) {
	epoch, err := l.coordinator.IncrementEpoch(ctx, "assign:epoch:daily-tick-leader")
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	l.currentEpoch = epoch
	l.mu.Unlock()

	val := fmt.Sprintf("%s:%d:%d", l.instanceID, epoch, time.Now().UnixNano())
	acquired, err := l.coordinator.AcquireLease(ctx, l.lockKey, val, l.ttl)
	if err != nil {
		return false, err
	}
	if acquired {
		l.mu.Lock()
		l.currentValue = val
		l.mu.Unlock()
	}
	return acquired, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return false, nil
	}
	return l.coordinator.RenewLease(ctx, l.lockKey, val, l.ttl)
}

func (l *LeaderElector) release() {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = l.coordinator.ReleaseLease(ctx, l.lockKey, val)
}

func (l *LeaderElector) becomeLeader() {
	l.mu.Lock()
	l.isLeader = true
	ctx, cancel := context.WithCancel(context.Background())
	l.leaderCancel = cancel
	l.transitions++
	l.leaderCtx = context.WithValue(ctx, fencingEpochKey, l.currentEpoch)
	l.stepDownTime = time.Time{}
	epoch := l.currentEpoch
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.instanceID, "acquired").Inc()
	observability.LeadershipEpoch.WithLabelValues(l.instanceID).Set(float64(epoch))
	log.Printf("[coordination] %s became daily-tick leader (epoch %d)", l.instanceID, epoch)

	if l.onElected != nil {
		go l.onElected(l.leaderCtx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	l.transitions++
	l.stepDownTime = time.Now()
	if l.leaderCancel != nil {
		l.leaderCancel()
	}
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.instanceID, "lost").Inc()
	log.Printf("[coordination] %s lost daily-tick leadership", l.instanceID)
	if l.onLost != nil {
		l.onLost()
	}
}
