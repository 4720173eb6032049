package coordination

import (
	"context"
	"log"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// RosterMonitor periodically sweeps the interpreter roster for stale
// heartbeats, grounded on control_plane/coordination/agent_monitor.go's
// AgentMonitor: same ticker loop, same "list everything, flip the stale
// ones offline" sweep, aimed at Interpreter.IsActive instead of an Agent's
// online/offline status. Flipping IsActive off here is what actually
// changes the candidate pool's composition (ListCandidateInterpreters
// already filters on IsActive), which is the real-world trigger for the
// dynamic-pool adjustment factor in the fairness package — a newcomer's
// first appearance, or a veteran's departure, only matters once the
// roster reflects it.
type RosterMonitor struct {
	store     store.Store
	interval  time.Duration
	threshold time.Duration
}

func NewRosterMonitor(s store.Store, interval, threshold time.Duration) *RosterMonitor {
	return &RosterMonitor{store: s, interval: interval, threshold: threshold}
}

func (m *RosterMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *RosterMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("[coordination] roster liveness monitor started (interval=%v threshold=%v)", m.interval, m.threshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *RosterMonitor) sweep(ctx context.Context) {
	interpreters, err := m.store.ListInterpreters(ctx, "")
	if err != nil {
		log.Printf("[coordination] roster sweep: list interpreters failed: %v", err)
		return
	}

	now := time.Now()
	for _, i := range interpreters {
		if !i.IsActive || i.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(i.LastHeartbeat) <= m.threshold {
			continue
		}
		log.Printf("[coordination] interpreter %s heartbeat stale (last=%v), marking inactive", i.EmpCode, i.LastHeartbeat)
		i.IsActive = false
		if err := m.store.UpsertInterpreter(ctx, i); err != nil {
			log.Printf("[coordination] roster sweep: mark %s inactive failed: %v", i.EmpCode, err)
		}
	}
}
