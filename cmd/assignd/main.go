// Command assignd is the interpreter-assignment process: it wires the
// clock/config, store, conflict/fairness/scoring, pool, engine, scheduler,
// coordination, logging, and streaming packages together and serves the
// HTTP control surface. Grounded on control_plane/main.go's wiring shape
// (env-driven backend selection, leader-gated background workers, flat
// http.HandleFunc routing) but trimmed to only the endpoints the core
// itself owns — no Bookings CRUD, no auth middleware, both of which are
// external collaborators owned by other services.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/meetbridge/interpreter-scheduler/internal/audit"
	"github.com/meetbridge/interpreter-scheduler/internal/clock"
	"github.com/meetbridge/interpreter-scheduler/internal/coordination"
	"github.com/meetbridge/interpreter-scheduler/internal/engine"
	"github.com/meetbridge/interpreter-scheduler/internal/idempotency"
	"github.com/meetbridge/interpreter-scheduler/internal/logbuffer"
	"github.com/meetbridge/interpreter-scheduler/internal/pool"
	"github.com/meetbridge/interpreter-scheduler/internal/resilience"
	"github.com/meetbridge/interpreter-scheduler/internal/scheduler"
	"github.com/meetbridge/interpreter-scheduler/internal/store"
	"github.com/meetbridge/interpreter-scheduler/internal/streaming"
)

func main() {
	ctx := context.Background()
	instanceID := "assignd-" + generateInstanceSuffix()

	rawStore, redisClient := mustOpenStores(ctx)
	degraded := resilience.NewDegradedMode()

	buf := logbuffer.New(rawStore)
	buf.Start(ctx)
	bufferedStore := logbuffer.NewDecoratingStore(rawStore, buf)

	signer := maybeLoadSigner(instanceID)
	signingStore := audit.NewSigningStore(bufferedStore, signer)
	var finalStore store.Store = signingStore

	hub := streaming.NewDecisionHub()
	go hub.Run(ctx)
	publisher := streaming.NewHubPublisher(instanceID, hub)

	eng := engine.New(finalStore, clock.Real{}, publisher)

	var idemBackend store.IdempotencyBackend
	if redisClient != nil {
		idemBackend = store.NewRedisIdempotency(redisClient)
		eng.SetCandidateCache(store.NewCandidateCache(redisClient, 10*time.Minute))
	}
	idem := idempotency.NewStore(idemBackend)

	cfg := clock.NewConfig()
	poolMgr := pool.NewManager(finalStore, clock.Real{}, cfg, idem)
	sched := scheduler.New(finalStore, eng, cfg, instanceID)

	if redisClient != nil {
		coord := store.NewRedisCoordinator(redisClient)
		elector := coordination.NewLeaderElector(coord, instanceID, 30*time.Second)
		elector.SetCallbacks(
			func(ctx context.Context) { log.Printf("[assignd] %s elected daily-tick leader", instanceID) },
			func() { log.Printf("[assignd] %s lost daily-tick leadership", instanceID) },
		)
		elector.Start(ctx)
		sched.SetDailyGate(elector.IsLeader)
		degraded.MarkCoordinatorAvailable()
	} else {
		log.Println("[assignd] no REDIS_ADDR configured: running as the sole daily-tick instance (no election needed)")
		degraded.MarkCoordinatorUnavailable()
	}

	roster := coordination.NewRosterMonitor(finalStore, 5*time.Minute, 15*time.Minute)
	roster.Start(ctx)

	sched.Start(ctx)
	log.Printf("[assignd] %s started: poll=%v daily=%v timezone=%s", instanceID, cfg.LoadPolicy().PollInterval, cfg.LoadPolicy().DailyRunTimes, cfg.LoadPolicy().Timezone)

	mux := http.NewServeMux()
	registerRoutes(mux, sched, eng, poolMgr, degraded, hub)

	addr := ":" + getEnvDefault("HTTP_ADDR_PORT", "8080")
	log.Printf("[assignd] listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func registerRoutes(mux *http.ServeMux, sched *scheduler.Scheduler, eng *engine.Engine, poolMgr *pool.Manager, degraded *resilience.DegradedMode, hub *streaming.DecisionHub) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := degraded.HealthCheck(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if degraded.IsDegraded() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/scheduler/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sched.Status())
	})

	mux.HandleFunc("/scheduler/run-pass", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := sched.RunPassNow(r.Context(), scheduler.ReasonManual); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/scheduler/debug/snapshot", func(w http.ResponseWriter, r *http.Request) {
		snapshot := struct {
			Status      scheduler.Status `json:"status"`
			Escalations interface{}      `json:"recentEscalations"`
		}{
			Status:      sched.Status(),
			Escalations: eng.Incidents().Snapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot)
	})

	// Schedule(bookingId) is the entry point an external Bookings API
	// calls into the pool manager after creating a booking. The creation
	// path itself is not this process's concern; this is the seam that
	// makes a freshly created booking eligible for a future pass.
	mux.HandleFunc("/bookings/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseScheduleID(r.URL.Path)
		if !ok || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := poolMgr.Schedule(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	mux.HandleFunc("/ws/decisions", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[assignd] websocket upgrade failed: %v", err)
			return
		}
		hub.Register(conn)
		defer hub.Unregister(conn)

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// parseScheduleID extracts {id} from "/bookings/{id}/schedule".
func parseScheduleID(path string) (int64, bool) {
	const suffix = "/schedule"
	if !strings.HasSuffix(path, suffix) {
		return 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, "/bookings/"), suffix)
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// mustOpenStores builds the durable Store (Postgres, falling back to an
// in-memory store for local dev when DATABASE_URL is unset — logged
// loudly since that configuration has none of the durability guarantees
// a real deployment needs) and an optional Redis client backing
// coordination, idempotency, and the candidate-score cache.
func mustOpenStores(ctx context.Context) (store.Store, *redis.Client) {
	var s store.Store

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			log.Fatalf("[assignd] failed to connect to Postgres: %v", err)
		}
		log.Println("[assignd] connected to Postgres durable store")
		s = pg
	} else {
		log.Println("[assignd] DATABASE_URL not set: using in-memory store (NOT durable, single-instance only)")
		s = store.NewMemoryStore()
	}

	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("[assignd] REDIS_ADDR set but unreachable (%v): coordination/idempotency/candidate-cache disabled", err)
			redisClient = nil
		} else {
			log.Printf("[assignd] connected to Redis at %s for coordination", addr)
		}
	}

	return s, redisClient
}

// maybeLoadSigner builds the decision-log Signer when AUDIT_SIGNING_ENABLED
// is set; attestation stays opt-in, so a disabled signer (a nil return)
// makes audit.SigningStore a pass-through.
// Keys are loaded from PEM env vars when provided; otherwise an ephemeral
// keypair is generated for the process lifetime, with a loud warning
// that restarts invalidate verification against previously signed
// records (there is no key-rotation story here, only opt-in signing).
func maybeLoadSigner(instanceID string) *audit.Signer {
	if getEnvDefault("AUDIT_SIGNING_ENABLED", "false") != "true" {
		return nil
	}

	if pemStr := os.Getenv("AUDIT_PRIVATE_KEY_PEM"); pemStr != "" {
		block, _ := pem.Decode([]byte(pemStr))
		if block == nil {
			log.Fatalf("[assignd] AUDIT_PRIVATE_KEY_PEM is not valid PEM")
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			log.Fatalf("[assignd] failed to parse AUDIT_PRIVATE_KEY_PEM: %v", err)
		}
		log.Println("[assignd] decision-log signing enabled with configured key")
		return audit.NewSigner(key, instanceID)
	}

	log.Println("[assignd] AUDIT_SIGNING_ENABLED=true but no AUDIT_PRIVATE_KEY_PEM given: generating an ephemeral key (invalid across restarts)")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("[assignd] failed to generate ephemeral audit signing key: %v", err)
	}
	return audit.NewSigner(key, instanceID)
}

func generateInstanceSuffix() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "local"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
