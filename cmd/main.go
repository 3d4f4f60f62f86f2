// recruitflow-outreach-service
//
// Recruiter outreach pipeline for tracked job applications:
//   - nightly discovery cycle: quota resync, tiered contact verification,
//     fair allocation of the daily discovery credits across companies,
//     content pre-generation (Gemini, two capped models)
//   - morning send cycle: window-gated three-stage sequence with bounce
//     cascade handling
//   - streak-based quota health alerts on EVENT_QUOTA_ALERT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recruitflow/outreach-service/internal/config"
	"recruitflow/outreach-service/internal/content"
	"recruitflow/outreach-service/internal/db"
	"recruitflow/outreach-service/internal/discovery"
	"recruitflow/outreach-service/internal/health"
	"recruitflow/outreach-service/internal/mailer"
	"recruitflow/outreach-service/internal/outreach"
	"recruitflow/outreach-service/internal/quota"
	"recruitflow/outreach-service/internal/scheduler"
	"recruitflow/outreach-service/internal/verify"
)

const version = "1.0.0"

func main() {
	runDiscoveryNow := flag.Bool("run-discovery", false, "run one discovery cycle at startup")
	runSendNow := flag.Bool("run-send", false, "run one send cycle at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[outreach-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[outreach-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[outreach-service] PostgreSQL: %v", err)
	}
	defer pool.Close()

	if err := db.Bootstrap(ctx, pool); err != nil {
		log.Fatalf("[outreach-service] Schema bootstrap: %v", err)
	}
	log.Println("[outreach-service] PostgreSQL connected ✓")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[outreach-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[outreach-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[outreach-service] Redis connected ✓")

	// ── Stores and collaborators ─────────────────────────────────────────────
	ledger := quota.NewLedger(pool)
	store := discovery.NewPostgresStore(pool)
	outStore := outreach.NewPostgresStore(pool)

	cache := content.NewCache(rdb, time.Duration(cfg.ContentTTLDays)*24*time.Hour)
	gate := quota.NewModelCallGate(ledger, cfg.ModelDailyLimit, nil)
	generator, err := content.NewGenerator(ctx, cfg.GeminiAPIKey, cache, gate,
		cfg.PrimaryModel, cfg.FallbackModel, nil)
	if err != nil {
		log.Fatalf("[outreach-service] Gemini: %v", err)
	}

	fetcher := discovery.NewContactSourceFetcher(cfg.ContactSourceURL, cfg.ContactSourceKey, nil)
	verifier := verify.NewEngine(store, outStore, fetcher, nil, nil)

	monitor := health.NewMonitor(ledger,
		health.NewPostgresStreakStore(pool), health.NewRedisNotifier(rdb),
		cfg.UnderutilizedThreshold, cfg.StreakDaysThreshold, cfg.CapSuggestionCeiling, nil)

	deliverer, err := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword,
		cfg.ResumePath, nil)
	if err != nil {
		log.Fatalf("[outreach-service] Mailer: %v", err)
	}

	// ── Cycle engines ────────────────────────────────────────────────────────
	engine := discovery.NewEngine(store, fetcher, ledger, verifier, generator, cache, monitor,
		[]string{cfg.PrimaryModel, cfg.FallbackModel}, cfg.ModelDailyLimit,
		cfg.DiscoveryDailyLimit, cfg.ContactsPerCompany, cfg.MinContactsPerCo, nil, nil)

	window := outreach.Window{
		StartHour:  cfg.SendWindowStart,
		EndHour:    cfg.SendWindowEnd,
		GraceHours: cfg.GracePeriodHours,
		Loc:        cfg.Location(),
	}
	sender := outreach.NewScheduler(outStore, deliverer, content.NewResolver(cache), verifier,
		window, cfg.SendIntervalDays, nil, nil, nil)

	// ── Cron ─────────────────────────────────────────────────────────────────
	sched := scheduler.New(engine, sender, cfg.DiscoveryCronSpec, cfg.SendCronSpec)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[outreach-service] Scheduler: %v", err)
	}
	defer sched.Stop()

	if *runDiscoveryNow {
		go sched.RunDiscovery(ctx)
	}
	if *runSendNow {
		go sched.RunSend(ctx)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(ledger, cfg.DiscoveryDailyLimit))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[outreach-service] v%s listening on :%s", version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[outreach-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[outreach-service] Shutting down…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[outreach-service] Shutdown error: %v", err)
	}
	log.Println("[outreach-service] Stopped.")
}

func healthHandler(ledger *quota.Ledger, discoveryLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":  "ok",
			"service": "outreach-service",
			"version": version,
		}
		if remaining, err := ledger.Remaining(r.Context(), time.Now(),
			quota.KindContactDiscovery, discoveryLimit); err == nil {
			resp["discovery_quota_remaining"] = remaining
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}
}
