package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/leadflow/internal/app"
	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/config"
	"github.com/ignite/leadflow/internal/repository/postgres"
	"github.com/ignite/leadflow/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	log.Println("Starting leadflow worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	log.Println("Connected to database")
	a.Start()

	var processor *scheduler.Processor
	if cfg.Scheduler.Enabled {
		processor = scheduler.NewProcessor(a.Queue, cfg.Scheduler.Interval(), cfg.Scheduler.BatchLimit)
		if err := processor.Start(); err != nil {
			log.Fatalf("Failed to start task processor: %v", err)
		}

		// Reclaims tasks whose worker died mid-claim
		reaper := scheduler.NewReaper(a.Queue, cfg.Scheduler.RecoveryInterval(), cfg.Scheduler.Lease())
		go reaper.Start(ctx)
	} else {
		log.Println("Task processor disabled (scheduler.enabled=false)")
	}

	var planner *automation.Planner
	if cfg.Automation.PlannerEnabled {
		planner = automation.NewPlanner(a.Automations, a.Queue, a.Locks, cfg.Automation.PlannerInterval())
		if err := planner.Start(); err != nil {
			log.Fatalf("Failed to start planner: %v", err)
		}
	}

	var sweeps *automation.SweepScheduler
	if interval := cfg.Segmentation.RefreshInterval(); interval > 0 && len(cfg.Segmentation.Organizations) > 0 {
		orgs, err := automation.ParseOrganizations(cfg.Segmentation.Organizations)
		if err != nil {
			log.Fatalf("Invalid segmentation.organizations: %v", err)
		}
		sweeps = automation.NewSweepScheduler(a.Queue, orgs, interval)
		if err := sweeps.Start(); err != nil {
			log.Fatalf("Failed to start segment sweeps: %v", err)
		}
	}

	// Fails runs whose process died before FinishRun
	runReaper := automation.NewRunReaper(postgres.NewRunRepo(a.DB), cfg.Scheduler.RecoveryInterval(), cfg.Automation.StaleRunAge())
	go runReaper.Start(ctx)

	retention := postgres.NewRetention(a.DB, postgres.RetentionPolicy{
		CompletedTasks: cfg.Scheduler.Retention(),
		LedgerEntries:  cfg.Ledger.Retention(),
	}, 6*time.Hour)
	retention.Start()

	log.Printf("Worker running (id=%s)", a.Queue.WorkerID())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	retention.Stop()
	if sweeps != nil {
		sweeps.Stop()
	}
	if planner != nil {
		planner.Stop()
	}
	if processor != nil {
		processor.Stop()
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	a.Close(shutdownCtx)
	log.Println("Worker stopped")
}
