package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/leadflow/internal/api"
	"github.com/ignite/leadflow/internal/app"
	"github.com/ignite/leadflow/internal/config"
	"github.com/ignite/leadflow/internal/repository/postgres"
)

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	log.Println("Starting leadflow API server...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	log.Printf("Connected to database at %s", extractHost(cfg.Database.URL))
	a.Start()

	deps := api.Deps{
		Segments:    a.Segments,
		Automations: a.Dispatcher,
		Runs:        a.Pipeline,
		Tasks:       a.Queue,
		Health:      api.NewHealthChecker(a.DB, a.Redis),
	}
	if a.History != nil {
		deps.Notifications = a.History
	}
	if cfg.Ledger.Postgres {
		deps.Ledger = postgres.NewLedgerRepo(a.DB)
	}
	server := api.NewServer(cfg.Server, deps)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Listening on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	a.Close(shutdownCtx)
	log.Println("Server stopped")
}
