// Package main runs the staking ledger server:
// - HTTP API with signed operations and websocket event streams
// - Event dispatcher fanning committed events out to the configured sinks
// - Scheduled backing audit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"staking-ledger/internal/api"
	"staking-ledger/internal/audit"
	"staking-ledger/internal/authority"
	"staking-ledger/internal/config"
	"staking-ledger/internal/events"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/staking"
	"staking-ledger/internal/storage"
	chstore "staking-ledger/internal/storage/clickhouse"
	"staking-ledger/internal/storage/memory"
	"staking-ledger/internal/storage/migrations"
	pgstore "staking-ledger/internal/storage/postgres"
)

// Server holds all components of the service.
type Server struct {
	cfg    *config.Config
	logger *log.Logger

	engine     *staking.Engine
	dispatcher *events.Dispatcher
	hub        *events.Hub
	auditor    *audit.Auditor
	api        *api.Server

	started time.Time
	cleanup []func()
}

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	// Parse flags (config file and env vars as defaults)
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (enables the event archive)")
	redisURL := flag.String("redis-url", "", "Redis URL (enables the shared replay guard)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	faucet := flag.Bool("faucet", false, "Expose the airdrop faucet (in-memory storage only)")
	enforceBacking := flag.Bool("enforce-backing", false, "Reject admin withdrawals that would leave receipt-tokens unbacked")
	logEvents := flag.Bool("log-events", false, "Log every committed event")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Explicit flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "postgres-dsn":
			cfg.Storage.PostgresDSN = *postgresDSN
		case "clickhouse-dsn":
			cfg.Storage.ClickHouseDSN = *clickhouseDSN
		case "redis-url":
			cfg.Redis.URL = *redisURL
		case "use-memory":
			cfg.Storage.UseMemory = *useMemory
		case "faucet":
			cfg.Server.Faucet = *faucet
		case "enforce-backing":
			cfg.Staking.EnforceBacking = *enforceBacking
		}
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	server, err := newServer(ctx, cfg, *logEvents, logger)
	if err != nil {
		logger.Fatalf("Failed to start: %v", err)
	}
	defer server.Close()

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// newServer connects the stores and builds every component.
func newServer(ctx context.Context, cfg *config.Config, logEvents bool, logger *log.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, started: time.Now()}

	substrate, err := s.createSubstrate(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.hub = events.NewHub(nil, prefixed("stream"))
	sinks := []events.Sink{s.hub}
	if logEvents {
		sinks = append(sinks, events.NewLogSink(prefixed("events")))
	}

	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		s.cleanup = append(s.cleanup, func() { conn.Close() })
		sinks = append(sinks, events.NewArchiveSink(chstore.NewEventArchive(conn)))
		logger.Println("Event archive enabled (ClickHouse)")
	}

	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaSink(ctx, cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		s.cleanup = append(s.cleanup, kafka.Close)
		sinks = append(sinks, kafka)
		logger.Printf("Kafka sink enabled (topic %s)", cfg.Events.KafkaTopic)
	}

	s.dispatcher = events.NewDispatcher(events.DispatcherOptions{
		Sinks:      sinks,
		BufferSize: cfg.Events.BufferSize,
		Logger:     prefixed("dispatcher"),
	})

	programID, err := cfg.ProgramID()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.engine, err = staking.NewEngine(staking.Options{
		Substrate:      substrate,
		Deriver:        authority.NewDeriver(programID),
		Emitter:        s.dispatcher,
		EnforceBacking: cfg.Staking.EnforceBacking,
		Logger:         prefixed("engine"),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	var replay api.ReplayGuard
	if cfg.Redis.URL != "" {
		client, err := api.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.cleanup = append(s.cleanup, func() { client.Close() })
		replay = api.NewRedisReplayGuard(client)
		logger.Println("Replay guard: Redis")
	}

	s.api, err = api.New(api.Options{
		Ledger: s.engine,
		Hub:    s.hub,
		Replay: replay,
		Faucet: cfg.Server.Faucet,
		Logger: prefixed("api"),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.auditor, err = audit.New(audit.Options{
		Ledger:   s.engine,
		Schedule: cfg.Audit.Schedule,
		Logger:   prefixed("audit"),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func prefixed(name string) *log.Logger {
	return log.New(os.Stdout, "["+name+"] ", log.LstdFlags|log.Lshortfile)
}

// createSubstrate opens the transactional store.
func (s *Server) createSubstrate(ctx context.Context) (storage.Substrate, error) {
	if s.cfg.Storage.UseMemory {
		s.logger.Println("Using in-memory storage")
		return memory.NewStore(), nil
	}

	pool, err := pgstore.NewPool(ctx, s.cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s.cleanup = append(s.cleanup, pool.Close)

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}
	return pgstore.NewSubstrate(pool), nil
}

// Close releases connections in reverse order of creation.
func (s *Server) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.cleanup = nil
}

// Run serves until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting server...")

	router := s.api.Router()
	router.Get("/status", s.handleStatus)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.dispatcher.Run(gctx)
	})

	g.Go(func() error {
		return s.auditor.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				observability.DefaultMetrics.UptimeSeconds.Inc()
			}
		}
	})

	g.Go(func() error {
		s.logger.Printf("Starting HTTP server on %s", s.cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string        `json:"status"`
	Uptime        string        `json:"uptime"`
	Started       time.Time     `json:"started"`
	Storage       string        `json:"storage"`
	StreamClients int           `json:"stream_clients"`
	Faucet        bool          `json:"faucet"`
	BackingGuard  bool          `json:"backing_guard"`
	LastAudit     *audit.Report `json:"last_audit,omitempty"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	storageKind := "postgres"
	if s.cfg.Storage.UseMemory {
		storageKind = "memory"
	}

	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Started:       s.started,
		Storage:       storageKind,
		StreamClients: s.hub.Clients(),
		Faucet:        s.cfg.Server.Faucet,
		BackingGuard:  s.cfg.Staking.EnforceBacking,
		LastAudit:     s.auditor.Last(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
