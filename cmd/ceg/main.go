// Command ceg runs the news ingestion/enrichment/Causal Event Graph
// service described in spec.md: one subcommand per long-running process
// (ingest, enrich, relay, serve) plus a one-shot migrate, so an operator
// can run the whole system in one process or split it across several,
// per spec.md §6.8.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ceglabs/ceg/internal/antispam"
	"github.com/ceglabs/ceg/internal/ceg"
	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/enrichment"
	"github.com/ceglabs/ceg/internal/events"
	"github.com/ceglabs/ceg/internal/eventstudy"
	"github.com/ceglabs/ceg/internal/extractor"
	"github.com/ceglabs/ceg/internal/graphstore"
	"github.com/ceglabs/ceg/internal/graphwriter"
	"github.com/ceglabs/ceg/internal/images"
	"github.com/ceglabs/ceg/internal/ingestion"
	celog "github.com/ceglabs/ceg/internal/log"
	"github.com/ceglabs/ceg/internal/linker"
	"github.com/ceglabs/ceg/internal/metrics"
	"github.com/ceglabs/ceg/internal/netutil/circuit"
	"github.com/ceglabs/ceg/internal/netutil/httpclient"
	"github.com/ceglabs/ceg/internal/netutil/ratelimit"
	"github.com/ceglabs/ceg/internal/opshttp"
	"github.com/ceglabs/ceg/internal/outbox"
	"github.com/ceglabs/ceg/internal/persistence"
	"github.com/ceglabs/ceg/internal/persistence/postgres"
	"github.com/ceglabs/ceg/internal/priceapi"
	"github.com/ceglabs/ceg/internal/secmaster"
	"github.com/ceglabs/ceg/internal/sources"
	"github.com/ceglabs/ceg/internal/sources/html"
	"github.com/ceglabs/ceg/internal/sources/messagechannel"
	"github.com/ceglabs/ceg/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
)

const appName = "ceg"

var (
	cfgPath    string
	logLevel   string
	logJSON    bool
)

func main() {
	root := &cobra.Command{
		Use:   appName,
		Short: "Financial news ingestion, enrichment and Causal Event Graph service",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.yml (defaults built in if unset)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit structured JSON logs instead of console output")

	root.AddCommand(
		migrateCmd(),
		ingestCmd(),
		enrichCmd(),
		relayCmd(),
		serveCmd(),
		allCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg(appName + ": fatal")
		os.Exit(domain.ExitCode(err))
	}
}

func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(cfgPath)
}

func setupLogging() {
	celog.Init(logLevel, logJSON)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM for graceful
// shutdown across every subcommand.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrConfig, err)
			}
			defer db.Close()
			ctx, cancel := signalContext()
			defer cancel()
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info().Msg("ceg: migrations applied")
			return nil
		},
	}
}

// app bundles every collaborator built from Config, shared by every
// long-running subcommand so ingest/enrich/relay/serve can each start a
// subset (or all) of the same wiring.
type app struct {
	cfg  *config.Config
	db   *persistence.Repository
	reg  *metrics.Registry
	bus  stream.EventBus
	health persistence.RepositoryHealth

	poller  *ingestion.Poller
	pool    *enrichment.Pool
	relay   *outbox.Relay
	engine  *ceg.Engine
	httpSrv *opshttp.Server
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, func(), error) {
	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: connect postgres: %v", domain.ErrConfig, err)
	}
	closeDB := func() { db.Close() }

	timeout := cfg.Database.QueryTimeout
	repo := &persistence.Repository{
		News:            postgres.NewNewsRepo(db, timeout),
		Images:          postgres.NewImageRepo(db, timeout),
		Entities:        postgres.NewEntityRepo(db, timeout),
		Issuers:         postgres.NewIssuerRepo(db, timeout),
		Aliases:         postgres.NewAliasRepo(db, timeout),
		LinkedCompanies: postgres.NewLinkedCompanyRepo(db, timeout),
		Topics:          postgres.NewTopicRepo(db, timeout),
		Classifications: postgres.NewClassificationRepo(db, timeout),
		Events:          postgres.NewEventRepo(db, timeout),
		CausalEdges:     postgres.NewCausalEdgeRepo(db, timeout),
		ImpactEdges:     postgres.NewImpactEdgeRepo(db, timeout),
		ParserStates:    postgres.NewParserStateRepo(db, timeout),
		Sources:         postgres.NewSourceRepo(db, timeout),
		Outbox:          postgres.NewOutboxRepo(db, timeout),
	}
	health := postgres.NewHealth(db)

	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)

	bus, err := stream.New(stream.BusType(cfg.Broker.Type), stream.RedisStreamsConfig{
		Addr:   cfg.Broker.Addr,
		DB:     cfg.Broker.DB,
		MaxLen: cfg.Broker.MaxLen,
	})
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("%w: build event bus: %v", domain.ErrConfig, err)
	}
	if err := bus.Start(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("%w: start event bus: %v", domain.ErrConfig, err)
	}

	// Every external collaborator routes through its own named rate limiter
	// and circuit breaker, so one flaky provider can't starve the others.
	secClient := httpclient.Wrap(httpclient.Config{
		Provider:       "secmaster",
		RateLimiter:    ratelimit.NewLimiter(5, 10),
		CircuitBreaker: circuit.NewBreaker(circuit.Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, RequestTimeout: 10 * time.Second}),
	}, http.DefaultTransport)
	sm := secmaster.NewHTTPClient(secmaster.HTTPConfig{BaseURL: envOr("SECMASTER_URL", "http://secmaster.internal")}, secClient)

	priceClient := httpclient.Wrap(httpclient.Config{
		Provider:       "priceapi",
		RateLimiter:    ratelimit.NewLimiter(10, 20),
		CircuitBreaker: circuit.NewBreaker(circuit.Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, RequestTimeout: 10 * time.Second}),
	}, http.DefaultTransport)
	prices := priceapi.NewHTTPClient(priceapi.HTTPConfig{BaseURL: envOr("PRICEAPI_URL", "http://priceapi.internal")}, priceClient)

	graphClient := httpclient.Wrap(httpclient.Config{
		Provider:       "graphstore",
		RateLimiter:    ratelimit.NewLimiter(20, 40),
		CircuitBreaker: circuit.NewBreaker(circuit.Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, RequestTimeout: 10 * time.Second}),
	}, http.DefaultTransport)
	graph := graphstore.NewHTTPClient(graphstore.HTTPConfig{BaseURL: envOr("GRAPHSTORE_URL", "http://graphstore.internal")}, graphClient)

	extractClient := httpclient.Wrap(httpclient.Config{
		Provider:       "extractor",
		RateLimiter:    ratelimit.NewLimiter(5, 10),
		CircuitBreaker: circuit.NewBreaker(circuit.Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second, RequestTimeout: 60 * time.Second}),
	}, http.DefaultTransport)
	extract := extractor.NewHTTPClient(extractor.HTTPConfig{BaseURL: envOr("EXTRACTOR_URL", "http://extractor.internal")}, extractClient)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	}
	aliasCache, err := linker.NewAliasCache(ctx, repo.Aliases, redisClient, nil)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("%w: build alias cache: %v", domain.ErrConfig, err)
	}
	link := linker.New(aliasCache, sm, cfg.Linker)

	eventsX := events.New(cfg.CEG.MaxEventsPerNews, nil)
	study := eventstudy.New(prices, cfg.EventStudy)
	graphW := graphwriter.New(graph, time.Now)
	cegEngine := ceg.New(repo.Events, repo.CausalEdges, repo.News, study, cfg.CEG)

	pipeline := enrichment.New(enrichment.Deps{
		News: repo.News, Entities: repo.Entities, Linked: repo.LinkedCompanies, Topics: repo.Topics,
		Classifications: repo.Classifications, Issuers: repo.Issuers, Sources: repo.Sources, Events: repo.Events,
		Outbox: repo.Outbox, Impacts: repo.ImpactEdges, Extractor: extract, Linker: link, EventX: eventsX,
		CEG: cegEngine, Study: study, Graph: graphW, Cfg: cfg.Enrichment, Metrics: reg,
	})
	pool := enrichment.NewPool(repo.News, pipeline, cfg.Enrichment, reg)

	imageStore := images.New(repo.Images)

	sourceRegistry := sources.NewRegistry()
	htmlClient := httpclient.Wrap(httpclient.Config{
		Provider:       "html",
		RateLimiter:    ratelimit.NewLimiter(5, 10),
		CircuitBreaker: circuit.NewBreaker(circuit.Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, RequestTimeout: 10 * time.Second}),
	}, http.DefaultTransport)
	sourceRegistry.RegisterKind(domain.SourceKindHTML, html.New(htmlClient))
	sourceRegistry.RegisterKind(domain.SourceKindMessageChannel, messagechannel.New(envOr("MESSAGECHANNEL_URL", "")))

	pollIntervals := make(map[string]time.Duration, len(cfg.Sources))
	for _, s := range cfg.Sources {
		pollIntervals[s.Code] = s.PollInterval
	}
	scorer := antispam.New(cfg.Antispam)
	poller := ingestion.NewPoller(repo.Sources, repo.ParserStates, repo.News, sourceRegistry, scorer, imageStore, http.DefaultClient, cfg.Enrichment, pollIntervals, reg)

	relay := outbox.NewRelay(repo.Outbox, bus, cfg.Outbox, reg)

	httpSrv := opshttp.New(cfg.HTTP, repo, health, cegEngine)

	a := &app{cfg: cfg, db: repo, reg: reg, bus: bus, health: health, poller: poller, pool: pool, relay: relay, engine: cegEngine, httpSrv: httpSrv}
	cleanup := func() {
		_ = bus.Stop(context.Background())
		closeDB()
	}
	return a, cleanup, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run the per-source polling tasks (C2-C5)",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return a.poller.Run(ctx)
		},
	}
}

func enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Run the enrichment worker pool (C1, C6-C12)",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			a.pool.Run(ctx)
			return nil
		},
	}
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the outbox relay (C13)",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			a.relay.Run(ctx)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only ops/query HTTP surface (/healthz, /metrics, /news, /events)",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return runHTTPUntilDone(ctx, a.httpSrv)
		},
	}
}

// allCmd runs every long-running subsystem in one process, for local
// development and single-binary deployments where splitting ingest,
// enrich, relay and serve across processes is unnecessary overhead.
func allCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run ingestion, enrichment, the outbox relay and the HTTP surface together",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx, cancel := signalContext()
			defer cancel()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, cleanup, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			var wg sync.WaitGroup
			wg.Add(4)
			go func() { defer wg.Done(); _ = a.poller.Run(ctx) }()
			go func() { defer wg.Done(); a.pool.Run(ctx) }()
			go func() { defer wg.Done(); a.relay.Run(ctx) }()
			go func() {
				defer wg.Done()
				if err := runHTTPUntilDone(ctx, a.httpSrv); err != nil {
					log.Error().Err(err).Msg("ceg: http server")
				}
			}()
			wg.Wait()
			return nil
		},
	}
}

func runHTTPUntilDone(ctx context.Context, srv *opshttp.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
