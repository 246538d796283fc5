package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	genesis "rwacredit/config"
	"rwacredit/core"
	"rwacredit/core/events"
	"rwacredit/gateway/middleware"
	"rwacredit/integrations/webhooks"
	"rwacredit/observability"
	"rwacredit/observability/logging"
	telemetry "rwacredit/observability/otel"
	creditserver "rwacredit/services/credit/server"
	"rwacredit/services/creditd/config"
	"rwacredit/services/indexer"
	"rwacredit/services/scheduler"
	"rwacredit/state"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/creditd/config.yaml", "path to creditd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RWA_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, logCloser := logging.SetupFile("creditd", env, cfg.Log)
	defer logCloser.Close()

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "creditd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	store, err := state.Open(filepath.Join(cfg.DataDir, "ledger.db"), nil)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	genesisPath := cfg.GenesisPath
	if genesisPath == "" {
		genesisPath = filepath.Join(cfg.DataDir, "genesis.toml")
	}
	gen, err := genesis.Load(genesisPath)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}
	ledger, err := core.NewLedger(store, gen.LedgerConfig())
	if err != nil {
		log.Fatalf("init ledger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub()
	hub.AddSink(observability.Events())
	hub.OnDrop(observability.Events().RecordDrop)
	ledger.SetPublisher(hub)

	if cfg.Webhook.Endpoint != "" {
		opts := []webhooks.Option{webhooks.WithLogger(logger), webhooks.WithQueueSize(cfg.Webhook.QueueSize)}
		if len(cfg.Webhook.Topics) > 0 {
			opts = append(opts, webhooks.WithTopics(cfg.Webhook.Topics...))
		}
		if cfg.Webhook.MaxAttempts > 0 {
			opts = append(opts, webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff, cfg.Webhook.MaxBackoff))
		}
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret), opts...)
		if err != nil {
			log.Fatalf("init webhooks: %v", err)
		}
		defer dispatcher.Close()
		hub.AddSink(dispatcher)
	}

	var workers sync.WaitGroup
	var history creditserver.RepaymentHistory
	if cfg.Indexer.DSN != "" {
		db, err := indexer.Open(cfg.Indexer.DSN)
		if err != nil {
			log.Fatalf("open indexer: %v", err)
		}
		ix, err := indexer.New(db, logger)
		if err != nil {
			log.Fatalf("init indexer: %v", err)
		}
		history = ix
		workers.Add(1)
		go func() {
			defer workers.Done()
			ix.Run(ctx, hub)
		}()
	}

	// Genesis seeding publishes through the hub so the indexer mirrors it.
	seeded, err := gen.Apply(ctx, ledger)
	if err != nil {
		log.Fatalf("apply genesis: %v", err)
	}
	logger.Info("ledger ready", "usdAsset", ledger.Config().USDAsset, "genesisApplied", seeded)

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(ledger, scheduler.Config{
			Interval:              cfg.Scheduler.Interval,
			PageSize:              cfg.Scheduler.PageSize,
			DistributionBatchSize: gen.DistributionBatchSize,
			AutoLiquidate:         cfg.Scheduler.AutoLiquidate,
			AutoDistribute:        cfg.Scheduler.AutoDistribute,
		}, logger)
		if err != nil {
			log.Fatalf("init scheduler: %v", err)
		}
		workers.Add(1)
		go func() {
			defer workers.Done()
			_ = sched.Run(ctx)
		}()
	}

	api, err := creditserver.New(creditserver.Config{
		Ledger:        ledger,
		Hub:           hub,
		Auth:          middleware.NewAuthenticator(authConfig(cfg.Auth), logger),
		Limiter:       middleware.NewRateLimiter(rateLimits(cfg.RateLimits), logger),
		Observability: middleware.NewObservability("creditd", logger, cfg.AccessLog),
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
		},
		History:               history,
		Logger:                logger,
		DistributionBatchSize: gen.DistributionBatchSize,
	})
	if err != nil {
		log.Fatalf("init api: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext creditd mode is restricted to loopback listeners or dev environment")
		}
	}
	server := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("creditd listening", "addr", cfg.ListenAddress, "tls", cfg.TLS.CertPath != "")
		if cfg.TLS.CertPath != "" {
			serverErr <- server.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = server.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
	stop()
	workers.Wait()
}

func authConfig(cfg config.AuthConfig) middleware.AuthConfig {
	return middleware.AuthConfig{
		Enabled:    cfg.Enabled,
		HMACSecret: cfg.HMACSecret,
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		ScopeClaim: cfg.ScopeClaim,
		ClockSkew:  cfg.ClockSkew,
	}
}

func rateLimits(limits []config.RateLimit) map[string]middleware.RateLimit {
	out := make(map[string]middleware.RateLimit, len(limits))
	for _, limit := range limits {
		out[limit.Group] = middleware.RateLimit{
			RatePerSecond: limit.RatePerSecond,
			Burst:         limit.Burst,
			DefaultTokens: limit.DefaultTokens,
			Tokens:        limit.Tokens,
		}
	}
	return out
}
