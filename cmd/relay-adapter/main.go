package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/relay-adapter/internal/api"
	"github.com/Checker-Finance/relay-adapter/internal/bridge"
	"github.com/Checker-Finance/relay-adapter/internal/chain"
	"github.com/Checker-Finance/relay-adapter/internal/jobs"
	"github.com/Checker-Finance/relay-adapter/internal/metrics"
	"github.com/Checker-Finance/relay-adapter/internal/publisher"
	"github.com/Checker-Finance/relay-adapter/internal/rate"
	"github.com/Checker-Finance/relay-adapter/internal/relay"
	internalsecrets "github.com/Checker-Finance/relay-adapter/internal/secrets"
	"github.com/Checker-Finance/relay-adapter/internal/store"
	"github.com/Checker-Finance/relay-adapter/internal/stream"
	"github.com/Checker-Finance/relay-adapter/pkg/config"
	"github.com/Checker-Finance/relay-adapter/pkg/eventbus"
	"github.com/Checker-Finance/relay-adapter/pkg/logger"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
	"github.com/Checker-Finance/relay-adapter/pkg/secrets"
	"github.com/Checker-Finance/relay-adapter/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	bridgeCfg, err := bridge.ConfigFrom(cfg)
	if err != nil {
		logg.Fatalw("invalid bridge contract configuration", "error", err)
	}

	// --- AWS Secrets Manager provider ---
	awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
	}

	// --- Per-client settings resolver (secrets cached in-memory) ---
	settingsCache := secrets.NewCache[internalsecrets.ClientSettings](cfg.CacheTTL)
	settingsCache.OnAccess(func(hit bool) {
		if hit {
			metrics.IncCacheHit("hit")
		} else {
			metrics.IncCacheHit("miss")
		}
	})
	stopCleaner := make(chan struct{})
	go settingsCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewRelayResolver(logg.Desugar(), cfg, awsProvider, settingsCache)

	// --- Discover configured clients ---
	clients, err := resolver.DiscoverClients(ctx)
	if err != nil {
		logg.Warnw("failed to discover clients from AWS Secrets Manager", "error", err)
	} else {
		logg.Infow("discovered relay clients", "count", len(clients), "clients", clients)
	}

	// --- Outbound events (NATS JetStream, RabbitMQ or disabled) ---
	var events publisher.EnvelopePublisher
	switch cfg.EventTransport {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err := publisher.New(nc, cfg.ServiceName, logg.Desugar())
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		events = pub
	case "amqp":
		pub, err := publisher.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.ServiceName, logg.Desugar())
		if err != nil {
			logg.Fatalw("failed to init AMQP publisher", "error", err)
		}
		events = pub
	case "none", "":
		logg.Warn("EVENT_TRANSPORT=none; status events are not published")
	default:
		logg.Fatalw("unknown EVENT_TRANSPORT", "transport", cfg.EventTransport)
	}

	// --- Rate limiter ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: float64(cfg.RelayRateLimit),
		Burst:             cfg.RelayRateLimit * 2,
	})

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(store.Options{
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
		RedisPass: cfg.RedisPass,
		PGURL:     cfg.DatabaseURL,
		PGPool: store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		},
		RecordTTL: cfg.RecordTTL,
		Source:    cfg.ServiceName,
	}, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Chain RPC ---
	chains, err := chain.Dial(ctx, logg.Desugar(), cfg.ChainRPCURLs, rateMgr)
	if err != nil {
		logg.Fatalw("failed to dial chain RPC", "error", err)
	}

	// --- Relay HTTP Client (config supplied per-request) ---
	relayClient := relay.NewClient(logg.Desugar(), rateMgr, cfg.RelayTimeout, cfg.RelayRetryMax)

	// --- Bridge service ---
	svc := bridge.NewService(logg.Desugar(), resolver, relayClient, chains, st, bridgeCfg)

	// --- Status fan-out: store, message bus, websocket subscribers ---
	hub := stream.NewHub(logg.Desugar(), st.GetRecord)
	bus := eventbus.New[model.StatusEvent](logg.Desugar())
	bus.Subscribe("store", svc.HandleStatusEvent)
	if events != nil {
		bus.Subscribe("publisher", publisher.StatusHandler(events, cfg.EventSubject, logg.Desugar()))
	}
	bus.Subscribe("stream", hub.Broadcast)

	// --- Poller ---
	poller := relay.NewPoller(logg.Desugar(), svc, bus, relay.PollerConfig{
		MaxAttempts:             cfg.PollMaxAttempts,
		Interval:                cfg.PollInterval,
		SmartAccountMaxAttempts: cfg.PollMaxAttemptsSmartAccount,
		SmartAccountInterval:    cfg.PollIntervalSmartAccount,
	})
	svc.SetPoller(poller)

	// --- Pending recovery job ---
	recovery := jobs.NewPendingRecovery(logg.Desugar(), st, poller, cfg.RecoveryInterval)
	go recovery.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	clientValidator := api.NewResolverValidator(resolver)
	handler := api.NewBridgeHandler(logg.Desugar(), svc, clientValidator)
	api.RegisterRoutes(app, events, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Websocket status stream ---
	mux := http.NewServeMux()
	mux.Handle("/ws/status", hub)
	wsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WSPort),
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
	}
	go func() {
		logg.Infof("status stream listening on :%d", cfg.WSPort)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatalw("ws.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("["+cfg.ServiceName+"] running",
		"env", cfg.Env,
		"events", cfg.EventTransport,
		"relay", utils.MaskURL(cfg.RelayBaseURL),
		"chains", chains.ChainIDs(),
		"discovered_clients", len(clients))

	<-ctx.Done()
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	close(stopCleaner)
	recovery.Stop()
	poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logg.Warnw("ws.shutdown_failed", "error", err)
	}
	if events != nil {
		events.Close()
	}
	chains.Close()
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
