package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/darkpool-adapter/internal/api"
	"github.com/Checker-Finance/darkpool-adapter/internal/config"
	"github.com/Checker-Finance/darkpool-adapter/internal/jobs"
	"github.com/Checker-Finance/darkpool-adapter/internal/legacy"
	"github.com/Checker-Finance/darkpool-adapter/internal/publisher"
	"github.com/Checker-Finance/darkpool-adapter/internal/rabbitmq"
	"github.com/Checker-Finance/darkpool-adapter/internal/rate"
	internalsecrets "github.com/Checker-Finance/darkpool-adapter/internal/secrets"
	"github.com/Checker-Finance/darkpool-adapter/internal/service"
	"github.com/Checker-Finance/darkpool-adapter/internal/settlement"
	"github.com/Checker-Finance/darkpool-adapter/internal/store"
	"github.com/Checker-Finance/darkpool-adapter/pkg/darkpool"
	"github.com/Checker-Finance/darkpool-adapter/pkg/logger"
	"github.com/Checker-Finance/darkpool-adapter/pkg/secrets"
	"github.com/Checker-Finance/darkpool-adapter/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [darkpool-adapter]...")
	logg.Infow("relayer", "base_url", cfg.RelayerBaseURL, "credentials", cfg.CredentialsSource)
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}

	// --- Relayer credentials ---
	stopCleaner := make(chan struct{})
	creds := credentialSource(ctx, cfg, stopCleaner)

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Event sinks ---
	var (
		nc    *nats.Conn
		pub   *publisher.Publisher
		rmq   *rabbitmq.Publisher
		sinks []service.EventSink
	)
	if cfg.UsesNATS() {
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = publisher.New(nc, publisher.SubjectFlowTransition, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		sinks = append(sinks, pub)
	}
	if cfg.UsesRabbitMQ() {
		rmq, err = rabbitmq.NewPublisher(cfg.AMQPURL, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to init rabbitmq publisher", "error", err)
		}
		sinks = append(sinks, rmq)
	}

	// --- Rate limiter ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RelayerRPS,
		Burst:             cfg.RelayerBurst,
		Cooldown:          cfg.RelayerCooldown,
	})

	sponsorEnc, err := darkpool.ParseSponsorshipEncoding(cfg.GasSponsorshipParam)
	if err != nil {
		logg.Fatalw("invalid GAS_SPONSORSHIP_PARAM", "error", err)
	}

	relayerLogger := logger.Named("relayer")
	newRelayer := func(cred darkpool.Credential) service.Relayer {
		return darkpool.NewClient(cfg.RelayerBaseURL, cred,
			darkpool.WithRateManager(rateMgr),
			darkpool.WithSponsorshipEncoding(sponsorEnc),
			darkpool.WithRetries(cfg.RelayerRetries),
			darkpool.WithLogger(relayerLogger),
		)
	}

	// --- Service ---
	opts := []service.Option{service.WithEventSinks(sinks...)}
	if cfg.SettlementEnabled() {
		submitter, err := settlement.Dial(ctx, cfg.EthRPCURL, cfg.EthPrivateKey, logger.Named("settlement"))
		if err != nil {
			logg.Fatalw("failed to init settlement submitter", "error", err)
		}
		logg.Infow("settlement enabled", "sender", submitter.Address().Hex())
		opts = append(opts, service.WithSettler(submitter))
	} else {
		logg.Warn("ETH_RPC_URL or ETH_PRIVATE_KEY not configured; bundle submission disabled")
	}
	if cfg.LegacyTradeSync {
		if st.PG == nil {
			logg.Warn("LEGACY_TRADE_SYNC set but DATABASE_URL is empty; trade sync disabled")
		} else {
			opts = append(opts, service.WithTradeRecorder(
				legacy.NewTradeSyncWriter(st.PG, logger.Named("legacy"), cfg.ServiceName, cfg.Venue)))
		}
	}
	svc := service.NewService(*cfg, logger.Named("service"), creds, newRelayer, st, opts...)

	// --- Relayer websocket (optional) ---
	var stream *darkpool.Stream
	if cfg.RelayerWSURL != "" {
		stream = startStream(ctx, cfg, creds)
	}

	// --- Flow sweeper ---
	var sweepPub jobs.EventPublisher
	if pub != nil {
		sweepPub = pub
	}
	sweeper := jobs.NewFlowSweeper(logger.Named("flow_sweeper"), svc, sweepPub, cfg.SweepSubject, cfg.SweepInterval)
	go sweeper.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	var validator api.ClientValidator
	if cfg.CredentialsSource == config.CredentialsAWS {
		validator = api.NewResolverValidator(creds)
	}
	handler := api.NewDarkpoolHandler(logger.Named("api"), svc, validator, cfg.DefaultClientID)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("[darkpool-adapter] running",
		"env", cfg.Env,
		"event_sink", cfg.EventSink,
		"quote_ttl", cfg.QuoteTTL,
		"gas_sponsorship", !cfg.GasSponsorshipOff)

	<-ctx.Done()
	logg.Info("shutting down [darkpool-adapter]...")

	close(stopCleaner)
	sweeper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	svc.Wait()
	if stream != nil {
		_ = stream.Close()
	}
	if rmq != nil {
		if err := rmq.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}

// credentialSource returns per-client credentials from AWS Secrets Manager
// or the single key pair from the environment.
func credentialSource(ctx context.Context, cfg *config.Config, stopCleaner <-chan struct{}) internalsecrets.CredentialSource {
	logg := logger.S()

	if cfg.CredentialsSource != config.CredentialsAWS {
		cred, err := darkpool.NewCredential(cfg.APIKey, cfg.APISecret)
		if err != nil {
			logg.Fatalw("invalid RENEGADE_API_KEY / RENEGADE_API_SECRET", "error", err)
		}
		logg.Infow("using static relayer credential", "api_key", utils.MaskKey(cfg.APIKey))
		return internalsecrets.NewStaticSource(cred)
	}

	sm, err := secrets.NewSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
	}

	// --- Per-client credential resolver (secrets cached in-memory) ---
	credCache := secrets.NewCredentialCache(cfg.CacheTTL)
	go credCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewAWSResolver(logger.Named("secrets"), cfg.Env, cfg.Venue, sm, credCache)

	clients, err := resolver.DiscoverClients(ctx)
	if err != nil {
		logg.Warnw("failed to discover clients from AWS Secrets Manager", "error", err)
	} else {
		logg.Infow("discovered darkpool clients", "count", len(clients), "clients", clients)
	}
	return resolver
}

// startStream opens the relayer websocket for the default client and
// subscribes to the configured topics.
func startStream(ctx context.Context, cfg *config.Config, creds internalsecrets.CredentialSource) *darkpool.Stream {
	logg := logger.S()
	cred, err := creds.Credential(ctx, cfg.DefaultClientID)
	if err != nil {
		logg.Warnw("relayer stream disabled: no credential", "client", cfg.DefaultClientID, "error", err)
		return nil
	}

	streamLogger := logger.Named("stream")
	stream := darkpool.NewStream(cfg.RelayerWSURL, darkpool.NewAuthenticator(cred), streamLogger)
	stream.AddHandler(func(msg *darkpool.ServerMessage) {
		streamLogger.Debug("stream.message",
			zap.String("topic", msg.Topic),
			zap.String("event", msg.Body.Event))
	})
	// recorded now, sent by Connect
	for _, topic := range cfg.RelayerWSTopics {
		if err := stream.Subscribe(topic); err != nil {
			logg.Warnw("stream.subscribe_failed", "topic", topic, "error", err)
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := stream.Connect(connectCtx); err != nil {
		logg.Warnw("stream.connect_failed", "error", err)
		_ = stream.Close()
		return nil
	}
	return stream
}
