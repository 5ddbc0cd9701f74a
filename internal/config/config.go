package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Checker-Finance/darkpool-adapter/pkg/config"
)

const (
	CredentialsEnv = "env"
	CredentialsAWS = "aws"

	SinkNATS     = "nats"
	SinkRabbitMQ = "rabbitmq"
	SinkBoth     = "both"
	SinkNone     = "none"
)

// Config holds the runtime configuration for the adapter.
type Config struct {
	ServiceName string // e.g. "darkpool-adapter"
	Env         string // e.g. "dev", "uat", "prod"
	Venue       string
	LogLevel    string
	Port        int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	// Relayer
	RelayerBaseURL    string
	RelayerWSURL      string
	RelayerRetries    int
	RelayerRPS        int
	RelayerBurst      int
	RelayerCooldown   time.Duration
	APIKey            string
	APISecret         string
	CredentialsSource string // CredentialsEnv or CredentialsAWS
	AWSRegion         string
	CacheTTL          time.Duration // TTL for cached credentials
	CleanupFreq       time.Duration
	DefaultClientID   string
	ReceiverAddress   string
	RelayerWSTopics   []string

	// Match flow
	QuoteTTL           time.Duration
	MarketsCacheTTL    time.Duration
	SettlementTimeout  time.Duration
	SweepInterval      time.Duration
	GasSponsorshipOff  bool
	GasRefundAddress   string
	GasRefundNativeETH bool
	// GasSponsorshipParam is "inverted" or "literal"; see darkpool.SponsorshipEncoding.
	GasSponsorshipParam string
	SweepSubject        string

	// Infrastructure
	RedisAddr   string
	RedisDB     int
	DatabaseURL string
	NATSURL     string
	AMQPURL     string
	EventSink   string
	// LegacyTradeSync mirrors settled trades into activity.t_order.
	LegacyTradeSync bool

	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	// Settlement; an empty RPC URL disables on-chain submission.
	EthRPCURL     string
	EthPrivateKey string
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	return &Config{
		ServiceName:      pkgconfig.GetEnv("SERVICE_NAME", "darkpool-adapter"),
		Env:              pkgconfig.GetEnv("ENV", "dev"),
		Venue:            pkgconfig.GetEnv("VENUE", "renegade"),
		LogLevel:         pkgconfig.GetEnv("LOG_LEVEL", "info"),
		Port:             pkgconfig.GetEnvInt("DARKPOOL_PORT", 9030),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    pkgconfig.GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),

		RelayerBaseURL:    pkgconfig.GetEnv("RELAYER_BASE_URL", "https://testnet.auth-server.renegade.fi:3000"),
		RelayerWSURL:      pkgconfig.GetEnv("RELAYER_WS_URL", ""),
		RelayerRetries:    pkgconfig.GetEnvInt("RELAYER_RETRIES", 0),
		RelayerRPS:        pkgconfig.GetEnvInt("RELAYER_RPS", 5),
		RelayerBurst:      pkgconfig.GetEnvInt("RELAYER_BURST", 10),
		RelayerCooldown:   pkgconfig.GetEnvDuration("RELAYER_COOLDOWN", 2*time.Second),
		APIKey:            pkgconfig.GetEnv("RENEGADE_API_KEY", ""),
		APISecret:         pkgconfig.GetEnv("RENEGADE_API_SECRET", ""),
		CredentialsSource: strings.ToLower(pkgconfig.GetEnv("CREDENTIALS_SOURCE", CredentialsEnv)),
		AWSRegion:         pkgconfig.GetEnv("AWS_REGION", "us-east-2"),
		CacheTTL:          pkgconfig.GetEnvDuration("CACHE_TTL", 24*time.Hour),
		CleanupFreq:       pkgconfig.GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),
		DefaultClientID:   pkgconfig.GetEnv("DEFAULT_CLIENT_ID", "default"),
		ReceiverAddress:   pkgconfig.GetEnv("RECEIVER_ADDRESS", ""),
		RelayerWSTopics:   splitList(pkgconfig.GetEnv("RELAYER_WS_TOPICS", "")),

		QuoteTTL:            pkgconfig.GetEnvDuration("QUOTE_TTL", 30*time.Second),
		MarketsCacheTTL:     pkgconfig.GetEnvDuration("MARKETS_CACHE_TTL", 1*time.Minute),
		SettlementTimeout:   pkgconfig.GetEnvDuration("SETTLEMENT_TIMEOUT", 2*time.Minute),
		SweepInterval:       pkgconfig.GetEnvDuration("SWEEP_INTERVAL", 15*time.Second),
		GasSponsorshipOff:   pkgconfig.GetEnvBool("GAS_SPONSORSHIP_DISABLED", false),
		GasRefundAddress:    pkgconfig.GetEnv("GAS_REFUND_ADDRESS", ""),
		GasRefundNativeETH:  pkgconfig.GetEnvBool("GAS_REFUND_NATIVE_ETH", false),
		GasSponsorshipParam: strings.ToLower(pkgconfig.GetEnv("GAS_SPONSORSHIP_PARAM", "inverted")),
		SweepSubject:        pkgconfig.GetEnv("SWEEP_SUBJECT", "evt.darkpool.flows.swept.v1"),

		RedisAddr:   pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     pkgconfig.GetEnvInt("REDIS_DB", 0),
		DatabaseURL: pkgconfig.GetEnv("DATABASE_URL", ""),
		NATSURL:     pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		AMQPURL:     pkgconfig.GetEnv("AMQP_URL", ""),
		EventSink:   strings.ToLower(pkgconfig.GetEnv("EVENT_SINK", SinkNATS)),

		LegacyTradeSync: pkgconfig.GetEnvBool("LEGACY_TRADE_SYNC", false),

		PGMaxConns:          pkgconfig.GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          pkgconfig.GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: pkgconfig.GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		EthRPCURL:     pkgconfig.GetEnv("ETH_RPC_URL", ""),
		EthPrivateKey: pkgconfig.GetEnv("ETH_PRIVATE_KEY", ""),
	}
}

// UsesNATS reports whether flow events go to NATS.
func (c Config) UsesNATS() bool {
	return c.EventSink == SinkNATS || c.EventSink == SinkBoth
}

// UsesRabbitMQ reports whether flow events go to RabbitMQ.
func (c Config) UsesRabbitMQ() bool {
	return (c.EventSink == SinkRabbitMQ || c.EventSink == SinkBoth) && c.AMQPURL != ""
}

// SettlementEnabled reports whether bundles can be submitted on-chain.
func (c Config) SettlementEnabled() bool {
	return c.EthRPCURL != "" && c.EthPrivateKey != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
