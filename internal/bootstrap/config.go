// Package bootstrap wires moneycore's configuration, connections, and
// domain components into the set of long-lived Apps the process runs,
// grounded on the teacher's InitServers/Config shape (components/audit,
// components/consumer) translated onto pkg/config's reflection loader.
package bootstrap

import (
	"github.com/hustlexp/moneycore/pkg/config"
)

// ApplicationName identifies this service in logs/telemetry.
const ApplicationName = "moneycore"

// Config is the top-level configuration struct, populated from the
// environment by config.FromEnv. Map-typed policy fields (TPEE's allowed
// categories and per-city price floors) aren't representable as a single
// env var and are set by defaultTPEEPolicy in bootstrap.go instead.
type Config struct {
	EnvName  string `env:"ENV_NAME"`
	LogLevel string `env:"LOG_LEVEL"`

	ServerAddress string `env:"SERVER_ADDRESS"`

	OtelLibraryName    string `env:"OTEL_LIBRARY_NAME"`
	OtelServiceName    string `env:"OTEL_RESOURCE_SERVICE_NAME"`
	OtelServiceVersion string `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	OtelDeploymentEnv  string `env:"OTEL_RESOURCE_DEPLOYMENT_ENVIRONMENT"`
	OtelExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	PostgresPrimaryDSN  string `env:"DB_PRIMARY_DSN"`
	PostgresReplicaDSN  string `env:"DB_REPLICA_DSN"`
	PostgresDBName      string `env:"DB_NAME"`
	PostgresMigrationsPath string `env:"DB_MIGRATIONS_PATH"`

	RedisURL string `env:"REDIS_URL"`

	RabbitMQURL       string `env:"RABBITMQ_URL"`
	WebhookExchange   string `env:"RABBITMQ_WEBHOOK_EXCHANGE"`
	WebhookQueue      string `env:"RABBITMQ_WEBHOOK_QUEUE"`

	MongoURL      string `env:"MONGO_URL"`
	MongoDatabase string `env:"MONGO_DATABASE"`

	StripeBaseURL string `env:"STRIPE_BASE_URL"`
	StripeAPIKey  string `env:"STRIPE_API_KEY"`

	JWTHMACSecret string `env:"JWT_HMAC_SECRET"`

	WebhookHMACSecret       string `env:"WEBHOOK_HMAC_SECRET"`
	Livemode                bool   `env:"LIVEMODE"`
	LateArrivalAfterMinutes int64  `env:"GATE_LATE_ARRIVAL_AFTER_MINUTES"`

	TPEEPolicyVersion       string `env:"TPEE_POLICY_VERSION"`
	TPEEDefaultMinPriceCents int64 `env:"TPEE_DEFAULT_MIN_PRICE_CENTS"`
	TPEETrustHardThreshold  int64  `env:"TPEE_TRUST_HARD_THRESHOLD"`
	TPEETrustWarnThreshold  int64  `env:"TPEE_TRUST_WARN_THRESHOLD"`
	TPEEShadowMode          bool   `env:"TPEE_SHADOW_MODE"`
	TPEEHourlyVelocityCap   int64  `env:"TPEE_HOURLY_VELOCITY_CAP"`
	TPEEDailyVelocityCap    int64  `env:"TPEE_DAILY_VELOCITY_CAP"`

	PlatformFeeBps int64 `env:"PLATFORM_FEE_BPS"`

	LockTTLSeconds                  int64 `env:"LOCK_TTL_SECONDS"`
	ReaperStuckAfterSeconds         int64 `env:"REAPER_STUCK_AFTER_SECONDS"`
	KillSwitchRefreshIntervalSeconds int64 `env:"KILL_SWITCH_REFRESH_INTERVAL_SECONDS"`
	RecoveryPollIntervalSeconds     int64 `env:"RECOVERY_POLL_INTERVAL_SECONDS"`
	DrainTimeoutSeconds             int64 `env:"DRAIN_TIMEOUT_SECONDS"`
}

// LoadConfig loads .env (local only) then populates Config from the
// environment, applying defaults for anything left at its zero value.
func LoadConfig() (*Config, error) {
	config.LoadLocalEnv()

	cfg := &Config{}
	if err := config.FromEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.ServerAddress == "" {
		cfg.ServerAddress = ":8080"
	}

	if cfg.WebhookExchange == "" {
		cfg.WebhookExchange = "moneycore.webhooks"
	}

	if cfg.WebhookQueue == "" {
		cfg.WebhookQueue = "moneycore.webhooks.payments"
	}

	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "moneycore_audit"
	}

	if cfg.TPEEPolicyVersion == "" {
		cfg.TPEEPolicyVersion = "v1"
	}

	if cfg.TPEEDefaultMinPriceCents == 0 {
		cfg.TPEEDefaultMinPriceCents = 500
	}

	if cfg.TPEETrustHardThreshold == 0 {
		cfg.TPEETrustHardThreshold = 20
	}

	if cfg.TPEETrustWarnThreshold == 0 {
		cfg.TPEETrustWarnThreshold = 40
	}

	if cfg.TPEEHourlyVelocityCap == 0 {
		cfg.TPEEHourlyVelocityCap = 10
	}

	if cfg.TPEEDailyVelocityCap == 0 {
		cfg.TPEEDailyVelocityCap = 30
	}

	if cfg.PlatformFeeBps == 0 {
		cfg.PlatformFeeBps = 1000 // 10%
	}

	if cfg.LockTTLSeconds == 0 {
		cfg.LockTTLSeconds = 30
	}

	if cfg.ReaperStuckAfterSeconds == 0 {
		cfg.ReaperStuckAfterSeconds = 60
	}

	if cfg.KillSwitchRefreshIntervalSeconds == 0 {
		cfg.KillSwitchRefreshIntervalSeconds = 15
	}

	if cfg.RecoveryPollIntervalSeconds == 0 {
		cfg.RecoveryPollIntervalSeconds = 60
	}

	if cfg.DrainTimeoutSeconds == 0 {
		cfg.DrainTimeoutSeconds = 30
	}

	return cfg, nil
}
