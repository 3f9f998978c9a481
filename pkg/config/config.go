package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the service reads.
	EnvPrefix = "TRACKWISE"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "TRACKWISE_APP_ENV"
	EnvDBDSN  = "TRACKWISE_DB_DSN"
	EnvDBHost = "TRACKWISE_DB_HOST"
	EnvDBUser = "TRACKWISE_DB_USER"
	EnvDBName = "TRACKWISE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Credits      CreditsConfig
	Cron         CronConfig
	Outbox       OutboxConfig
	PubSub       PubSubConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRACKWISE_APP_ENV" required:"true"`
	Port         string `envconfig:"TRACKWISE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TRACKWISE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRACKWISE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"TRACKWISE_DB_DSN"`
	Driver string `envconfig:"TRACKWISE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TRACKWISE_DB_HOST"`
	LegacyPort     int    `envconfig:"TRACKWISE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TRACKWISE_DB_USER"`
	LegacyPassword string `envconfig:"TRACKWISE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TRACKWISE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TRACKWISE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRACKWISE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRACKWISE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRACKWISE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRACKWISE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRACKWISE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TRACKWISE_REDIS_ADDR"`
	Password     string        `envconfig:"TRACKWISE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRACKWISE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRACKWISE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRACKWISE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRACKWISE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRACKWISE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRACKWISE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TRACKWISE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TRACKWISE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TRACKWISE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey            string `envconfig:"TRACKWISE_STRIPE_API_KEY"`
	Secret            string `envconfig:"TRACKWISE_STRIPE_SECRET"`
	Env               string `envconfig:"TRACKWISE_STRIPE_ENV" default:"test"`
	CheckoutSuccess   string `envconfig:"TRACKWISE_STRIPE_CHECKOUT_SUCCESS_URL"`
	CheckoutCancel    string `envconfig:"TRACKWISE_STRIPE_CHECKOUT_CANCEL_URL"`
	SetupReturn       string `envconfig:"TRACKWISE_STRIPE_SETUP_RETURN_URL"`
	PaymentMethodType string `envconfig:"TRACKWISE_STRIPE_PAYMENT_METHOD_TYPE" default:"card"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CreditsConfig struct {
	Currency              string        `envconfig:"TRACKWISE_CREDITS_CURRENCY" default:"usd"`
	PurchaseExpiry        time.Duration `envconfig:"TRACKWISE_CREDITS_PURCHASE_EXPIRY" default:"8760h"`
	AutoRechargeExpiry    time.Duration `envconfig:"TRACKWISE_CREDITS_AUTO_RECHARGE_EXPIRY" default:"4380h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"TRACKWISE_CREDITS_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	AutoRechargeLockTTL   time.Duration `envconfig:"TRACKWISE_CREDITS_AUTO_RECHARGE_LOCK_TTL" default:"2m"`
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"TRACKWISE_CRON_INTERVAL" default:"1h"`
	LockTTL     time.Duration `envconfig:"TRACKWISE_CRON_LOCK_TTL" default:"65m"`
	SweepLimit  int           `envconfig:"TRACKWISE_CRON_SWEEP_LIMIT" default:"500"`
	MetricsPort string        `envconfig:"TRACKWISE_CRON_METRICS_PORT" default:"9103"`
}

type OutboxConfig struct {
	PollInterval time.Duration `envconfig:"TRACKWISE_OUTBOX_POLL_INTERVAL" default:"5s"`
	BatchSize    int           `envconfig:"TRACKWISE_OUTBOX_BATCH_SIZE" default:"100"`
	MaxAttempts  int           `envconfig:"TRACKWISE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type PubSubConfig struct {
	ProjectID       string `envconfig:"TRACKWISE_PUBSUB_PROJECT_ID"`
	BillingTopic    string `envconfig:"TRACKWISE_PUBSUB_BILLING_TOPIC" default:"billing-alerts"`
	CredentialsJSON string `envconfig:"TRACKWISE_PUBSUB_CREDENTIALS_JSON"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TRACKWISE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
