package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Square       SquareConfig
	Payments     PaymentsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Jobs         JobsConfig
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
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CITYPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"CITYPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CITYPAY_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CITYPAY_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"CITYPAY_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"CITYPAY_CORS_ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"CITYPAY_SHUTDOWN_TIMEOUT" default:"30s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CITYPAY_DB_DSN"`
	Driver string `envconfig:"CITYPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CITYPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"CITYPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CITYPAY_DB_USER"`
	LegacyPassword string `envconfig:"CITYPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"CITYPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"CITYPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CITYPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CITYPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CITYPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CITYPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CITYPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CITYPAY_REDIS_ADDR"`
	Password     string        `envconfig:"CITYPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"CITYPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CITYPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CITYPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CITYPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CITYPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CITYPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the portal's identity service.
type JWTConfig struct {
	Secret string `envconfig:"CITYPAY_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"CITYPAY_JWT_ISSUER" required:"true"`
}

type SquareConfig struct {
	Env         string        `envconfig:"CITYPAY_SQUARE_ENV" default:"sandbox"`
	AccessToken string        `envconfig:"CITYPAY_SQUARE_ACCESS_TOKEN" required:"true"`
	Currency    string        `envconfig:"CITYPAY_SQUARE_CURRENCY" default:"USD"`
	Timeout     time.Duration `envconfig:"CITYPAY_SQUARE_TIMEOUT" default:"20s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// PaymentsConfig tunes the orchestrator's duplicate handling and finalize guarantees.
type PaymentsConfig struct {
	InFlightWait         time.Duration `envconfig:"CITYPAY_PAYMENTS_INFLIGHT_WAIT" default:"5s"`
	InFlightPollInterval time.Duration `envconfig:"CITYPAY_PAYMENTS_INFLIGHT_POLL" default:"200ms"`
	CompletionTimeout    time.Duration `envconfig:"CITYPAY_PAYMENTS_COMPLETION_TIMEOUT" default:"45s"`
	FinalizeAttempts     int           `envconfig:"CITYPAY_PAYMENTS_FINALIZE_ATTEMPTS" default:"3"`
	AmountToleranceCents int64         `envconfig:"CITYPAY_PAYMENTS_AMOUNT_TOLERANCE_CENTS" default:"2"`
	ReplayCacheTTL       time.Duration `envconfig:"CITYPAY_PAYMENTS_REPLAY_TTL" default:"168h"`
}

func (p PaymentsConfig) validate() error {
	if p.InFlightWait < 0 {
		return fmt.Errorf("%s must not be negative", EnvPaymentsInFlightWait)
	}
	if p.AmountToleranceCents < 0 || p.AmountToleranceCents > 2 {
		return fmt.Errorf("amount tolerance must be between 0 and 2 cents, got %d", p.AmountToleranceCents)
	}
	if p.FinalizeAttempts <= 0 {
		return fmt.Errorf("finalize attempts must be positive, got %d", p.FinalizeAttempts)
	}
	return nil
}

// GCPConfig is only consumed by the outbox publisher; the API never dials Google.
type GCPConfig struct {
	ProjectID              string `envconfig:"CITYPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CITYPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CITYPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

// ValidatePublisher checks the settings the outbox publisher needs on top of Load.
func (c *Config) ValidatePublisher() error {
	if strings.TrimSpace(c.GCP.ProjectID) == "" {
		return fmt.Errorf("%s is required for the outbox publisher", EnvGCPProjectID)
	}
	if strings.TrimSpace(c.PubSub.PaymentsTopic) == "" {
		return fmt.Errorf("%s is required for the outbox publisher", EnvPubSubPaymentsTopic)
	}
	return nil
}

type PubSubConfig struct {
	PaymentsTopic string `envconfig:"CITYPAY_PUBSUB_PAYMENTS_TOPIC" default:"citypay-payment-events"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"CITYPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"CITYPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"CITYPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MetricsAddr    string `envconfig:"CITYPAY_OUTBOX_METRICS_ADDR" default:":9103"`
}

// JobsConfig drives the maintenance worker.
type JobsConfig struct {
	Interval                time.Duration `envconfig:"CITYPAY_JOBS_INTERVAL" default:"1h"`
	OutboxRetention         time.Duration `envconfig:"CITYPAY_JOBS_OUTBOX_RETENTION" default:"720h"`
	ReconciliationScanLimit int           `envconfig:"CITYPAY_JOBS_RECONCILIATION_SCAN_LIMIT" default:"500"`
	MetricsAddr             string        `envconfig:"CITYPAY_JOBS_METRICS_ADDR" default:":9102"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CITYPAY_AUTO_MIGRATE" default:"false"`
	AllowACH    bool `envconfig:"CITYPAY_FEATURE_ALLOW_ACH" default:"true"`
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
