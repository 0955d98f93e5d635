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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Ledger       LedgerConfig
	Payouts      PayoutsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payouts.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PACKFINDERZ_APP_ENV" required:"true"`
	Port         string `envconfig:"PACKFINDERZ_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PACKFINDERZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PACKFINDERZ_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"PACKFINDERZ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PACKFINDERZ_DB_DSN"`
	Driver string `envconfig:"PACKFINDERZ_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PACKFINDERZ_DB_HOST"`
	LegacyPort     int    `envconfig:"PACKFINDERZ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PACKFINDERZ_DB_USER"`
	LegacyPassword string `envconfig:"PACKFINDERZ_DB_PASSWORD"`
	LegacyName     string `envconfig:"PACKFINDERZ_DB_NAME"`
	LegacySSLMode  string `envconfig:"PACKFINDERZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PACKFINDERZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PACKFINDERZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PACKFINDERZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"PACKFINDERZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PACKFINDERZ_REDIS_ADDR"`
	Password     string        `envconfig:"PACKFINDERZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"PACKFINDERZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PACKFINDERZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PACKFINDERZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PACKFINDERZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PACKFINDERZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for admin bearer tokens. Tokens
// are minted by the marketplace auth service.
type JWTConfig struct {
	Secret string `envconfig:"PACKFINDERZ_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PACKFINDERZ_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PACKFINDERZ_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"PACKFINDERZ_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"PACKFINDERZ_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PACKFINDERZ_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PACKFINDERZ_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PACKFINDERZ_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersSubscription string `envconfig:"PACKFINDERZ_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	DomainTopic        string `envconfig:"PACKFINDERZ_PUBSUB_DOMAIN_TOPIC" default:"pf-payout-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"PACKFINDERZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"PACKFINDERZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"PACKFINDERZ_OUTBOX_RETENTION" default:"720h"`
}

// LedgerConfig controls how order captures become seller earnings.
type LedgerConfig struct {
	PlatformFeeBps int           `envconfig:"PACKFINDERZ_LEDGER_PLATFORM_FEE_BPS" default:"1000"`
	HoldPeriod     time.Duration `envconfig:"PACKFINDERZ_LEDGER_HOLD_PERIOD" default:"168h"`
}

type PayoutsConfig struct {
	Mode           string        `envconfig:"PACKFINDERZ_PAYOUTS_MODE" default:"sandbox"`
	SandboxBaseURL string        `envconfig:"PACKFINDERZ_PAYOUTS_SANDBOX_BASE_URL" default:"https://api.sandbox.payouts.example.com"`
	LiveBaseURL    string        `envconfig:"PACKFINDERZ_PAYOUTS_LIVE_BASE_URL" default:"https://api.payouts.example.com"`
	ClientID       string        `envconfig:"PACKFINDERZ_PAYOUTS_CLIENT_ID"`
	ClientSecret   string        `envconfig:"PACKFINDERZ_PAYOUTS_CLIENT_SECRET"`
	WebhookSecret  string        `envconfig:"PACKFINDERZ_PAYOUTS_WEBHOOK_SECRET"`
	RequestTimeout time.Duration `envconfig:"PACKFINDERZ_PAYOUTS_REQUEST_TIMEOUT" default:"15s"`
	MaxRetries     int           `envconfig:"PACKFINDERZ_PAYOUTS_MAX_RETRIES" default:"3"`
	Currencies     []string      `envconfig:"PACKFINDERZ_PAYOUTS_CURRENCIES" default:"USD"`
	MinPayoutCents int64         `envconfig:"PACKFINDERZ_PAYOUTS_MIN_CENTS" default:"100"`
	CronInterval   time.Duration `envconfig:"PACKFINDERZ_PAYOUTS_CRON_INTERVAL" default:"24h"`
	SyncInterval   time.Duration `envconfig:"PACKFINDERZ_PAYOUTS_SYNC_INTERVAL" default:"15m"`
	BatchNote      string        `envconfig:"PACKFINDERZ_PAYOUTS_BATCH_NOTE" default:"PackFinderz seller payout"`
}

// IsLive reports whether payouts move real money.
func (p PayoutsConfig) IsLive() bool {
	return strings.EqualFold(strings.TrimSpace(p.Mode), PayoutModeLive)
}

// BaseURL returns the provider endpoint for the configured mode.
func (p PayoutsConfig) BaseURL() string {
	if p.IsLive() {
		return p.LiveBaseURL
	}
	return p.SandboxBaseURL
}

func (p PayoutsConfig) validate() error {
	mode := strings.ToLower(strings.TrimSpace(p.Mode))
	if mode != PayoutModeSandbox && mode != PayoutModeLive {
		return fmt.Errorf("%s must be %q or %q", EnvPayoutsMode, PayoutModeSandbox, PayoutModeLive)
	}
	if p.MinPayoutCents < 0 {
		return fmt.Errorf("%s must not be negative", EnvPayoutsMinCents)
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
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
