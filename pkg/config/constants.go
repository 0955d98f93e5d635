package config

// EnvPrefix is empty because every field carries its fully qualified
// PACKFINDERZ_* name in the envconfig tag.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	PayoutModeSandbox = "sandbox"
	PayoutModeLive    = "live"
)

const (
	EnvAppEnv   = "PACKFINDERZ_APP_ENV"
	EnvPort     = "PACKFINDERZ_APP_PORT"
	EnvLogLevel = "PACKFINDERZ_LOG_LEVEL"

	EnvDBDSN    = "PACKFINDERZ_DB_DSN"
	EnvDBDriver = "PACKFINDERZ_DB_DRIVER"
	EnvDBHost   = "PACKFINDERZ_DB_HOST"
	EnvDBUser   = "PACKFINDERZ_DB_USER"
	EnvDBName   = "PACKFINDERZ_DB_NAME"

	EnvRedisURL = "PACKFINDERZ_REDIS_URL"

	EnvJWTSecret = "PACKFINDERZ_JWT_SECRET"
	EnvJWTIssuer = "PACKFINDERZ_JWT_ISSUER"

	EnvGCPProjectID = "PACKFINDERZ_GCP_PROJECT_ID"

	EnvPubSubOrdersSub   = "PACKFINDERZ_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvPubSubDomainTopic = "PACKFINDERZ_PUBSUB_DOMAIN_TOPIC"

	EnvLedgerFeeBps     = "PACKFINDERZ_LEDGER_PLATFORM_FEE_BPS"
	EnvLedgerHoldPeriod = "PACKFINDERZ_LEDGER_HOLD_PERIOD"

	EnvPayoutsMode       = "PACKFINDERZ_PAYOUTS_MODE"
	EnvPayoutsCurrencies = "PACKFINDERZ_PAYOUTS_CURRENCIES"
	EnvPayoutsMinCents   = "PACKFINDERZ_PAYOUTS_MIN_CENTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
