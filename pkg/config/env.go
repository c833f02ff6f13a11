package config

const EnvPrefix = "CITYPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CITYPAY_APP_ENV"
	EnvPort     = "CITYPAY_APP_PORT"
	EnvLogLevel = "CITYPAY_LOG_LEVEL"

	EnvDBDSN  = "CITYPAY_DB_DSN"
	EnvDBHost = "CITYPAY_DB_HOST"
	EnvDBUser = "CITYPAY_DB_USER"
	EnvDBName = "CITYPAY_DB_NAME"

	EnvRedisURL = "CITYPAY_REDIS_URL"

	EnvJWTSecret = "CITYPAY_JWT_SECRET"
	EnvJWTIssuer = "CITYPAY_JWT_ISSUER"

	EnvSquareEnv         = "CITYPAY_SQUARE_ENV"
	EnvSquareAccessToken = "CITYPAY_SQUARE_ACCESS_TOKEN"

	EnvPaymentsInFlightWait = "CITYPAY_PAYMENTS_INFLIGHT_WAIT"

	EnvGCPProjectID        = "CITYPAY_GCP_PROJECT_ID"
	EnvPubSubPaymentsTopic = "CITYPAY_PUBSUB_PAYMENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
