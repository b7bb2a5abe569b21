package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv          = "STOREFRONT_APP_ENV"
	EnvPort            = "STOREFRONT_APP_PORT"
	EnvDBDSN           = "STOREFRONT_DB_DSN"
	EnvDBHost          = "STOREFRONT_DB_HOST"
	EnvDBUser          = "STOREFRONT_DB_USER"
	EnvDBName          = "STOREFRONT_DB_NAME"
	EnvRedisURL        = "STOREFRONT_REDIS_URL"
	EnvJWTSecret       = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer       = "STOREFRONT_JWT_ISSUER"
	EnvStripeAPIKey    = "STOREFRONT_STRIPE_API_KEY"
	EnvStripeSecret    = "STOREFRONT_STRIPE_WEBHOOK_SECRET"
	EnvNotifyTransport = "STOREFRONT_NOTIFY_TRANSPORT"
	EnvUseSQLite       = "STOREFRONT_USE_SQLITE"

	NotifyTransportLog    = "log"
	NotifyTransportKafka  = "kafka"
	NotifyTransportPubSub = "pubsub"

	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
