package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	RateLimit     RateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Stripe        StripeConfig
	Checkout      CheckoutConfig
	Stock         StockConfig
	Webhooks      WebhookConfig
	Notifications NotificationsConfig
	Kafka         KafkaConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Tracing       TracingConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Notifications.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string        `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port           string        `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	PublicURL      string        `envconfig:"STOREFRONT_PUBLIC_URL" default:"http://localhost:3000"`
	AllowedOrigins []string      `envconfig:"STOREFRONT_ALLOWED_ORIGINS"`
	LogLevel       string        `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack   bool          `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	ShutdownGrace  time.Duration `envconfig:"STOREFRONT_SHUTDOWN_GRACE" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN        string `envconfig:"STOREFRONT_DB_DSN"`
	SQLitePath string `envconfig:"STOREFRONT_SQLITE_PATH" default:"storefront.db"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery is the threshold above which statements are logged as warnings.
	SlowQuery time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RateLimitConfig holds the named limiter windows. Auth is the strictest and
// admin the most permissive.
type RateLimitConfig struct {
	Store string `envconfig:"STOREFRONT_RATE_LIMIT_STORE" default:"memory"`

	CheckoutWindow time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutMax    int           `envconfig:"STOREFRONT_RATE_LIMIT_CHECKOUT_MAX" default:"10"`
	AuthWindow     time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_AUTH_WINDOW" default:"15m"`
	AuthMax        int           `envconfig:"STOREFRONT_RATE_LIMIT_AUTH_MAX" default:"5"`
	SearchWindow   time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_SEARCH_WINDOW" default:"1m"`
	SearchMax      int           `envconfig:"STOREFRONT_RATE_LIMIT_SEARCH_MAX" default:"30"`
	AdminWindow    time.Duration `envconfig:"STOREFRONT_RATE_LIMIT_ADMIN_WINDOW" default:"1m"`
	AdminMax       int           `envconfig:"STOREFRONT_RATE_LIMIT_ADMIN_MAX" default:"100"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	Secret string `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	Currency    string `envconfig:"STOREFRONT_CHECKOUT_CURRENCY" default:"usd"`
	SuccessPath string `envconfig:"STOREFRONT_CHECKOUT_SUCCESS_PATH" default:"/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelPath  string `envconfig:"STOREFRONT_CHECKOUT_CANCEL_PATH" default:"/cart"`
	MaxLines    int    `envconfig:"STOREFRONT_CHECKOUT_MAX_LINES" default:"50"`

	IdempotencyTTL time.Duration `envconfig:"STOREFRONT_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
}

// SuccessURL joins the public storefront URL with the configured success path.
func (c CheckoutConfig) SuccessURL(publicURL string) string {
	return joinURL(publicURL, c.SuccessPath)
}

// CancelURL joins the public storefront URL with the configured cancel path.
func (c CheckoutConfig) CancelURL(publicURL string) string {
	return joinURL(publicURL, c.CancelPath)
}

type StockConfig struct {
	CriticalThreshold int `envconfig:"STOREFRONT_STOCK_CRITICAL_THRESHOLD" default:"3"`
	LowThreshold      int `envconfig:"STOREFRONT_STOCK_LOW_THRESHOLD" default:"10"`
	HistoryPageSize   int `envconfig:"STOREFRONT_STOCK_HISTORY_PAGE_SIZE" default:"100"`
}

type WebhookConfig struct {
	EventTTL time.Duration `envconfig:"STOREFRONT_WEBHOOK_EVENT_TTL" default:"72h"`
}

type NotificationsConfig struct {
	Transport string `envconfig:"STOREFRONT_NOTIFY_TRANSPORT" default:"log"`
}

func (n NotificationsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(n.Transport)) {
	case NotifyTransportLog, NotifyTransportKafka, NotifyTransportPubSub:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvNotifyTransport, NotifyTransportLog, NotifyTransportKafka, NotifyTransportPubSub)
	}
}

type KafkaConfig struct {
	Brokers            []string `envconfig:"STOREFRONT_KAFKA_BROKERS"`
	NotificationsTopic string   `envconfig:"STOREFRONT_KAFKA_NOTIFICATIONS_TOPIC" default:"storefront.notifications"`
	BufferSize         int      `envconfig:"STOREFRONT_KAFKA_BUFFER" default:"256"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"STOREFRONT_PUBSUB_NOTIFICATION_TOPIC" default:"storefront-notifications"`

	// Ordering keys messages by order id so one order's events arrive in sequence.
	Ordering bool `envconfig:"STOREFRONT_PUBSUB_ORDERING" default:"false"`
}

type TracingConfig struct {
	Endpoint    string  `envconfig:"STOREFRONT_OTEL_ENDPOINT"`
	Insecure    bool    `envconfig:"STOREFRONT_OTEL_INSECURE" default:"true"`
	SampleRatio float64 `envconfig:"STOREFRONT_OTEL_SAMPLE_RATIO" default:"1"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"15m"`
	OrderExpiryEnabled bool          `envconfig:"STOREFRONT_CRON_ORDER_EXPIRY_ENABLED" default:"false"`
	PendingOrderTTL    time.Duration `envconfig:"STOREFRONT_CRON_PENDING_ORDER_TTL" default:"24h"`
	OrderExpiryBatch   int           `envconfig:"STOREFRONT_CRON_ORDER_EXPIRY_BATCH" default:"200"`

	// MetricsAddr serves /metrics from the worker. Empty disables it.
	MetricsAddr string `envconfig:"STOREFRONT_CRON_METRICS_ADDR" default:":9091"`
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

func joinURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
