package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"far-warehousing"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"8080"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"900"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Auth Enabled - when true, /processDirectories requires an OIDC bearer token
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`

	// Object storage backend (gcs or local)
	StorageBackend string `env:"STORAGE_BACKEND" env-default:"gcs"`
	// Bucket holding the uploaded files
	GCSBucketName string `env:"GCS_BUCKET_NAME" env-default:""`
	// Root directory for the local backend
	LocalStorageDir string `env:"LOCAL_STORAGE_DIR" env-default:"./data"`

	// Zoho Inventory API base URL
	ZohoAPIURL string `env:"ZOHO_API_URL" env-default:"https://www.zohoapis.com/inventory/v1"`
	// Zoho organization
	ZohoOrganizationID string `env:"ZOHO_ORGANIZATION_ID" env-default:""`
	// Zoho accounts server for token refresh
	ZohoAccountsURL string `env:"ZOHO_ACCOUNTS_URL" env-default:"https://accounts.zoho.com"`
	ZohoClientID     string `env:"ZOHO_CLIENT_ID" env-default:""`
	ZohoClientSecret string `env:"ZOHO_CLIENT_SECRET" env-default:""`
	ZohoRefreshToken string `env:"ZOHO_REFRESH_TOKEN" env-default:""`
	// Fixed access token, used instead of the refresh flow when set
	ZohoAccessToken string `env:"ZOHO_ACCESS_TOKEN" env-default:""`
	// Timeout for every Zoho call
	ZohoHTTPTimeout time.Duration `env:"ZOHO_HTTP_TIMEOUT" env-default:"30s"`
	// Page size for list calls
	ZohoPerPage int `env:"ZOHO_PER_PAGE" env-default:"200"`
	// Pause between pages of list calls
	ZohoPageDelay time.Duration `env:"ZOHO_PAGE_DELAY" env-default:"0s"`
	// Shared request window across instances (requires Redis)
	ZohoRateLimitRequests int           `env:"ZOHO_RATE_LIMIT_REQUESTS" env-default:"90"`
	ZohoRateLimitWindow   time.Duration `env:"ZOHO_RATE_LIMIT_WINDOW" env-default:"1m"`
	ZohoRateLimitMaxWait  time.Duration `env:"ZOHO_RATE_LIMIT_MAX_WAIT" env-default:"2m"`

	// Upsert profiles per record kind
	ItemConcurrency          int           `env:"ITEM_CONCURRENCY" env-default:"5"`
	ItemDelay                time.Duration `env:"ITEM_DELAY" env-default:"5s"`
	PurchaseOrderConcurrency int           `env:"PURCHASE_ORDER_CONCURRENCY" env-default:"5"`
	PurchaseOrderDelay       time.Duration `env:"PURCHASE_ORDER_DELAY" env-default:"5s"`
	CustomerConcurrency      int           `env:"CUSTOMER_CONCURRENCY" env-default:"5"`
	CustomerDelay            time.Duration `env:"CUSTOMER_DELAY" env-default:"2s"`
	SalesOrderConcurrency    int           `env:"SALES_ORDER_CONCURRENCY" env-default:"1"`
	SalesOrderDelay          time.Duration `env:"SALES_ORDER_DELAY" env-default:"5s"`

	// Warehouse name every row is standardized to (empty disables)
	DefaultWarehouseName string `env:"DEFAULT_WAREHOUSE_NAME" env-default:""`
	// YAML file with extra header aliases
	HeaderAliasesFile string `env:"HEADER_ALIASES_FILE" env-default:""`
	// Maximum duration of one run
	RunTimeout time.Duration `env:"RUN_TIMEOUT" env-default:"30m"`
	// Report creates instead of sending them, and leave files in place
	DryRun bool `env:"DRY_RUN" env-default:"false"`

	// Redis enables the token cache, shared rate limit and run lock
	RedisEnabled bool `env:"REDIS_ENABLED" env-default:"false"`
	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Prefix for every key
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" env-default:"far:"`
	// Run lock TTL
	RunLockTTL time.Duration `env:"RUN_LOCK_TTL" env-default:"30m"`

	// Kafka outcome events
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for run and file events
	KafkaTopic string `env:"KAFKA_TOPIC" env-default:"far.sync.events"`

	// Email notifications
	SMTPEnabled  bool   `env:"SMTP_ENABLED" env-default:"false"`
	SMTPHost     string `env:"SMTP_HOST" env-default:"smtp.gmail.com"`
	SMTPPort     int    `env:"SMTP_PORT" env-default:"587"`
	SMTPUsername string `env:"SMTP_USERNAME" env-default:""`
	SMTPPassword string `env:"SMTP_PASSWORD" env-default:""`
	SMTPFrom     string `env:"SMTP_FROM" env-default:"FAR Warehousing <noreply@example.com>"`

	// Upper bound on one email send, dial included
	SMTPTimeout time.Duration `env:"SMTP_TIMEOUT" env-default:"30s"`
	// Recipients (comma-separated)
	NotifyRecipients string `env:"NOTIFY_RECIPIENTS" env-default:""`
	NotifySubject    string `env:"NOTIFY_SUBJECT" env-default:"Order Processing Logs"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case "gcs":
		if c.GCSBucketName == "" {
			return fmt.Errorf("GCS_BUCKET_NAME is required for the gcs storage backend")
		}
	case "local":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.ZohoOrganizationID == "" {
		return fmt.Errorf("ZOHO_ORGANIZATION_ID is required")
	}
	if c.ZohoAccessToken == "" && c.ZohoRefreshToken == "" {
		return fmt.Errorf("either ZOHO_ACCESS_TOKEN or ZOHO_REFRESH_TOKEN is required")
	}
	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return fmt.Errorf("AUTH_ISSUER_URL and AUTH_CLIENT_ID are required when AUTH_ENABLED is set")
	}
	return nil
}

// RedisAddr returns host:port.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Bucket names the store in logs and error entries.
func (c Config) Bucket() string {
	if c.StorageBackend == "local" {
		return c.LocalStorageDir
	}
	return c.GCSBucketName
}
