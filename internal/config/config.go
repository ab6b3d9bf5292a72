package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RedirectModePage     = "page"
	RedirectModeRedirect = "redirect"
)

type Config struct {
	Environment string
	Version     string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Gateway       GatewayConfig
	Echo          EchoConfig
	Billing       BillingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	RequireHTTPS bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AllowedOrigins feeds the CORS handler.
	AllowedOrigins []string
	// Per-IP limits on the caller-facing endpoints, requests per minute.
	InitRequestsPerMinute   int
	VerifyRequestsPerMinute int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	// TLS material, only read outside development.
	CAPath   string
	CertPath string
	KeyPath  string
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	BillingTopic string
	GroupID      string
}

type ClickhouseConfig struct {
	URL           string
	Username      string
	Password      string
	Database      string
	CAFile        string
	BatchSize     int
	FlushInterval time.Duration
}

type ElasticsearchConfig struct {
	URL           string
	Username      string
	Password      string
	SecurityIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	Pepper             string
	PepperRotationDays int
}

type BucketingConfig struct {
	TransactionBuckets int
	EventBuckets       int
}

// GatewayConfig describes the outbound messaging gateway (EchoB).
type GatewayConfig struct {
	APIURL     string
	APIKey     string
	Session    string
	Timeout    time.Duration
	RatePerSec float64
	RateBurst  int
}

// EchoConfig holds the verification protocol settings.
type EchoConfig struct {
	HostURL            string
	LinkDomains        []string
	BotPhoneNumber     string
	AndroidPackageName string
	URLScheme          string
	RedirectMode       string

	SessionTTL   time.Duration
	OTPTTL       time.Duration
	ShortLinkTTL time.Duration
	LockTTL      time.Duration
	TypingDelay  time.Duration

	WebhookRateLimit  int
	WebhookRatePeriod time.Duration
	InitRateLimit     int
	InitRatePeriod    time.Duration

	TemplateLanguage string
	DefaultTemplate  string
	BillingCost      float64

	// EnableSimulation mounts the simulate route. The webhook accepts the
	// simulation payload shape regardless, but only from phone-number senders.
	EnableSimulation bool
}

type BillingConfig struct {
	Workers   int
	QueueSize int
}

// LoadConfig reads the process environment (and .env when present) into a Config.
func LoadConfig() *Config {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")
	production := env == "production"

	return &Config{
		Environment: env,
		Version:     getEnv("VERSION", "5.0.0"),
		Server: ServerConfig{
			Host:                    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                    getEnvInt("SERVER_PORT", 8000),
			TLSPort:                 getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:               getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:                getEnvBool("SERVER_AUTOCERT", false),
			RequireHTTPS:            getEnvBool("SERVER_REQUIRE_HTTPS", false),
			Domain:                  getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:                getEnv("SERVER_CERT_FILE", ""),
			KeyFile:                 getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:             getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:                   getEnv("SERVER_AUTOCERT_EMAIL", ""),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:             getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins:          getEnvList("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),
			InitRequestsPerMinute:   getEnvInt("INIT_REQUESTS_PER_MINUTE", 30),
			VerifyRequestsPerMinute: getEnvInt("VERIFY_REQUESTS_PER_MINUTE", 60),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", defaultLogFormat(production)),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "echoid"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			CAPath:   getEnv("SCYLLA_CA_PATH", "/app/certs/ca.pem"),
			CertPath: getEnv("SCYLLA_CERT_PATH", "/app/certs/client.pem"),
			KeyPath:  getEnv("SCYLLA_KEY_PATH", "/app/certs/client.key"),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvBool("KAFKA_ENABLED", false),
			Brokers:      getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			BillingTopic: getEnv("KAFKA_BILLING_TOPIC", "echoid.billing"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "echoid-billing"),
		},
		Clickhouse: ClickhouseConfig{
			URL:           getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username:      getEnv("CLICKHOUSE_USERNAME", "default"),
			Password:      getEnv("CLICKHOUSE_PASSWORD", ""),
			Database:      getEnv("CLICKHOUSE_DATABASE", "echoid"),
			CAFile:        getEnv("CLICKHOUSE_CA_FILE", ""),
			BatchSize:     getEnvInt("CLICKHOUSE_BATCH_SIZE", 500),
			FlushInterval: getEnvDuration("CLICKHOUSE_FLUSH_INTERVAL", 5*time.Second),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:           getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:      getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:      getEnv("ELASTICSEARCH_PASSWORD", ""),
			SecurityIndex: getEnv("ELASTICSEARCH_SECURITY_INDEX", "echoid-security-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "us-east-1"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_KB", 19*1024),
			Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 2),
			Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 1),
			Pepper:             getEnv("OTP_PEPPER", ""),
			PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 30),
		},
		Bucketing: BucketingConfig{
			TransactionBuckets: getEnvInt("TRANSACTION_BUCKETS", 16),
			EventBuckets:       getEnvInt("EVENT_BUCKETS", 64),
		},
		Gateway: GatewayConfig{
			APIURL:     strings.TrimRight(getEnv("ECHOB_API_URL", ""), "/"),
			APIKey:     getEnv("ECHOB_API_KEY", ""),
			Session:    getEnv("ECHOB_SESSION", "default"),
			Timeout:    getEnvDuration("ECHOB_TIMEOUT", 10*time.Second),
			RatePerSec: getEnvFloat("ECHOB_RATE_PER_SEC", 20),
			RateBurst:  getEnvInt("ECHOB_RATE_BURST", 5),
		},
		Echo: EchoConfig{
			HostURL:            strings.TrimRight(getEnv("HOST_URL", "http://localhost:8000"), "/"),
			LinkDomains:        getEnvList("LINK_DOMAINS", nil),
			BotPhoneNumber:     getEnv("BOT_PHONE_NUMBER", ""),
			AndroidPackageName: getEnv("ANDROID_PACKAGE_NAME", ""),
			URLScheme:          getEnv("URL_SCHEME", "echoid"),
			RedirectMode:       getEnv("REDIRECT_MODE", RedirectModePage),
			SessionTTL:         getEnvDuration("SESSION_TTL", 600*time.Second),
			OTPTTL:             getEnvDuration("OTP_TTL", 300*time.Second),
			ShortLinkTTL:       getEnvDuration("SHORT_LINK_TTL", 300*time.Second),
			LockTTL:            getEnvDuration("LOCK_TTL", time.Hour),
			TypingDelay:        getEnvDuration("TYPING_DELAY", 2500*time.Millisecond),
			WebhookRateLimit:   getEnvInt("WEBHOOK_RATE_LIMIT", 10),
			WebhookRatePeriod:  getEnvDuration("WEBHOOK_RATE_PERIOD", time.Minute),
			InitRateLimit:      getEnvInt("INIT_RATE_LIMIT", 5),
			InitRatePeriod:     getEnvDuration("INIT_RATE_PERIOD", time.Minute),
			TemplateLanguage:   getEnv("TEMPLATE_LANGUAGE", "es_mx"),
			DefaultTemplate:    getEnv("DEFAULT_TEMPLATE", "Tu código {app_name} es {otp}. {link}"),
			BillingCost:        getEnvFloat("BILLING_COST", 0.05),
			EnableSimulation:   getEnvBool("ENABLE_SIMULATION", !production),
		},
		Billing: BillingConfig{
			Workers:   getEnvInt("BILLING_WORKERS", 4),
			QueueSize: getEnvInt("BILLING_QUEUE_SIZE", 1024),
		},
	}
}

// Validate reports configuration that would make the service misbehave at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Echo.HostURL == "" {
		errs = append(errs, errors.New("HOST_URL is required"))
	}
	if c.IsProduction() {
		if c.Gateway.APIURL == "" {
			errs = append(errs, errors.New("ECHOB_API_URL is required in production"))
		}
		if c.Gateway.APIKey == "" {
			errs = append(errs, errors.New("ECHOB_API_KEY is required in production"))
		}
		if c.Echo.BotPhoneNumber == "" {
			errs = append(errs, errors.New("BOT_PHONE_NUMBER is required in production"))
		}
	}
	if c.Echo.RedirectMode != RedirectModePage && c.Echo.RedirectMode != RedirectModeRedirect {
		errs = append(errs, fmt.Errorf("REDIRECT_MODE must be %q or %q, got %q",
			RedirectModePage, RedirectModeRedirect, c.Echo.RedirectMode))
	}
	for name, ttl := range map[string]time.Duration{
		"SESSION_TTL":    c.Echo.SessionTTL,
		"OTP_TTL":        c.Echo.OTPTTL,
		"SHORT_LINK_TTL": c.Echo.ShortLinkTTL,
		"LOCK_TTL":       c.Echo.LockTTL,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Echo.OTPTTL > c.Echo.SessionTTL {
		errs = append(errs, fmt.Errorf("OTP_TTL (%s) must not exceed SESSION_TTL (%s)", c.Echo.OTPTTL, c.Echo.SessionTTL))
	}
	if c.Echo.WebhookRateLimit <= 0 || c.Echo.WebhookRatePeriod <= 0 {
		errs = append(errs, errors.New("webhook rate limit and period must be positive"))
	}
	if c.Echo.InitRateLimit <= 0 || c.Echo.InitRatePeriod <= 0 {
		errs = append(errs, errors.New("INIT_RATE_LIMIT and INIT_RATE_PERIOD must be positive"))
	}
	if c.Bucketing.TransactionBuckets <= 0 {
		errs = append(errs, errors.New("TRANSACTION_BUCKETS must be positive"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// TemplateSetKey is the Redis set holding reply templates for the configured language.
func (c *Config) TemplateSetKey() string {
	return "templates:" + c.Echo.TemplateLanguage
}

func defaultLogFormat(production bool) string {
	if production {
		return "json"
	}
	return "console"
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("2.5s") or a bare number of seconds ("600").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
