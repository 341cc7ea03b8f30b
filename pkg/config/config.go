package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = "agrimandi"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "AGRIMANDI_DB_DSN"
	EnvDBHost = "AGRIMANDI_DB_HOST"
	EnvDBUser = "AGRIMANDI_DB_USER"
	EnvDBName = "AGRIMANDI_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Pricing      PricingConfig
	Wallet       WalletConfig
	Gateway      GatewayConfig
	Orders       OrdersConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	PubSub       PubSubConfig
	GCP          GCPConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"AGRIMANDI_APP_ENV" required:"true"`
	Port         string `envconfig:"AGRIMANDI_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"AGRIMANDI_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"AGRIMANDI_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"AGRIMANDI_DB_DSN"`
	Driver string `envconfig:"AGRIMANDI_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"AGRIMANDI_DB_HOST"`
	LegacyPort     int    `envconfig:"AGRIMANDI_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AGRIMANDI_DB_USER"`
	LegacyPassword string `envconfig:"AGRIMANDI_DB_PASSWORD"`
	LegacyName     string `envconfig:"AGRIMANDI_DB_NAME"`
	LegacySSLMode  string `envconfig:"AGRIMANDI_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AGRIMANDI_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"AGRIMANDI_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"AGRIMANDI_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AGRIMANDI_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"AGRIMANDI_REDIS_URL" required:"true"`
	Address      string        `envconfig:"AGRIMANDI_REDIS_ADDR"`
	Password     string        `envconfig:"AGRIMANDI_REDIS_PASSWORD"`
	DB           int           `envconfig:"AGRIMANDI_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AGRIMANDI_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AGRIMANDI_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AGRIMANDI_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AGRIMANDI_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AGRIMANDI_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"AGRIMANDI_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"AGRIMANDI_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"AGRIMANDI_JWT_EXPIRATION_MINUTES" default:"60"`
}

// PricingConfig carries the marketplace fee schedule. Percent values are
// decimal strings ("5", "1.5") so money math never touches binary floats.
type PricingConfig struct {
	GSTPercent          string `envconfig:"AGRIMANDI_PRICING_GST_PERCENT" default:"5"`
	PlatformFeePercent  string `envconfig:"AGRIMANDI_PRICING_PLATFORM_FEE_PERCENT" default:"1"`
	PlatformFeeMinPaise int64  `envconfig:"AGRIMANDI_PRICING_PLATFORM_FEE_MIN_PAISE" default:"1000"`
	ShippingFlatPaise   int64  `envconfig:"AGRIMANDI_PRICING_SHIPPING_FLAT_PAISE" default:"5000"`
	GatewayFeePercent   string `envconfig:"AGRIMANDI_PRICING_GATEWAY_FEE_PERCENT" default:"2"`
	TaxOnFeesPercent    string `envconfig:"AGRIMANDI_PRICING_TAX_ON_FEES_PERCENT" default:"18"`
}

func (p PricingConfig) validate() error {
	for name, value := range map[string]string{
		"gst percent":          p.GSTPercent,
		"platform fee percent": p.PlatformFeePercent,
		"gateway fee percent":  p.GatewayFeePercent,
		"tax on fees percent":  p.TaxOnFeesPercent,
	} {
		if _, err := decimal.NewFromString(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}
	return nil
}

// GSTRate returns the configured GST percentage as a decimal.
func (p PricingConfig) GSTRate() decimal.Decimal {
	return decimal.RequireFromString(p.GSTPercent)
}

// PlatformFeeRate returns the configured platform fee percentage as a decimal.
func (p PricingConfig) PlatformFeeRate() decimal.Decimal {
	return decimal.RequireFromString(p.PlatformFeePercent)
}

// GatewayFeeRate returns the gateway fee percentage as a decimal.
func (p PricingConfig) GatewayFeeRate() decimal.Decimal {
	return decimal.RequireFromString(p.GatewayFeePercent)
}

// TaxOnFeesRate returns the tax-on-fees percentage as a decimal.
func (p PricingConfig) TaxOnFeesRate() decimal.Decimal {
	return decimal.RequireFromString(p.TaxOnFeesPercent)
}

type WalletConfig struct {
	DailyDebitLimitPaise   int64 `envconfig:"AGRIMANDI_WALLET_DAILY_DEBIT_LIMIT_PAISE" default:"5000000"`
	MonthlyDebitLimitPaise int64 `envconfig:"AGRIMANDI_WALLET_MONTHLY_DEBIT_LIMIT_PAISE" default:"50000000"`
}

type GatewayConfig struct {
	BaseURL       string        `envconfig:"AGRIMANDI_GATEWAY_BASE_URL"`
	KeyID         string        `envconfig:"AGRIMANDI_GATEWAY_KEY_ID"`
	KeySecret     string        `envconfig:"AGRIMANDI_GATEWAY_KEY_SECRET"`
	WebhookSecret string        `envconfig:"AGRIMANDI_GATEWAY_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"AGRIMANDI_GATEWAY_TIMEOUT" default:"10s"`
}

type OrdersConfig struct {
	PendingTTL time.Duration `envconfig:"AGRIMANDI_ORDERS_PENDING_TTL" default:"48h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"AGRIMANDI_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"AGRIMANDI_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"AGRIMANDI_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"AGRIMANDI_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"AGRIMANDI_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"AGRIMANDI_PUBSUB_ORDERS_TOPIC" default:"agm-order-events"`
	OrdersSubscription string `envconfig:"AGRIMANDI_PUBSUB_ORDERS_SUBSCRIPTION" default:"agm-order-events-notifications"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"AGRIMANDI_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"AGRIMANDI_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"AGRIMANDI_GOOGLE_APPLICATION_CREDENTIALS"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"AGRIMANDI_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"AGRIMANDI_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"AGRIMANDI_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
