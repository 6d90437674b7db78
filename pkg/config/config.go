package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Mpesa        MpesaConfig
	Shipping     ShippingConfig
	Payments     PaymentsConfig
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
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects combinations that must never reach a running service.
func (c *Config) validate() error {
	if c.App.IsProd() && c.Mpesa.TestMode {
		return fmt.Errorf("SAMANI_MPESA_TEST_MODE cannot be enabled when SAMANI_APP_ENV is %q", c.App.Env)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"SAMANI_APP_ENV" required:"true"`
	Port         string `envconfig:"SAMANI_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SAMANI_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SAMANI_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SAMANI_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SAMANI_DB_DSN"`
	Driver string `envconfig:"SAMANI_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SAMANI_DB_HOST"`
	LegacyPort     int    `envconfig:"SAMANI_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SAMANI_DB_USER"`
	LegacyPassword string `envconfig:"SAMANI_DB_PASSWORD"`
	LegacyName     string `envconfig:"SAMANI_DB_NAME"`
	LegacySSLMode  string `envconfig:"SAMANI_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SAMANI_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SAMANI_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SAMANI_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SAMANI_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SAMANI_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SAMANI_REDIS_ADDR"`
	Password     string        `envconfig:"SAMANI_REDIS_PASSWORD"`
	DB           int           `envconfig:"SAMANI_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SAMANI_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SAMANI_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SAMANI_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SAMANI_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SAMANI_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"SAMANI_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"SAMANI_JWT_ISSUER" required:"true"`
}

type MpesaConfig struct {
	ConsumerKey    string        `envconfig:"SAMANI_MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `envconfig:"SAMANI_MPESA_CONSUMER_SECRET"`
	ShortCode      string        `envconfig:"SAMANI_MPESA_SHORTCODE"`
	PassKey        string        `envconfig:"SAMANI_MPESA_PASSKEY"`
	BaseURL        string        `envconfig:"SAMANI_MPESA_BASE_URL" default:"https://sandbox.safaricom.co.ke"`
	CallbackURL    string        `envconfig:"SAMANI_MPESA_CALLBACK_URL"`
	HTTPTimeout    time.Duration `envconfig:"SAMANI_MPESA_HTTP_TIMEOUT" default:"30s"`
	TestMode       bool          `envconfig:"SAMANI_MPESA_TEST_MODE" default:"false"`
}

type ShippingConfig struct {
	RatePercent int `envconfig:"SAMANI_SHIPPING_RATE_PERCENT" default:"10"`
}

// Rate returns the shipping rate as a decimal fraction (10 -> 0.10).
func (s ShippingConfig) Rate() decimal.Decimal {
	return decimal.NewFromInt(int64(s.RatePercent)).Div(decimal.NewFromInt(100))
}

type PaymentsConfig struct {
	PendingTTL    time.Duration `envconfig:"SAMANI_PAYMENT_PENDING_TTL" default:"2h"`
	SweepInterval time.Duration `envconfig:"SAMANI_PAYMENT_SWEEP_INTERVAL" default:"5m"`
	SweepBatch    int           `envconfig:"SAMANI_PAYMENT_SWEEP_BATCH" default:"100"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SAMANI_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SAMANI_AUTO_MIGRATE" default:"false"`
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
