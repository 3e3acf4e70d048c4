package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultQueueCapacity      = 1000
	DefaultMaxRetries         = 5
	DefaultBackoffUnit        = 2 * time.Second
	DefaultReconcileInterval  = 6 * time.Hour
	DefaultReconcileDelay     = time.Minute
	DefaultStaleBookingCutoff = 48 * time.Hour
	DefaultIntentExpiry       = 15 * time.Minute
	DefaultReconcileBatchSize = 500
)

type Config struct {
	Env            string               `mapstructure:"env"`
	Server         ServerConfig         `mapstructure:"http_server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Payment        PaymentConfig        `mapstructure:"payment"`
	Completion     CompletionConfig     `mapstructure:"completion"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Booking        BookingConfig        `mapstructure:"booking"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type PaymentConfig struct {
	FrontendReturnURL string        `mapstructure:"frontend_return_url"`
	IntentExpiry      time.Duration `mapstructure:"intent_expiry"`
	DefaultCurrency   string        `mapstructure:"default_currency"`
	MockEnabled       bool          `mapstructure:"mock_enabled"`
	VNPay             VNPayConfig   `mapstructure:"vnpay"`
	MoMo              MoMoConfig    `mapstructure:"momo"`
}

type VNPayConfig struct {
	TmnCode    string `mapstructure:"tmn_code"`
	HashSecret string `mapstructure:"hash_secret"`
}

type MoMoConfig struct {
	PartnerCode string `mapstructure:"partner_code"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
}

type CompletionConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffUnit   time.Duration `mapstructure:"backoff_unit"`
}

type ReconciliationConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Interval           time.Duration `mapstructure:"interval"`
	InitialDelay       time.Duration `mapstructure:"initial_delay"`
	StaleBookingCutoff time.Duration `mapstructure:"stale_booking_cutoff"`
	BatchSize          int           `mapstructure:"batch_size"`
}

// BookingConfig points the completion worker at a remote booking service.
// When ServiceURL is empty the local booking tables are updated directly.
type BookingConfig struct {
	ServiceURL string        `mapstructure:"service_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Path         string        `mapstructure:"path" validate:"required_if=Enabled true"`
	PushURL      string        `mapstructure:"push_url"`
	PushInterval time.Duration `mapstructure:"push_interval"`
	CommonLabels string        `mapstructure:"common_labels"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format  string `mapstructure:"format" validate:"required,oneof=json text"`
	LokiURL string `mapstructure:"loki_url"`
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Payment.IntentExpiry <= 0 {
		c.Payment.IntentExpiry = DefaultIntentExpiry
	}
	if c.Payment.DefaultCurrency == "" {
		c.Payment.DefaultCurrency = "VND"
	}
	if c.Completion.QueueCapacity <= 0 {
		c.Completion.QueueCapacity = DefaultQueueCapacity
	}
	if c.Completion.MaxRetries <= 0 {
		c.Completion.MaxRetries = DefaultMaxRetries
	}
	if c.Completion.BackoffUnit <= 0 {
		c.Completion.BackoffUnit = DefaultBackoffUnit
	}
	if c.Reconciliation.Interval <= 0 {
		c.Reconciliation.Interval = DefaultReconcileInterval
	}
	if c.Reconciliation.InitialDelay <= 0 {
		c.Reconciliation.InitialDelay = DefaultReconcileDelay
	}
	if c.Reconciliation.StaleBookingCutoff <= 0 {
		c.Reconciliation.StaleBookingCutoff = DefaultStaleBookingCutoff
	}
	if c.Reconciliation.BatchSize <= 0 {
		c.Reconciliation.BatchSize = DefaultReconcileBatchSize
	}
	if c.Booking.Timeout <= 0 {
		c.Booking.Timeout = 10 * time.Second
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
	if c.Observability.Metrics.PushInterval <= 0 {
		c.Observability.Metrics.PushInterval = 10 * time.Second
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// ----------------- ENV LOADING -----------------

func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", ""),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", ""),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Payment: PaymentConfig{
			FrontendReturnURL: getEnv("PAYMENT_FRONTEND_RETURN_URL", ""),
			IntentExpiry:      getEnvAsDuration("PAYMENT_INTENT_EXPIRY", DefaultIntentExpiry),
			DefaultCurrency:   getEnv("PAYMENT_DEFAULT_CURRENCY", "VND"),
			MockEnabled:       getEnvAsBool("PAYMENT_MOCK_ENABLED", false),
			VNPay: VNPayConfig{
				TmnCode:    getEnv("VNPAY_TMN_CODE", ""),
				HashSecret: getEnv("VNPAY_HASH_SECRET", ""),
			},
			MoMo: MoMoConfig{
				PartnerCode: getEnv("MOMO_PARTNER_CODE", ""),
				AccessKey:   getEnv("MOMO_ACCESS_KEY", ""),
				SecretKey:   getEnv("MOMO_SECRET_KEY", ""),
			},
		},
		Completion: CompletionConfig{
			QueueCapacity: getEnvAsInt("COMPLETION_QUEUE_CAPACITY", DefaultQueueCapacity),
			MaxRetries:    getEnvAsInt("COMPLETION_MAX_RETRIES", DefaultMaxRetries),
			BackoffUnit:   getEnvAsDuration("COMPLETION_BACKOFF_UNIT", DefaultBackoffUnit),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:            getEnvAsBool("RECONCILIATION_ENABLED", true),
			Interval:           getEnvAsDuration("RECONCILIATION_INTERVAL", DefaultReconcileInterval),
			InitialDelay:       getEnvAsDuration("RECONCILIATION_INITIAL_DELAY", DefaultReconcileDelay),
			StaleBookingCutoff: getEnvAsDuration("RECONCILIATION_STALE_BOOKING_CUTOFF", DefaultStaleBookingCutoff),
			BatchSize:          getEnvAsInt("RECONCILIATION_BATCH_SIZE", DefaultReconcileBatchSize),
		},
		Booking: BookingConfig{
			ServiceURL: getEnv("BOOKING_SERVICE_URL", ""),
			Timeout:    getEnvAsDuration("BOOKING_SERVICE_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled:      getEnvAsBool("METRICS_ENABLED", true),
				Path:         getEnv("METRICS_PATH", "/metrics"),
				PushURL:      getEnv("METRICS_PUSH_URL", ""),
				PushInterval: getEnvAsDuration("METRICS_PUSH_INTERVAL", 10*time.Second),
				CommonLabels: getEnv("METRICS_COMMON_LABELS", ""),
			},
			Logging: LoggingConfig{
				Level:   getEnv("LOG_LEVEL", "info"),
				Format:  getEnv("LOG_FORMAT", "json"),
				LokiURL: getEnv("LOKI_URL", ""),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if c.IsProduction() && c.Payment.MockEnabled {
		errs = append(errs, "payment config: mock_enabled must be false in production")
	}

	if err := c.Completion.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("completion config: %v", err))
	}

	if err := c.Reconciliation.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("reconciliation config: %v", err))
	}

	if c.Booking.ServiceURL != "" {
		if _, err := url.ParseRequestURI(c.Booking.ServiceURL); err != nil {
			errs = append(errs, fmt.Sprintf("booking config: invalid service_url: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *PaymentConfig) Validate() error {
	if c.VNPay.HashSecret == "" && c.MoMo.SecretKey == "" {
		return errors.New("at least one gateway secret (vnpay.hash_secret or momo.secret_key) is required")
	}
	if c.MoMo.SecretKey != "" && c.MoMo.AccessKey == "" {
		return errors.New("momo.access_key is required when momo.secret_key is set")
	}
	if c.FrontendReturnURL != "" {
		if _, err := url.ParseRequestURI(c.FrontendReturnURL); err != nil {
			return fmt.Errorf("invalid frontend_return_url: %w", err)
		}
	}
	if c.IntentExpiry <= 0 {
		return errors.New("intent_expiry must be positive")
	}
	return nil
}

func (c *CompletionConfig) Validate() error {
	if c.QueueCapacity <= 0 {
		return errors.New("queue_capacity must be positive")
	}
	if c.MaxRetries <= 0 {
		return errors.New("max_retries must be positive")
	}
	return nil
}

func (c *ReconciliationConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.StaleBookingCutoff <= 0 {
		return errors.New("stale_booking_cutoff must be positive")
	}
	return nil
}
