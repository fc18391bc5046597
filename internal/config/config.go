package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// ClinicalEnvPrefix prefixes the environment overrides of clinical
// thresholds, e.g. PAIN_CRITICAL_VAS_LEVEL=7.
const ClinicalEnvPrefix = "PAIN"

type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Redis         RedisConfig        `mapstructure:"redis"`
	JWT           JWTConfig          `mapstructure:"jwt"`
	SMTP          SMTPConfig         `mapstructure:"smtp"`
	Log           LogConfig          `mapstructure:"log"`
	RateLimit     RateLimitConfig    `mapstructure:"rate_limit"`
	Catalog       CatalogConfig      `mapstructure:"catalog"`
	Clinical      ClinicalConfig     `mapstructure:"clinical"`
	Sweeps        SweepConfig        `mapstructure:"sweeps"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Outbox        OutboxConfig       `mapstructure:"outbox"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MetricsPort serves /metrics and health for the worker binary.
	MetricsPort int `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// URL is the form golang-migrate expects.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// RoleMailboxes maps a role tag to the mailbox CRITICAL alerts go to.
	RoleMailboxes map[string]string `mapstructure:"role_mailboxes"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CatalogConfig struct {
	Path         string `mapstructure:"path"`
	DefaultRoute string `mapstructure:"default_route"`
}

// ClinicalConfig carries every threshold the workflow consumes. Values come
// from the config file and may be overridden per field from the environment.
type ClinicalConfig struct {
	MinVasIncrease           int     `mapstructure:"min_vas_increase" envconfig:"MIN_VAS_INCREASE"`
	MinDoseIntervalHours     float64 `mapstructure:"min_dose_interval_hours" envconfig:"MIN_DOSE_INTERVAL_HOURS"`
	CriticalVasLevel         int     `mapstructure:"critical_vas_level" envconfig:"CRITICAL_VAS_LEVEL"`
	HighVasLevel             int     `mapstructure:"high_vas_level" envconfig:"HIGH_VAS_LEVEL"`
	TrendAnalysisPeriodHours int     `mapstructure:"trend_analysis_period_hours" envconfig:"TREND_ANALYSIS_PERIOD_HOURS"`

	GFRRenalFailure      float64 `mapstructure:"gfr_renal_failure" envconfig:"GFR_RENAL_FAILURE"`
	GFRDropDelta         float64 `mapstructure:"gfr_drop_delta" envconfig:"GFR_DROP_DELTA"`
	PLTBleedingRisk      float64 `mapstructure:"plt_bleeding_risk" envconfig:"PLT_BLEEDING_RISK"`
	WBCImmunosuppression float64 `mapstructure:"wbc_immunosuppression" envconfig:"WBC_IMMUNOSUPPRESSION"`
	SATHypoxia           float64 `mapstructure:"sat_hypoxia" envconfig:"SAT_HYPOXIA"`
	SodiumLow            float64 `mapstructure:"sodium_low" envconfig:"SODIUM_LOW"`
	SodiumHigh           float64 `mapstructure:"sodium_high" envconfig:"SODIUM_HIGH"`

	// EscalationKeywords maps a case-insensitive keyword in a rejection
	// reason to a priority. Env form: "allergy:CRITICAL,ineffective:HIGH".
	EscalationKeywords map[string]string `mapstructure:"escalation_keywords" envconfig:"ESCALATION_KEYWORDS"`
}

func (c ClinicalConfig) MinDoseInterval() time.Duration {
	return time.Duration(c.MinDoseIntervalHours * float64(time.Hour))
}

func (c ClinicalConfig) TrendWindow() time.Duration {
	return time.Duration(c.TrendAnalysisPeriodHours) * time.Hour
}

type SweepConfig struct {
	PainInterval    time.Duration `mapstructure:"pain_interval"`
	PainMinVAS      int           `mapstructure:"pain_min_vas"`
	PainLookback    time.Duration `mapstructure:"pain_lookback"`
	OverdueInterval time.Duration `mapstructure:"overdue_interval"`
	OverdueMinVAS   int           `mapstructure:"overdue_min_vas"`
	OverdueAfter    time.Duration `mapstructure:"overdue_after"`
	SummaryInterval time.Duration `mapstructure:"summary_interval"`
	PatientTimeout  time.Duration `mapstructure:"patient_timeout"`
}

type NotificationConfig struct {
	// ThrottleWindow suppresses repeated alerts of one kind for one patient.
	ThrottleWindow  time.Duration `mapstructure:"throttle_window"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Retention     time.Duration `mapstructure:"retention"`
	CleanupEvery  time.Duration `mapstructure:"cleanup_every"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("server.metrics_port", 9090)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "painmgmt")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "100ms")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("jwt.issuer", "painmgmt-api")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("log.level", "info")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("catalog.path", "config/protocols.csv")
	v.SetDefault("catalog.default_route", "PO")

	v.SetDefault("clinical.min_vas_increase", 2)
	v.SetDefault("clinical.min_dose_interval_hours", 4)
	v.SetDefault("clinical.critical_vas_level", 8)
	v.SetDefault("clinical.high_vas_level", 6)
	v.SetDefault("clinical.trend_analysis_period_hours", 24)
	v.SetDefault("clinical.gfr_renal_failure", 30)
	v.SetDefault("clinical.gfr_drop_delta", 25)
	v.SetDefault("clinical.plt_bleeding_risk", 50)
	v.SetDefault("clinical.wbc_immunosuppression", 2)
	v.SetDefault("clinical.sat_hypoxia", 90)
	v.SetDefault("clinical.sodium_low", 130)
	v.SetDefault("clinical.sodium_high", 150)
	v.SetDefault("clinical.escalation_keywords", map[string]string{
		"allergy":       "CRITICAL",
		"anaphylaxis":   "CRITICAL",
		"respiratory":   "CRITICAL",
		"contraindicat": "HIGH",
		"ineffective":   "HIGH",
		"side effect":   "MEDIUM",
	})

	v.SetDefault("sweeps.pain_interval", "15m")
	v.SetDefault("sweeps.pain_min_vas", 6)
	v.SetDefault("sweeps.pain_lookback", "2h")
	v.SetDefault("sweeps.overdue_interval", "1h")
	v.SetDefault("sweeps.overdue_min_vas", 5)
	v.SetDefault("sweeps.overdue_after", "6h")
	v.SetDefault("sweeps.summary_interval", "24h")
	v.SetDefault("sweeps.patient_timeout", "10s")

	v.SetDefault("notifications.throttle_window", "1h")
	v.SetDefault("notifications.breaker_timeout", "30s")
	v.SetDefault("notifications.breaker_failures", 5)

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", "30s")
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", "500ms")
	v.SetDefault("outbox.max_retries", 10)
	v.SetDefault("outbox.retention", "168h")
	v.SetDefault("outbox.cleanup_every", "24h")
}

// LoadConfig reads config.yaml from path (or ./ and ./config when empty),
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(ClinicalEnvPrefix, &config.Clinical); err != nil {
		return nil, fmt.Errorf("failed to apply clinical overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	cl := c.Clinical
	switch {
	case cl.MinVasIncrease < 1:
		return errors.New("clinical.min_vas_increase must be >= 1")
	case cl.MinDoseIntervalHours <= 0:
		return errors.New("clinical.min_dose_interval_hours must be > 0")
	case cl.HighVasLevel < 0 || cl.CriticalVasLevel > 10:
		return errors.New("clinical VAS levels must lie within 0-10")
	case cl.HighVasLevel > cl.CriticalVasLevel:
		return errors.New("clinical.high_vas_level must not exceed critical_vas_level")
	case cl.TrendAnalysisPeriodHours <= 0:
		return errors.New("clinical.trend_analysis_period_hours must be > 0")
	case cl.SodiumLow >= cl.SodiumHigh:
		return errors.New("clinical.sodium_low must be below sodium_high")
	}
	for kw, p := range cl.EscalationKeywords {
		switch strings.ToUpper(p) {
		case "LOW", "MEDIUM", "HIGH", "CRITICAL":
		default:
			return fmt.Errorf("clinical.escalation_keywords[%s]: unknown priority %q", kw, p)
		}
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	return nil
}
