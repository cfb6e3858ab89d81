package config

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sells-group/funnel-sync/internal/funnel"
	"github.com/sells-group/funnel-sync/internal/resilience"
	"github.com/sells-group/funnel-sync/internal/window"
	"github.com/sells-group/funnel-sync/pkg/amocrm"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	AmoCRM     AmoCRMConfig     `yaml:"amocrm" mapstructure:"amocrm"`
	Funnel     FunnelConfig     `yaml:"funnel" mapstructure:"funnel"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Poll       PollConfig       `yaml:"poll" mapstructure:"poll"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AmoCRMConfig holds the CRM account and OAuth credentials.
type AmoCRMConfig struct {
	amocrm.Credentials `yaml:",inline" mapstructure:",squash"`

	BaseURL     string                 `yaml:"base_url" mapstructure:"base_url"`
	RateLimit   float64                `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int                    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry       resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// FunnelConfig holds the installation-specific funnel taxonomy.
type FunnelConfig struct {
	CommonPipeline  int64 `yaml:"common_pipeline" mapstructure:"common_pipeline"`
	SuccessPipeline int64 `yaml:"success_pipeline" mapstructure:"success_pipeline"`
	DecisionStatus  int64 `yaml:"decision_status" mapstructure:"decision_status"`
	ReviewerGroup   int64 `yaml:"reviewer_group" mapstructure:"reviewer_group"`
	// Timezone is an IANA name or empty for the fixed UTC+5 business day.
	Timezone      string             `yaml:"timezone" mapstructure:"timezone"`
	Fields        []funnel.FieldRule `yaml:"fields" mapstructure:"fields"`
	FieldsFile    string             `yaml:"fields_file" mapstructure:"fields_file"`
	RejectReasons RejectReasons      `yaml:"reject_reasons" mapstructure:"reject_reasons"`
	Checkpoints   Checkpoints        `yaml:"checkpoints" mapstructure:"checkpoints"`
}

// RejectReasons are the reject-reason values that block a milestone.
type RejectReasons struct {
	Qualification []string `yaml:"qualification" mapstructure:"qualification"`
	Meeting       []string `yaml:"meeting" mapstructure:"meeting"`
}

// Checkpoints name the statuses used for the regression counters.
type Checkpoints struct {
	Qualified string `yaml:"qualified" mapstructure:"qualified"`
	Met       string `yaml:"met" mapstructure:"met"`
}

// ReportConfig configures the spreadsheet report.
type ReportConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Path      string `yaml:"path" mapstructure:"path"`
	SalesPath string `yaml:"sales_path" mapstructure:"sales_path"`
	City      string `yaml:"city" mapstructure:"city"`
}

// PollConfig configures the tick scheduler.
type PollConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// MonitoringConfig configures sync health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ConsecutiveFailures  int     `yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	StaleAfterMins       int     `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
}

// ServerConfig configures the status server of the daemon.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path falls
// back to an optional config.yaml in the working directory; an explicit path
// must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("FUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "funnel.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("amocrm.base_url", "")
	v.SetDefault("amocrm.access_token", "")
	v.SetDefault("amocrm.refresh_token", "")
	v.SetDefault("amocrm.client_id", "")
	v.SetDefault("amocrm.client_secret", "")
	v.SetDefault("amocrm.redirect_uri", "")
	v.SetDefault("amocrm.permanent", true)
	v.SetDefault("amocrm.rate_limit", amocrm.DefaultRateLimit)
	v.SetDefault("amocrm.timeout_secs", 30)
	v.SetDefault("amocrm.retry.max_attempts", 4)
	v.SetDefault("amocrm.retry.initial_backoff", "1s")
	v.SetDefault("amocrm.retry.max_backoff", "30s")
	v.SetDefault("amocrm.retry.multiplier", 2.0)
	v.SetDefault("amocrm.retry.jitter_fraction", 0.25)
	v.SetDefault("funnel.common_pipeline", 0)
	v.SetDefault("funnel.success_pipeline", 0)
	v.SetDefault("funnel.decision_status", 0)
	v.SetDefault("funnel.reviewer_group", 0)
	v.SetDefault("funnel.timezone", "")
	v.SetDefault("funnel.fields_file", "")
	v.SetDefault("funnel.reject_reasons.qualification", funnel.DefaultQualificationRejects)
	v.SetDefault("funnel.reject_reasons.meeting", funnel.DefaultMeetingRejects)
	v.SetDefault("funnel.checkpoints.qualified", "Qualification passed")
	v.SetDefault("funnel.checkpoints.met", "Making a decision")
	v.SetDefault("report.enabled", true)
	v.SetDefault("report.path", "funnel-report.xlsx")
	v.SetDefault("report.sales_path", "")
	v.SetDefault("report.city", "Almaty")
	v.SetDefault("poll.interval_secs", 300)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.consecutive_failures", 3)
	v.SetDefault("monitoring.stale_after_mins", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.max_size_mb", 100)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode "sync" covers every
// command that talks to the CRM; "store" only needs a database.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "store":
	case "sync":
		if c.AmoCRM.BaseURL == "" {
			errs = append(errs, "amocrm.base_url is required")
		}
		if c.AmoCRM.AccessToken == "" {
			errs = append(errs, "amocrm.access_token is required")
		}
		if !c.AmoCRM.Permanent && c.AmoCRM.RefreshToken == "" {
			errs = append(errs, "amocrm.refresh_token is required unless amocrm.permanent is set")
		}
		if c.Funnel.CommonPipeline == 0 {
			errs = append(errs, "funnel.common_pipeline is required")
		}
		if c.Funnel.SuccessPipeline == 0 {
			errs = append(errs, "funnel.success_pipeline is required")
		}
		if c.Funnel.DecisionStatus == 0 {
			errs = append(errs, "funnel.decision_status is required")
		}
		if c.Funnel.ReviewerGroup == 0 {
			errs = append(errs, "funnel.reviewer_group is required")
		}
		if c.Poll.IntervalSecs <= 0 {
			errs = append(errs, "poll.interval_secs must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Rules builds the classification rules. An empty funnel.fields falls back to
// funnel.DefaultFieldRules. Field rules from funnel.fields_file
// take precedence over the inline funnel.fields table.
func (c *Config) Rules() (funnel.Rules, error) {
	rules := funnel.Rules{
		CommonPipeline:       c.Funnel.CommonPipeline,
		SuccessPipeline:      c.Funnel.SuccessPipeline,
		DecisionStatus:       c.Funnel.DecisionStatus,
		QualificationRejects: c.Funnel.RejectReasons.Qualification,
		MeetingRejects:       c.Funnel.RejectReasons.Meeting,
	}

	fields := c.Funnel.Fields
	if len(fields) == 0 {
		fields = funnel.DefaultFieldRules
	}
	table, err := funnel.NewFieldTable(fields)
	if err != nil {
		return funnel.Rules{}, eris.Wrap(err, "config: funnel.fields")
	}
	rules.Fields = table

	if c.Funnel.FieldsFile != "" {
		rf, err := funnel.LoadRulesFile(c.Funnel.FieldsFile)
		if err != nil {
			return funnel.Rules{}, eris.Wrap(err, "config: funnel.fields_file")
		}
		if err := rf.Apply(&rules); err != nil {
			return funnel.Rules{}, eris.Wrap(err, "config: funnel.fields_file")
		}
	}
	return rules, nil
}

// Location returns the zone that business days are counted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Funnel.Timezone == "" {
		return window.DefaultLocation, nil
	}
	loc, err := time.LoadLocation(c.Funnel.Timezone)
	if err != nil {
		return nil, eris.Wrap(err, "config: funnel.timezone")
	}
	return loc, nil
}

// InitLogger initializes the global zap logger. When cfg.File is set a second
// JSON core writes to a rotating file.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	var opts []zap.Option
	if cfg.File != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(newRotator(cfg)),
			zapCfg.Level,
		)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

func newRotator(cfg LogConfig) *lumberjack.Logger {
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 7
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename: os.ExpandEnv(cfg.File),
		MaxAge:   maxAge,
		MaxSize:  maxSize,
		Compress: true,
	}
}
