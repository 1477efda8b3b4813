package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-reconciler/internal/merge"
	"github.com/sells-group/lead-reconciler/internal/normalize"
	"github.com/sells-group/lead-reconciler/internal/resilience"
	"github.com/sells-group/lead-reconciler/internal/store"
	"github.com/sells-group/lead-reconciler/pkg/salesforce"
)

// Store drivers.
const (
	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
	DriverSalesforce = "salesforce"
	DriverMemory     = "memory"
)

// Config holds the full application configuration.
type Config struct {
	Source    StoreConfig     `yaml:"source" mapstructure:"source"`
	Target    StoreConfig     `yaml:"target" mapstructure:"target"`
	Merge     MergeConfig     `yaml:"merge" mapstructure:"merge"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures one of the two record stores.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	// DatabaseURL is a Postgres connection string or a SQLite file path.
	DatabaseURL    string                 `yaml:"database_url" mapstructure:"database_url"`
	FixturePath    string                 `yaml:"fixture_path" mapstructure:"fixture_path"`
	OrganizationID string                 `yaml:"organization_id" mapstructure:"organization_id"`
	Pool           store.PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Salesforce     salesforce.Credentials `yaml:"salesforce" mapstructure:"salesforce"`
	// Schema starts from the store's default layout; configured keys
	// override individual tables and columns.
	Schema store.Schema `yaml:"schema" mapstructure:"schema"`
	Filter store.Filter `yaml:"filter" mapstructure:"filter"`
}

// MergeConfig configures which fields are merged and how.
type MergeConfig struct {
	Fields     []merge.Field       `yaml:"fields" mapstructure:"fields"`
	Sentinels  map[string][]string `yaml:"sentinels" mapstructure:"sentinels"`
	PolicyFile string              `yaml:"policy_file" mapstructure:"policy_file"`
}

// ReconcileConfig tunes a run.
type ReconcileConfig struct {
	MinPhoneDigits int         `yaml:"min_phone_digits" mapstructure:"min_phone_digits"`
	WriteRateLimit float64     `yaml:"write_rate_limit" mapstructure:"write_rate_limit"`
	ReadRetry      RetryConfig `yaml:"read_retry" mapstructure:"read_retry"`
}

// RetryConfig configures snapshot read retries.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key that should be settable from the environment needs
	// one, since AutomaticEnv only resolves keys viper already knows.
	for _, side := range []string{"source", "target"} {
		v.SetDefault(side+".driver", DriverPostgres)
		v.SetDefault(side+".database_url", "")
		v.SetDefault(side+".fixture_path", "")
		v.SetDefault(side+".organization_id", "")
		v.SetDefault(side+".salesforce.client_id", "")
		v.SetDefault(side+".salesforce.username", "")
		v.SetDefault(side+".salesforce.key_path", "")
		v.SetDefault(side+".salesforce.login_url", "https://login.salesforce.com")
		v.SetDefault(side+".salesforce.rate_limit", 10)
	}
	v.SetDefault("merge.policy_file", "")
	v.SetDefault("reconcile.min_phone_digits", normalize.MinPhoneDigits)
	v.SetDefault("reconcile.write_rate_limit", 0)
	v.SetDefault("reconcile.read_retry.max_attempts", 3)
	v.SetDefault("reconcile.read_retry.initial_backoff_ms", 500)
	v.SetDefault("reconcile.read_retry.max_backoff_ms", 10000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	cfg := Config{
		Source: StoreConfig{Schema: store.DefaultSourceSchema()},
		Target: StoreConfig{Schema: store.DefaultTargetSchema()},
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// loadEnvFile exports the variables in path unless they are already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return eris.Wrapf(err, "config: load %s", path)
	}
	return nil
}

// Validate checks the settings a run needs and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	errs = append(errs, c.Source.validate("source")...)
	errs = append(errs, c.Target.validate("target")...)
	if c.Target.OrganizationID == "" {
		errs = append(errs, "target.organization_id is required")
	}
	if c.Reconcile.MinPhoneDigits < 1 {
		errs = append(errs, "reconcile.min_phone_digits must be positive")
	}
	if c.Reconcile.WriteRateLimit < 0 {
		errs = append(errs, "reconcile.write_rate_limit must not be negative")
	}
	if c.Merge.PolicyFile == "" && len(c.Merge.Fields) > 0 {
		if err := c.inlinePolicy().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s StoreConfig) validate(side string) []string {
	var errs []string
	switch s.Driver {
	case DriverPostgres, DriverSQLite:
		if s.DatabaseURL == "" {
			errs = append(errs, side+".database_url is required")
		}
	case DriverSalesforce:
		if s.Salesforce.ClientID == "" {
			errs = append(errs, side+".salesforce.client_id is required")
		}
		if s.Salesforce.Username == "" {
			errs = append(errs, side+".salesforce.username is required")
		}
		if s.Salesforce.KeyPath == "" {
			errs = append(errs, side+".salesforce.key_path is required")
		}
	case DriverMemory:
		if s.FixturePath == "" {
			errs = append(errs, side+".fixture_path is required")
		}
	default:
		errs = append(errs, side+".driver must be one of postgres, sqlite, salesforce, memory")
	}
	if err := s.Schema.Validate(); err != nil {
		errs = append(errs, side+": "+err.Error())
	}
	return errs
}

// Policy returns the merge policy: the policy file when set, else the
// inline fields, else the CRM default.
func (c *Config) Policy() (merge.Policy, error) {
	if c.Merge.PolicyFile != "" {
		return merge.LoadPolicy(c.Merge.PolicyFile)
	}
	if len(c.Merge.Fields) == 0 {
		p := merge.DefaultPolicy()
		if len(c.Merge.Sentinels) > 0 {
			p.Sentinels = c.Merge.Sentinels
		}
		return p, p.Validate()
	}
	p := c.inlinePolicy()
	return p, p.Validate()
}

func (c *Config) inlinePolicy() merge.Policy {
	return merge.Policy{Fields: c.Merge.Fields, Sentinels: c.Merge.Sentinels}
}

// ReadRetry converts the configured read retry policy.
func (c *Config) ReadRetry() resilience.RetryConfig {
	r := c.Reconcile.ReadRetry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs)
}

// InitLogger initializes the global zap logger.
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

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
