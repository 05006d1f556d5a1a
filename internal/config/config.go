package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/audit"
	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "CROSSPOST"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "crosspost.db"
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"
	defaultIssuer       = "crosspost-auth"
	defaultAudience     = "crosspost-api"
	defaultTokenTTL     = 30

	defaultNetworkMaxRetries  = 3
	defaultNetworkBaseDelay   = 1000
	defaultNetworkMaxDelay    = 10000
	defaultDatabaseMaxRetries = 2
	defaultDatabaseBaseDelay  = 500

	defaultLogCapacity    = 1000
	defaultSampleCapacity = 500
	defaultSlowThreshold  = 2000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogFormat    string

	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration

	Retry retry.Policy

	AuditLogCapacity    int
	AuditSampleCapacity int
	AuditSlowThreshold  time.Duration
	AuditPersist        bool
}

// RecorderConfig returns the audit recorder settings; the caller supplies sink and logger.
func (c AppConfig) RecorderConfig() audit.RecorderConfig {
	return audit.RecorderConfig{
		LogCapacity:    c.AuditLogCapacity,
		SampleCapacity: c.AuditSampleCapacity,
		SlowThreshold:  c.AuditSlowThreshold,
	}
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("retry.network.max_retries", defaultNetworkMaxRetries)
	configViper.SetDefault("retry.network.base_delay_ms", defaultNetworkBaseDelay)
	configViper.SetDefault("retry.network.max_delay_ms", defaultNetworkMaxDelay)
	configViper.SetDefault("retry.database.max_retries", defaultDatabaseMaxRetries)
	configViper.SetDefault("retry.database.base_delay_ms", defaultDatabaseBaseDelay)
	configViper.SetDefault("audit.log_capacity", defaultLogCapacity)
	configViper.SetDefault("audit.sample_capacity", defaultSampleCapacity)
	configViper.SetDefault("audit.slow_threshold_ms", defaultSlowThreshold)
	configViper.SetDefault("audit.persist", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		LogFormat:     configViper.GetString("log.format"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		Audience:      configViper.GetString("auth.audience"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		Retry: retry.Policy{
			NetworkMaxRetries:  configViper.GetInt("retry.network.max_retries"),
			NetworkBaseDelay:   milliseconds(configViper, "retry.network.base_delay_ms"),
			NetworkMaxDelay:    milliseconds(configViper, "retry.network.max_delay_ms"),
			DatabaseMaxRetries: configViper.GetInt("retry.database.max_retries"),
			DatabaseBaseDelay:  milliseconds(configViper, "retry.database.base_delay_ms"),
		},
		AuditLogCapacity:    configViper.GetInt("audit.log_capacity"),
		AuditSampleCapacity: configViper.GetInt("audit.sample_capacity"),
		AuditSlowThreshold:  milliseconds(configViper, "audit.slow_threshold_ms"),
		AuditPersist:        configViper.GetBool("audit.persist"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func milliseconds(configViper *viper.Viper, key string) time.Duration {
	return time.Duration(configViper.GetInt64(key)) * time.Millisecond
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.Retry.NetworkMaxRetries < 0 || c.Retry.DatabaseMaxRetries < 0 {
		return fmt.Errorf("retry budgets must not be negative")
	}
	if c.Retry.NetworkMaxDelay < c.Retry.NetworkBaseDelay {
		return fmt.Errorf("retry.network.max_delay_ms must not be below base_delay_ms")
	}
	if c.AuditLogCapacity <= 0 || c.AuditSampleCapacity <= 0 {
		return fmt.Errorf("audit capacities must be positive")
	}
	return nil
}
