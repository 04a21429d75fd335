package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	Server      struct {
		Addr    string `mapstructure:"addr"`
		TLSAddr string `mapstructure:"tls_addr"`
	} `mapstructure:"server"`
	Store struct {
		// Driver selects the workflow store: "postgres" or "memory".
		Driver string `mapstructure:"driver"`
	} `mapstructure:"store"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Agents struct {
		// URL of the computation sidecar hosting the collaborator endpoints.
		URL string `mapstructure:"url"`
	} `mapstructure:"agents"`
	Orchestrator struct {
		VarianceThresholdPct float64 `mapstructure:"variance_threshold_pct"`
		HandoffMaxAttempts   int     `mapstructure:"handoff_max_attempts"`
		HandoffBaseDelayMS   int     `mapstructure:"handoff_base_delay_ms"`
		HandoffTimeoutSec    int     `mapstructure:"handoff_timeout_sec"`
		// ApprovalTTLHours expires pending approvals when positive.
		// Zero keeps approval waits unbounded.
		ApprovalTTLHours int `mapstructure:"approval_ttl_hours"`
		EventBufferSize  int `mapstructure:"event_buffer_size"`
	} `mapstructure:"orchestrator"`
	Auth struct {
		Enable    bool   `mapstructure:"enable"`
		IssuerURL string `mapstructure:"issuer_url"`
		ClientID  string `mapstructure:"client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// HandoffBaseDelay returns the configured retry base delay.
func (c *Config) HandoffBaseDelay() time.Duration {
	return time.Duration(c.Orchestrator.HandoffBaseDelayMS) * time.Millisecond
}

// HandoffTimeout returns the per-call collaborator timeout.
func (c *Config) HandoffTimeout() time.Duration {
	return time.Duration(c.Orchestrator.HandoffTimeoutSec) * time.Second
}

// ApprovalTTL returns the pending-approval expiry, or zero when disabled.
func (c *Config) ApprovalTTL() time.Duration {
	return time.Duration(c.Orchestrator.ApprovalTTLHours) * time.Hour
}

// LoadConfig loads the configuration from a file and the environment.
// An explicit path overrides the default search locations.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.tls_addr", ":8443")
	viper.SetDefault("store.driver", "postgres")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("orchestrator.variance_threshold_pct", 20.0)
	viper.SetDefault("orchestrator.handoff_max_attempts", 3)
	viper.SetDefault("orchestrator.handoff_base_delay_ms", 500)
	viper.SetDefault("orchestrator.handoff_timeout_sec", 60)
	viper.SetDefault("orchestrator.approval_ttl_hours", 0)
	viper.SetDefault("orchestrator.event_buffer_size", 64)

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
