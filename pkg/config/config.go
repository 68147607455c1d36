// Package config loads the control plane's configuration: built-in defaults,
// an optional YAML file, and environment variables (§6.6), unified by viper
// into one validated Config struct.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every setting the control plane and its components read.
type Config struct {
	Heartbeat   HeartbeatConfig   `mapstructure:"heartbeat"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace"`
	Metering    MeteringConfig    `mapstructure:"metering"`
	FileSync    FileSyncConfig    `mapstructure:"file_sync"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Placement   PlacementConfig   `mapstructure:"placement"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Security    SecurityConfig    `mapstructure:"security"`
	Region      string            `mapstructure:"region"`
}

type HeartbeatConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	FailureThreshold      int `mapstructure:"failure_threshold"`
	StaleThresholdSeconds int `mapstructure:"stale_threshold_seconds"`
}

type WorkspaceConfig struct {
	CheckIntervalMultiplier int               `mapstructure:"check_interval_multiplier"`
	PathBase                string            `mapstructure:"path_base"`
	DefaultImageByVariant   map[string]string `mapstructure:"default_image_by_variant"`
}

type MeteringConfig struct {
	GranularitySeconds int `mapstructure:"granularity_seconds"`
}

type FileSyncConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

type ObjectStoreConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
}

type PlacementConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type DiscoveryConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	StaleRecordTTLSeconds int `mapstructure:"stale_record_ttl_seconds"`
}

type SecurityConfig struct {
	InternalServiceToken string `mapstructure:"internal_service_token"`
}

// Load reads defaults, then an optional config file at configPath, then
// environment variables, in that ascending order of precedence, and returns
// a validated Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("fleetd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fleetd")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("heartbeat.interval_seconds", 30)
	v.SetDefault("heartbeat.failure_threshold", 3)
	v.SetDefault("heartbeat.stale_threshold_seconds", 120)

	v.SetDefault("workspace.check_interval_multiplier", 2)
	v.SetDefault("workspace.path_base", "/var/lib/fleetd/workspaces")

	v.SetDefault("metering.granularity_seconds", 600)

	v.SetDefault("file_sync.interval_seconds", 300)

	v.SetDefault("placement.max_retries", 3)

	v.SetDefault("discovery.interval_seconds", 300)
	v.SetDefault("discovery.stale_record_ttl_seconds", 0)
}

// bindEnv wires the §6.6 SCREAMING_SNAKE_CASE environment variables directly,
// since their names don't follow viper's automatic dot-to-underscore mapping
// of the nested mapstructure keys above.
func bindEnv(v *viper.Viper) {
	binds := map[string]string{
		"heartbeat.interval_seconds":          "HEARTBEAT_INTERVAL_SECONDS",
		"heartbeat.failure_threshold":         "HEARTBEAT_FAILURE_THRESHOLD",
		"heartbeat.stale_threshold_seconds":   "HEARTBEAT_STALE_THRESHOLD_SECONDS",
		"workspace.check_interval_multiplier": "WORKSPACE_CHECK_INTERVAL_MULTIPLIER",
		"workspace.path_base":                 "WORKSPACE_PATH_BASE",
		"metering.granularity_seconds":        "METERING_GRANULARITY_SECONDS",
		"file_sync.interval_seconds":          "FILE_SYNC_INTERVAL_SECONDS",
		"security.internal_service_token":     "INTERNAL_SERVICE_TOKEN",
		"region":                              "REGION",
		"object_store.bucket":                 "OBJECT_STORE_BUCKET",
		"object_store.prefix":                 "OBJECT_STORE_PREFIX",
		"object_store.endpoint":               "OBJECT_STORE_ENDPOINT",
		"object_store.region":                 "OBJECT_STORE_REGION",
		"placement.max_retries":               "PLACEMENT_MAX_RETRIES",
		"discovery.interval_seconds":          "DISCOVERY_INTERVAL_SECONDS",
		"discovery.stale_record_ttl_seconds":  "STALE_RECORD_TTL_SECONDS",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}
	for _, variant := range []string{"AMD64", "ARM64", "GPU"} {
		_ = v.BindEnv("workspace.default_image_by_variant."+strings.ToLower(variant), "DEFAULT_WORKSPACE_IMAGE_"+variant)
	}
}

// Validate checks the settings an unconfigured fleet cannot safely run
// without.
func (c *Config) Validate() error {
	if c.Heartbeat.IntervalSeconds < 5 || c.Heartbeat.IntervalSeconds > 300 {
		return fmt.Errorf("heartbeat interval must be within [5,300] seconds, got %d", c.Heartbeat.IntervalSeconds)
	}
	if c.Workspace.PathBase == "" {
		return fmt.Errorf("workspace path base is required")
	}
	if c.Placement.MaxRetries < 0 {
		return fmt.Errorf("placement max retries must be non-negative")
	}
	return nil
}
