// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/dataflowlab/shuffle/internal/config/dto"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SHUFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "shuffle-partition-store")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Pool defaults
	l.v.SetDefault("pool.segment_size_bytes", 32*1024)
	l.v.SetDefault("pool.segments", 64)
	l.v.SetDefault("pool.request_timeout_ms", 10000)

	// Spill defaults
	l.v.SetDefault("spill.dir", os.TempDir())
	l.v.SetDefault("spill.file_prefix", "shuffle-")
	l.v.SetDefault("spill.queue_depth", 64)
	l.v.SetDefault("spill.sync_on_finish", true)

	// Workload defaults
	l.v.SetDefault("workload.partitions", 4)
	l.v.SetDefault("workload.buffers_per_partition", 256)
	l.v.SetDefault("workload.payload_bytes", 16*1024)
	l.v.SetDefault("workload.force_spill", false)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 10)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if config.Pool.SegmentSizeBytes <= 0 {
		return errors.New("pool.segment_size_bytes must be positive")
	}
	if config.Pool.Segments <= 0 {
		return errors.New("pool.segments must be positive")
	}
	if config.Pool.RequestTimeoutMS <= 0 {
		return errors.New("pool.request_timeout_ms must be positive")
	}

	if config.Spill.Dir == "" {
		return errors.New("spill.dir is required")
	}
	if config.Spill.QueueDepth <= 0 {
		return errors.New("spill.queue_depth must be positive")
	}

	if config.Workload.Partitions <= 0 {
		return errors.New("workload.partitions must be positive")
	}
	if config.Workload.PayloadBytes > config.Pool.SegmentSizeBytes {
		return fmt.Errorf("workload.payload_bytes (%d) exceeds pool.segment_size_bytes (%d)",
			config.Workload.PayloadBytes, config.Pool.SegmentSizeBytes)
	}

	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}
