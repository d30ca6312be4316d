// Package dto defines the typed configuration structure.
package dto

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Pool          PoolConfig          `mapstructure:"pool"`
	Spill         SpillConfig         `mapstructure:"spill"`
	Workload      WorkloadConfig      `mapstructure:"workload"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// PoolConfig sizes the shared buffer pool
type PoolConfig struct {
	SegmentSizeBytes int `mapstructure:"segment_size_bytes"`
	Segments         int `mapstructure:"segments"`
	RequestTimeoutMS int `mapstructure:"request_timeout_ms"`
}

// SpillConfig configures the spill file layer
type SpillConfig struct {
	Dir          string `mapstructure:"dir"`
	FilePrefix   string `mapstructure:"file_prefix"`
	QueueDepth   int    `mapstructure:"queue_depth"`
	SyncOnFinish bool   `mapstructure:"sync_on_finish"`
}

// WorkloadConfig drives the verification workload
type WorkloadConfig struct {
	Partitions          int  `mapstructure:"partitions"`
	BuffersPerPartition int  `mapstructure:"buffers_per_partition"`
	PayloadBytes        int  `mapstructure:"payload_bytes"`
	ForceSpill          bool `mapstructure:"force_spill"`
}

// ObservabilityConfig contains logging, metrics and health settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains Prometheus exposure settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health endpoint settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains graceful shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}
