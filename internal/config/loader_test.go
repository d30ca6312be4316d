package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dataflowlab/shuffle/internal/config/dto"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil {
		t.Fatal("expected non-nil loader")
	}
	if loader.v == nil {
		t.Fatal("expected non-nil viper instance")
	}
}

func TestLoader_LoadWithValidConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
application:
  name: test-shuffle
  version: 2.0.0

pool:
  segment_size_bytes: 4096
  segments: 8

spill:
  dir: /tmp/shuffle-test
  queue_depth: 16

workload:
  partitions: 2
  payload_bytes: 1024
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}

	loader := NewLoader()
	config, err := loader.Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config == nil {
		t.Fatal("expected non-nil config")
	}

	if config.Application.Name != "test-shuffle" {
		t.Errorf("Application.Name = %s, want test-shuffle", config.Application.Name)
	}
	if config.Pool.SegmentSizeBytes != 4096 {
		t.Errorf("Pool.SegmentSizeBytes = %d, want 4096", config.Pool.SegmentSizeBytes)
	}
	if config.Spill.Dir != "/tmp/shuffle-test" {
		t.Errorf("Spill.Dir = %s, want /tmp/shuffle-test", config.Spill.Dir)
	}
	if config.Workload.Partitions != 2 {
		t.Errorf("Workload.Partitions = %d, want 2", config.Workload.Partitions)
	}
}

func TestLoader_DefaultsApplied(t *testing.T) {
	loader := NewLoader()
	config, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if config.Pool.SegmentSizeBytes != 32*1024 {
		t.Errorf("default Pool.SegmentSizeBytes = %d, want %d", config.Pool.SegmentSizeBytes, 32*1024)
	}
	if config.Spill.FilePrefix != "shuffle-" {
		t.Errorf("default Spill.FilePrefix = %q, want %q", config.Spill.FilePrefix, "shuffle-")
	}
	if !config.Spill.SyncOnFinish {
		t.Error("default Spill.SyncOnFinish should be true")
	}
	if config.Observability.Metrics.Port != 9090 {
		t.Errorf("default metrics port = %d, want 9090", config.Observability.Metrics.Port)
	}
}

func TestLoader_Validate(t *testing.T) {
	valid := func() *dto.ApplicationConfig {
		return &dto.ApplicationConfig{
			Pool: dto.PoolConfig{SegmentSizeBytes: 4096, Segments: 8, RequestTimeoutMS: 1000},
			Spill: dto.SpillConfig{
				Dir:        "/tmp",
				QueueDepth: 16,
			},
			Workload: dto.WorkloadConfig{Partitions: 2, PayloadBytes: 1024},
			Observability: dto.ObservabilityConfig{
				Metrics: dto.MetricsConfig{Port: 9090},
				Health:  dto.HealthConfig{Port: 8080},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*dto.ApplicationConfig)
		wantErr bool
	}{
		{"valid", func(c *dto.ApplicationConfig) {}, false},
		{"zero segment size", func(c *dto.ApplicationConfig) { c.Pool.SegmentSizeBytes = 0 }, true},
		{"zero segments", func(c *dto.ApplicationConfig) { c.Pool.Segments = 0 }, true},
		{"zero request timeout", func(c *dto.ApplicationConfig) { c.Pool.RequestTimeoutMS = 0 }, true},
		{"empty spill dir", func(c *dto.ApplicationConfig) { c.Spill.Dir = "" }, true},
		{"zero queue depth", func(c *dto.ApplicationConfig) { c.Spill.QueueDepth = 0 }, true},
		{"zero partitions", func(c *dto.ApplicationConfig) { c.Workload.Partitions = 0 }, true},
		{"payload exceeds segment", func(c *dto.ApplicationConfig) { c.Workload.PayloadBytes = 8192 }, true},
		{"bad metrics port", func(c *dto.ApplicationConfig) { c.Observability.Metrics.Port = 0 }, true},
		{"bad health port", func(c *dto.ApplicationConfig) { c.Observability.Health.Port = 70000 }, true},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			err := loader.Validate(config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("SHUFFLE_POOL_SEGMENTS", "128")

	loader := NewLoader()
	config, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Pool.Segments != 128 {
		t.Errorf("Pool.Segments = %d, want 128 from environment", config.Pool.Segments)
	}
}
