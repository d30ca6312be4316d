package observability

import (
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
	}{
		{"json info stdout", LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text debug stderr", LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"warn", LoggingConfig{Level: "warn"}},
		{"warning alias", LoggingConfig{Level: "warning"}},
		{"error", LoggingConfig{Level: "error"}},
		{"defaults for unknown values", LoggingConfig{Level: "trace", Format: "xml", Output: "syslog"}},
		{"empty config", LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
			logger.Debug("debug message", "key", "value")
			logger.Info("info message", "key", "value")
		})
	}
}
