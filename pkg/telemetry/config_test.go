package telemetry

import (
	"testing"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected the default config to validate, got: %v", err)
	}

	if cfg.ServiceName != "rigup" {
		t.Errorf("Expected service name rigup, got %s", cfg.ServiceName)
	}
	if cfg.Tracing.Enabled {
		t.Error("Expected tracing disabled by default")
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected info level, got %s", cfg.Logging.Level)
	}
}

func TestConfig_Validate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing service name",
			mutate: func(c *Config) { c.ServiceName = "" },
		},
		{
			name:   "missing service version",
			mutate: func(c *Config) { c.ServiceVersion = "" },
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
		},
		{
			name: "bad trace exporter when enabled",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
		},
		{
			name:   "sampling rate out of range",
			mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 },
		},
		{
			name: "metrics enabled without address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestConfig_Validate_DisabledSubsystemsAreLenient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracing.Exporter = "jaeger"
	cfg.Metrics.ListenAddress = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected disabled subsystems not to be validated, got: %v", err)
	}
}
