package config

import (
	"testing"
	"time"
)

// TestDefaultServerConfig verifies the keepalive defaults devices rely on
func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Port != 10000 {
		t.Errorf("Expected Port to be 10000, got %d", cfg.Port)
	}
	if cfg.PingInterval != 20*time.Second {
		t.Errorf("Expected PingInterval to be 20s, got %v", cfg.PingInterval)
	}
	if cfg.PingTimeout != 60*time.Second {
		t.Errorf("Expected PingTimeout to be 60s, got %v", cfg.PingTimeout)
	}
	if cfg.SendQueueSize <= 0 {
		t.Errorf("Expected a positive SendQueueSize, got %d", cfg.SendQueueSize)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v, want nil", err)
	}
	if !Default().Metrics.Enabled {
		t.Errorf("Expected metrics to be enabled by default")
	}
	if Default().Hub.Version != "2.0" {
		t.Errorf("Expected hub version 2.0, got %s", Default().Hub.Version)
	}
}
