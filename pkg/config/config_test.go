package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"SERVICE_NAME", "ENV", "LOG_LEVEL", "RELAY_PORT", "RELAY_WS_PORT",
		"RELAY_API_URL", "RELAY_API_KEY", "POLL_MAX_ATTEMPTS", "POLL_INTERVAL",
		"POLL_MAX_ATTEMPTS_SMART_ACCOUNT", "POLL_INTERVAL_SMART_ACCOUNT",
		"CHAIN_RPC_URLS", "EVENT_TRANSPORT", "RELAY_SUBSIDIZE_FEES",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServiceName != "relay-adapter" {
		t.Errorf("expected ServiceName=relay-adapter, got %s", cfg.ServiceName)
	}
	if cfg.Port != 9040 {
		t.Errorf("expected Port=9040, got %d", cfg.Port)
	}
	if cfg.RelayBaseURL != "https://api.relay.link" {
		t.Errorf("expected default relay URL, got %s", cfg.RelayBaseURL)
	}
	if cfg.PollMaxAttempts != 60 {
		t.Errorf("expected PollMaxAttempts=60, got %d", cfg.PollMaxAttempts)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("expected PollInterval=3s, got %v", cfg.PollInterval)
	}
	if cfg.PollMaxAttemptsSmartAccount != 100 {
		t.Errorf("expected PollMaxAttemptsSmartAccount=100, got %d", cfg.PollMaxAttemptsSmartAccount)
	}
	if cfg.PollIntervalSmartAccount != 5*time.Second {
		t.Errorf("expected PollIntervalSmartAccount=5s, got %v", cfg.PollIntervalSmartAccount)
	}
	if cfg.EventTransport != "nats" {
		t.Errorf("expected EventTransport=nats, got %s", cfg.EventTransport)
	}
	if !cfg.RelaySubsidizeFees {
		t.Error("expected RelaySubsidizeFees=true by default")
	}
	if len(cfg.ChainRPCURLs) != 0 {
		t.Errorf("expected no chain RPCs, got %v", cfg.ChainRPCURLs)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POLL_MAX_ATTEMPTS", "5")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("RELAY_SUBSIDIZE_FEES", "false")
	t.Setenv("CHAIN_RPC_URLS", "8453=https://base.example, 10=https://op.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PollMaxAttempts != 5 {
		t.Errorf("expected PollMaxAttempts=5, got %d", cfg.PollMaxAttempts)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("expected PollInterval=250ms, got %v", cfg.PollInterval)
	}
	if cfg.RelaySubsidizeFees {
		t.Error("expected RelaySubsidizeFees=false")
	}
	if cfg.ChainRPCURLs[8453] != "https://base.example" || cfg.ChainRPCURLs[10] != "https://op.example" {
		t.Errorf("unexpected chain RPCs: %v", cfg.ChainRPCURLs)
	}
}

func TestLoad_InvalidChainMap(t *testing.T) {
	t.Setenv("CHAIN_RPC_URLS", "base=https://base.example")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric chain id")
	}
}

func TestGetEnvHelpers_FallBackOnInvalid(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	t.Setenv("TEST_BOOL", "maybe")
	t.Setenv("TEST_DUR", "soon")

	if got := GetEnvInt("TEST_INT", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
	if got := GetEnvBool("TEST_BOOL", true); !got {
		t.Error("expected fallback true")
	}
	if got := GetEnvDuration("TEST_DUR", time.Second); got != time.Second {
		t.Errorf("expected fallback 1s, got %v", got)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " a, ,b ,c")
	got := GetEnvList("TEST_LIST")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("unexpected list: %v", got)
	}
}
