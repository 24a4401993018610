package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/forager/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return home
}

func TestLoad_FromForagerHome(t *testing.T) {
	home := writeConfig(t, `
log_level: DEBUG
agents:
  - id: scout
    endpoint: ws://localhost:9000/agent
    token_env: SCOUT_TOKEN
scheduler:
  base_delay_ms: 250
  error_threshold: 3
`)
	t.Setenv("FORAGER_HOME", home)
	t.Setenv("SCOUT_TOKEN", "secret")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("expected home %q, got %q", home, cfg.HomeDir)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected normalized log level, got %q", cfg.LogLevel)
	}
	a, ok := cfg.Agent("scout")
	if !ok {
		t.Fatal("expected agent scout")
	}
	if a.Token() != "secret" {
		t.Fatalf("expected token from env, got %q", a.Token())
	}
	if cfg.Scheduler.BaseDelayMS != 250 || cfg.Scheduler.ErrorThreshold != 3 {
		t.Fatalf("unexpected scheduler config: %+v", cfg.Scheduler)
	}
	if cfg.FirstRun {
		t.Fatal("FirstRun should be false when config.yaml exists")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := writeConfig(t, "{}\n")

	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:18790" {
		t.Fatalf("unexpected bind addr %q", cfg.BindAddr)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].ID != config.DefaultAgentID {
		t.Fatalf("expected default agent, got %+v", cfg.Agents)
	}
	if cfg.LLM.Provider != "google" {
		t.Fatalf("expected google provider, got %q", cfg.LLM.Provider)
	}
	if cfg.DBPath != filepath.Join(home, "forager.db") {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}
	if !cfg.Idle.Enabled || cfg.Idle.Schedule == "" {
		t.Fatalf("expected idle defaults, got %+v", cfg.Idle)
	}
	if cfg.Telegram.DefaultAgent != config.DefaultAgentID {
		t.Fatalf("expected telegram default agent, got %q", cfg.Telegram.DefaultAgent)
	}
}

func TestLoad_FirstRunWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "fresh")
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.FirstRun {
		t.Fatal("expected FirstRun when config.yaml is missing")
	}
	if _, err := os.Stat(home); err != nil {
		t.Fatalf("expected home directory to be created: %v", err)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := writeConfig(t, "bind_addr: 127.0.0.1:1\nscheduler:\n  base_delay_ms: 100\n")
	t.Setenv("FORAGER_BIND_ADDR", "0.0.0.0:9999")
	t.Setenv("FORAGER_BASE_DELAY_MS", "750")
	t.Setenv("FORAGER_WORLD_ENDPOINT", "ws://bridge:1/agent")

	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9999" {
		t.Fatalf("expected env bind addr, got %q", cfg.BindAddr)
	}
	if cfg.Scheduler.BaseDelayMS != 750 {
		t.Fatalf("expected env base delay, got %d", cfg.Scheduler.BaseDelayMS)
	}
	if cfg.Agents[0].Endpoint != "ws://bridge:1/agent" {
		t.Fatalf("expected env endpoint, got %q", cfg.Agents[0].Endpoint)
	}
}

func TestLoad_RejectsDuplicateAgents(t *testing.T) {
	home := writeConfig(t, `
agents:
  - id: a
    endpoint: ws://x
  - id: a
    endpoint: ws://y
`)
	_, err := config.LoadFrom(home)
	if err == nil || !strings.Contains(err.Error(), "more than once") {
		t.Fatalf("expected duplicate agent error, got %v", err)
	}
}

func TestLoad_RejectsBadBackoff(t *testing.T) {
	home := writeConfig(t, "scheduler:\n  backoff_multiplier: 0.5\n")
	if _, err := config.LoadFrom(home); err == nil {
		t.Fatal("expected backoff multiplier error")
	}
}

func TestLoad_TelegramRequiresToken(t *testing.T) {
	home := writeConfig(t, "telegram:\n  enabled: true\n")
	t.Setenv("TELEGRAM_TOKEN", "")
	if _, err := config.LoadFrom(home); err == nil {
		t.Fatal("expected telegram token error")
	}
}

func TestLoad_ParseError(t *testing.T) {
	home := writeConfig(t, "agents: [\n")
	if _, err := config.LoadFrom(home); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLLMAPIKey_Precedence(t *testing.T) {
	t.Setenv("MY_KEY", "from-custom-env")
	t.Setenv("ANTHROPIC_API_KEY", "from-provider-env")

	cfg := config.Config{LLM: config.LLMConfig{Provider: "anthropic", APIKeyEnv: "MY_KEY", APIKey: "yaml"}}
	if got := cfg.LLMAPIKey(); got != "from-custom-env" {
		t.Fatalf("expected custom env key, got %q", got)
	}
	cfg.LLM.APIKeyEnv = ""
	if got := cfg.LLMAPIKey(); got != "yaml" {
		t.Fatalf("expected yaml key, got %q", got)
	}
	cfg.LLM.APIKey = ""
	if got := cfg.LLMAPIKey(); got != "from-provider-env" {
		t.Fatalf("expected provider env key, got %q", got)
	}
}

func TestFingerprint_ChangesWithAgents(t *testing.T) {
	a := config.Config{BindAddr: "x", Agents: []config.AgentConfig{{ID: "a", Endpoint: "ws://1"}}}
	b := a
	b.Agents = []config.AgentConfig{{ID: "a", Endpoint: "ws://2"}}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected fingerprint to change with agent endpoint")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatal("fingerprint must be stable")
	}
}

func TestWriteDefault(t *testing.T) {
	home := t.TempDir()
	if err := config.WriteDefault(home); err != nil {
		t.Fatalf("write default: %v", err)
	}
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if cfg.FirstRun {
		t.Fatal("expected config.yaml to exist after WriteDefault")
	}
	if cfg.Agents[0].ID != config.DefaultAgentID {
		t.Fatalf("unexpected agents %+v", cfg.Agents)
	}
}
