package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/basket/forager/internal/otel"
)

// AgentConfig names one agent and the world bridge it drives.
type AgentConfig struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
	// TokenEnv names the environment variable holding the bridge token.
	TokenEnv string `yaml:"token_env"`
	// Capabilities lists extra action names to dispatch remotely, on top of
	// the ones the bridge advertises in its hello frame.
	Capabilities []string `yaml:"capabilities"`
	Disabled     bool     `yaml:"disabled"`
}

// Token reads the bridge token from TokenEnv.
func (a AgentConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// SchedulerConfig mirrors scheduler.Tuning in file-friendly units. Zero
// values fall back to the scheduler defaults.
type SchedulerConfig struct {
	BaseDelayMS             int     `yaml:"base_delay_ms"`
	IdleMultiplier          float64 `yaml:"idle_multiplier"`
	NightMultiplier         float64 `yaml:"night_multiplier"`
	DangerMultiplier        float64 `yaml:"danger_multiplier"`
	CriticalMultiplier      float64 `yaml:"critical_multiplier"`
	BackoffBaseMS           int     `yaml:"backoff_base_ms"`
	BackoffMultiplier       float64 `yaml:"backoff_multiplier"`
	BackoffMaxMS            int     `yaml:"backoff_max_ms"`
	ErrorThreshold          int     `yaml:"error_threshold"`
	HistorySize             int     `yaml:"history_size"`
	MaintenanceInterval     int     `yaml:"maintenance_interval"`
	CriticalHealth          float64 `yaml:"critical_health"`
	CriticalFood            float64 `yaml:"critical_food"`
	HostileRadius           float64 `yaml:"hostile_radius"`
	ThreatCooldownSeconds   int     `yaml:"threat_cooldown_seconds"`
	SynthesisTimeoutSeconds int     `yaml:"synthesis_timeout_seconds"`
}

// IdleConfig drives idle-goal injection.
type IdleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// LLMConfig selects the model used for capability synthesis.
type LLMConfig struct {
	// Provider is one of "google", "anthropic", "openai", "openai_compatible", "openrouter".
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type RateQueueConfig struct {
	Concurrency   int `yaml:"concurrency"`
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
	MaxRetries    int `yaml:"max_retries"`
}

type PathCacheConfig struct {
	HitRadius     float64 `yaml:"hit_radius"`
	MaxEntries    int     `yaml:"max_entries"`
	MaxAgeSeconds int     `yaml:"max_age_seconds"`
}

type CoordinatorConfig struct {
	ClaimTTLSeconds int `yaml:"claim_ttl_seconds"`
}

type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
	// DefaultAgent receives commands that do not name an agent.
	DefaultAgent string `yaml:"default_agent"`
}

// RateLimitConfig bounds gateway requests per remote address.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

type RetentionConfig struct {
	HistoryDays int `yaml:"history_days"`
	AuditDays   int `yaml:"audit_days"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`
	// GatewayToken, when set, is required as a bearer token on mutating
	// gateway routes.
	GatewayToken string `yaml:"gateway_token"`
	DBPath       string `yaml:"db_path"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Agents      []AgentConfig     `yaml:"agents"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Idle        IdleConfig        `yaml:"idle"`
	LLM         LLMConfig         `yaml:"llm"`
	RateQueue   RateQueueConfig   `yaml:"rate_queue"`
	PathCache   PathCacheConfig   `yaml:"path_cache"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Telemetry   otel.Config       `yaml:"telemetry"`
	Retention   RetentionConfig   `yaml:"retention"`

	// FirstRun is set when no config.yaml existed.
	FirstRun bool `yaml:"-"`
}

// DefaultAgentID is used when config.yaml declares no agents.
const DefaultAgentID = "forager"

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// LLMAPIKey returns the synthesis API key: api_key_env, then api_key, then
// the provider's conventional variable.
func (c Config) LLMAPIKey() string {
	if c.LLM.APIKeyEnv != "" {
		if v := os.Getenv(c.LLM.APIKeyEnv); v != "" {
			return v
		}
	}
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	envMap := map[string]string{
		"google":            "GEMINI_API_KEY",
		"anthropic":         "ANTHROPIC_API_KEY",
		"openai":            "OPENAI_API_KEY",
		"openai_compatible": "OPENAI_API_KEY",
		"openrouter":        "OPENROUTER_API_KEY",
	}
	if envVar, ok := envMap[c.LLM.Provider]; ok {
		return os.Getenv(envVar)
	}
	return ""
}

// Agent returns the enabled agent with the given id.
func (c Config) Agent(id string) (AgentConfig, bool) {
	return lo.Find(c.EnabledAgents(), func(a AgentConfig) bool { return a.ID == id })
}

func (c Config) EnabledAgents() []AgentConfig {
	return lo.Filter(c.Agents, func(a AgentConfig, _ int) bool { return !a.Disabled })
}

// Fingerprint returns a stable hash of the settings that need a restart to
// take effect.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	ids := lo.Map(c.Agents, func(a AgentConfig, _ int) string { return a.ID + "@" + a.Endpoint })
	fmt.Fprintf(h, "bind=%s|log=%s|db=%s|agents=%v|llm=%s/%s|idle=%v/%s",
		c.BindAddr, c.LogLevel, c.DBPath, ids, c.LLM.Provider, c.LLM.Model, c.Idle.Enabled, c.Idle.Schedule)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18790",
		LogLevel: "info",
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Idle: IdleConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
		LLM: LLMConfig{Provider: "google"},
		RateQueue: RateQueueConfig{
			Concurrency:   2,
			WindowSeconds: 60,
			MaxRequests:   30,
			MaxRetries:    3,
		},
		PathCache: PathCacheConfig{
			HitRadius:     3,
			MaxEntries:    500,
			MaxAgeSeconds: 600,
		},
		Coordinator: CoordinatorConfig{ClaimTTLSeconds: 60},
		Telemetry: otel.Config{
			Exporter:    "otlp-http",
			ServiceName: "forager",
			SampleRate:  1,
		},
		Retention: RetentionConfig{
			HistoryDays: 30,
			AuditDays:   365,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("FORAGER_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".forager")
}

// Load reads config.yaml from HomeDir.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads homeDir/config.yaml, applies env overrides and defaults,
// and validates the result.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create forager home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.FirstRun = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "forager.db")
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if strings.TrimSpace(cfg.Idle.Schedule) == "" {
		cfg.Idle.Schedule = "*/5 * * * *"
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = []AgentConfig{{
			ID:       DefaultAgentID,
			Endpoint: "ws://127.0.0.1:8765/agent",
			TokenEnv: "FORAGER_WORLD_TOKEN",
		}}
	}
	for i := range cfg.Agents {
		cfg.Agents[i].ID = strings.TrimSpace(cfg.Agents[i].ID)
	}
	if cfg.Telegram.DefaultAgent == "" && len(cfg.Agents) > 0 {
		cfg.Telegram.DefaultAgent = cfg.Agents[0].ID
	}
	if cfg.Coordinator.ClaimTTLSeconds <= 0 {
		cfg.Coordinator.ClaimTTLSeconds = 60
	}
}

func validate(cfg Config) error {
	var errs []error
	for i, a := range cfg.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
		}
		if a.Endpoint == "" && !a.Disabled {
			errs = append(errs, fmt.Errorf("agent %q: endpoint is required", a.ID))
		}
	}
	dups := lo.FindDuplicatesBy(cfg.Agents, func(a AgentConfig) string { return a.ID })
	for _, d := range dups {
		errs = append(errs, fmt.Errorf("agent %q declared more than once", d.ID))
	}
	if len(cfg.EnabledAgents()) == 0 {
		errs = append(errs, errors.New("no enabled agents"))
	}
	s := cfg.Scheduler
	if s.BackoffMultiplier != 0 && s.BackoffMultiplier <= 1 {
		errs = append(errs, fmt.Errorf("scheduler.backoff_multiplier must be > 1, got %v", s.BackoffMultiplier))
	}
	if s.BackoffMaxMS != 0 && s.BackoffMaxMS < s.BackoffBaseMS {
		errs = append(errs, fmt.Errorf("scheduler.backoff_max_ms (%d) is below backoff_base_ms (%d)", s.BackoffMaxMS, s.BackoffBaseMS))
	}
	if s.ErrorThreshold < 0 || s.BaseDelayMS < 0 {
		errs = append(errs, errors.New("scheduler values must not be negative"))
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.enabled requires telegram.token or TELEGRAM_TOKEN"))
	}
	return errors.Join(errs...)
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("FORAGER_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("FORAGER_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("FORAGER_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("FORAGER_GATEWAY_TOKEN"); raw != "" {
		cfg.GatewayToken = raw
	}
	if raw := os.Getenv("FORAGER_BASE_DELAY_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Scheduler.BaseDelayMS = v
		}
	}
	if raw := os.Getenv("FORAGER_ERROR_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Scheduler.ErrorThreshold = v
		}
	}
	if raw := os.Getenv("FORAGER_IDLE_SCHEDULE"); raw != "" {
		cfg.Idle.Schedule = raw
	}
	if raw := os.Getenv("FORAGER_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("FORAGER_LLM_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("FORAGER_WORLD_ENDPOINT"); raw != "" && len(cfg.Agents) <= 1 {
		if len(cfg.Agents) == 0 {
			cfg.Agents = []AgentConfig{{ID: DefaultAgentID, TokenEnv: "FORAGER_WORLD_TOKEN"}}
		}
		cfg.Agents[0].Endpoint = raw
	}
	if raw := os.Getenv("FORAGER_OTEL_ENDPOINT"); raw != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
	}
}

// WriteDefault writes a starter config.yaml when none exists.
func WriteDefault(homeDir string) error {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	cfg := defaultConfig()
	cfg.Agents = []AgentConfig{{
		ID:       DefaultAgentID,
		Endpoint: "ws://127.0.0.1:8765/agent",
		TokenEnv: "FORAGER_WORLD_TOKEN",
	}}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create forager home: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}
