package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/forager/internal/config"
	"github.com/basket/forager/internal/cron"
	"github.com/basket/forager/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Dialer opens the TCP connection used to probe world bridges.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	return RunWith(ctx, cfg, version, (&net.Dialer{}).DialContext)
}

// RunWith is Run with an explicit bridge dialer.
func RunWith(ctx context.Context, cfg *config.Config, version string, dial Dialer) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkAPIKey,
		checkDatabase,
		checkPermissions,
		checkIdleSchedule,
		func(ctx context.Context, cfg *config.Config) CheckResult { return checkBridges(ctx, cfg, dial) },
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.FirstRun {
		return CheckResult{Name: "Config", Status: "WARN", Message: "config.yaml missing, defaults in use"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s (%d agents)", cfg.HomeDir, len(cfg.EnabledAgents()))}
}

// checkAPIKey warns rather than fails: without a key, capability synthesis
// is simply disabled.
func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "API Key", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.LLMAPIKey() != "" {
		return CheckResult{Name: "API Key", Status: "PASS", Message: fmt.Sprintf("Key available for %s", cfg.LLM.Provider)}
	}
	return CheckResult{
		Name:    "API Key",
		Status:  "WARN",
		Message: fmt.Sprintf("No API key for %s provider, capability synthesis disabled", cfg.LLM.Provider),
		Detail:  "Set llm.api_key_env in config.yaml or the provider's standard variable",
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	v, err := store.SchemaVersion(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: fmt.Sprintf("Schema version %d", v), Detail: cfg.DBPath}
}

func checkPermissions(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkIdleSchedule(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Idle Schedule", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.Idle.Enabled {
		return CheckResult{Name: "Idle Schedule", Status: "SKIP", Message: "Idle goals disabled"}
	}
	next, err := cron.NextRunTime(cfg.Idle.Schedule, time.Now())
	if err != nil {
		return CheckResult{Name: "Idle Schedule", Status: "FAIL", Message: fmt.Sprintf("Invalid schedule %q: %v", cfg.Idle.Schedule, err)}
	}
	return CheckResult{Name: "Idle Schedule", Status: "PASS", Message: fmt.Sprintf("Next firing %s", next.Format(time.RFC3339))}
}

// checkBridges probes each enabled agent's world endpoint with a TCP dial.
func checkBridges(ctx context.Context, cfg *config.Config, dial Dialer) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "World Bridges", Status: "SKIP", Message: "Config missing"}
	}
	agents := cfg.EnabledAgents()
	var failed, details []string
	for _, a := range agents {
		addr, err := endpointAddr(a.Endpoint)
		if err != nil {
			failed = append(failed, a.ID)
			details = append(details, fmt.Sprintf("%s: %v", a.ID, err))
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		conn, err := dial(dctx, "tcp", addr)
		cancel()
		if err != nil {
			failed = append(failed, a.ID)
			details = append(details, fmt.Sprintf("%s: %s unreachable", a.ID, addr))
			continue
		}
		_ = conn.Close()
		details = append(details, fmt.Sprintf("%s: ok", a.ID))
	}
	res := CheckResult{
		Name:    "World Bridges",
		Status:  "PASS",
		Message: fmt.Sprintf("%d/%d reachable", len(agents)-len(failed), len(agents)),
		Detail:  strings.Join(details, ", "),
	}
	if len(failed) > 0 {
		res.Status = "FAIL"
	}
	return res
}

// endpointAddr turns a ws:// or wss:// URL into host:port.
func endpointAddr(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "wss", "https":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	default:
		return net.JoinHostPort(u.Hostname(), "80"), nil
	}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.LLMAPIKey() == "" {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Synthesis disabled"}
	}

	provider := strings.ToLower(cfg.LLM.Provider)
	endpoints := map[string]string{
		"google":            "generativelanguage.googleapis.com",
		"anthropic":         "api.anthropic.com",
		"openai":            "api.openai.com",
		"openrouter":        "openrouter.ai",
		"openai_compatible": "api.openai.com",
	}

	host, ok := endpoints[provider]
	if cfg.LLM.BaseURL != "" {
		if u, err := url.Parse(cfg.LLM.BaseURL); err == nil && u.Hostname() != "" {
			host, ok = u.Hostname(), true
		}
	}
	if !ok {
		host = "generativelanguage.googleapis.com"
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds()),
		}
	}

	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("provider=%s, addresses=%v", provider, addrs),
	}
}
