package doctor

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/forager/internal/config"
)

func TestCheckNetwork_SkipsWithoutKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	cfg := &config.Config{}
	cfg.LLM.Provider = "google"

	if result := checkNetwork(context.Background(), cfg); result.Status != "SKIP" {
		t.Fatalf("expected SKIP without a key, got %+v", result)
	}
}

func TestCheckNetwork_NilConfig(t *testing.T) {
	result := checkNetwork(context.Background(), nil)
	if result.Status != "SKIP" {
		t.Fatalf("expected SKIP for nil config, got %s", result.Status)
	}
}

func TestCheckNetwork_CanceledContext(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "sk-test"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := checkNetwork(ctx, cfg)
	if result.Status != "FAIL" {
		t.Fatalf("expected FAIL for canceled context, got %s", result.Status)
	}
}

func TestCheckAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := &config.Config{}
	cfg.LLM.Provider = "anthropic"
	if r := checkAPIKey(context.Background(), cfg); r.Status != "WARN" {
		t.Fatalf("expected WARN without key, got %+v", r)
	}
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	if r := checkAPIKey(context.Background(), cfg); r.Status != "PASS" {
		t.Fatalf("expected PASS with key, got %+v", r)
	}
}

func TestCheckDatabase(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	cfg.DBPath = filepath.Join(cfg.HomeDir, "forager.db")

	r := checkDatabase(context.Background(), cfg)
	if r.Status != "PASS" {
		t.Fatalf("expected PASS, got %+v", r)
	}
}

func TestCheckIdleSchedule(t *testing.T) {
	cfg := &config.Config{}
	cfg.Idle.Enabled = true
	cfg.Idle.Schedule = "*/5 * * * *"
	if r := checkIdleSchedule(context.Background(), cfg); r.Status != "PASS" {
		t.Fatalf("expected PASS, got %+v", r)
	}
	cfg.Idle.Schedule = "not a schedule"
	if r := checkIdleSchedule(context.Background(), cfg); r.Status != "FAIL" {
		t.Fatalf("expected FAIL, got %+v", r)
	}
	cfg.Idle.Enabled = false
	if r := checkIdleSchedule(context.Background(), cfg); r.Status != "SKIP" {
		t.Fatalf("expected SKIP, got %+v", r)
	}
}

func TestCheckBridges(t *testing.T) {
	cfg := &config.Config{Agents: []config.AgentConfig{
		{ID: "up", Endpoint: "ws://127.0.0.1:8765/agent"},
		{ID: "down", Endpoint: "wss://bridge.example/agent"},
		{ID: "off", Endpoint: "ws://127.0.0.1:9/agent", Disabled: true},
	}}
	var dialed []string
	dial := func(_ context.Context, _, addr string) (net.Conn, error) {
		dialed = append(dialed, addr)
		if addr == "127.0.0.1:8765" {
			c1, c2 := net.Pipe()
			_ = c2.Close()
			return c1, nil
		}
		return nil, errors.New("refused")
	}

	r := checkBridges(context.Background(), cfg, dial)
	if r.Status != "FAIL" || r.Message != "1/2 reachable" {
		t.Fatalf("unexpected result %+v", r)
	}
	if len(dialed) != 2 || dialed[1] != "bridge.example:443" {
		t.Fatalf("unexpected dials %v", dialed)
	}
}

func TestEndpointAddr(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "ws://127.0.0.1:8765/agent", want: "127.0.0.1:8765"},
		{in: "ws://bridge.local/agent", want: "bridge.local:80"},
		{in: "wss://bridge.example/agent", want: "bridge.example:443"},
		{in: "/agent", wantErr: true},
	}
	for _, tt := range tests {
		got, err := endpointAddr(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%s: got %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRunWith(t *testing.T) {
	cfg := &config.Config{HomeDir: t.TempDir()}
	cfg.DBPath = filepath.Join(cfg.HomeDir, "forager.db")
	refuse := func(context.Context, string, string) (net.Conn, error) { return nil, errors.New("refused") }

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d := RunWith(ctx, cfg, "test", refuse)
	if len(d.Results) != 7 {
		t.Fatalf("expected 7 checks, got %d", len(d.Results))
	}
	if d.System.Version != "test" {
		t.Fatalf("version = %q", d.System.Version)
	}
}
