package shared

import (
	"context"
	"strings"
	"testing"
)

func TestRedact_Bearer(t *testing.T) {
	if got := Redact("Bearer abc123def456ghi789jkl0"); got != "Bearer [REDACTED]" {
		t.Fatalf("got %q", got)
	}
}

func TestRedact_EndpointToken(t *testing.T) {
	got := Redact("dial ws://127.0.0.1:3000/bridge?agent=a1&token=s3cr3tvalue")
	if strings.Contains(got, "s3cr3tvalue") {
		t.Fatalf("token leaked: %q", got)
	}
	if !strings.Contains(got, "agent=a1") {
		t.Fatalf("non-secret query mangled: %q", got)
	}
}

func TestRedact_ProviderKeys(t *testing.T) {
	for _, in := range []string{
		"key is AIzaSyA1234567890abcdefghijklmnopqrstuvwx",
		"using sk-ant-REDACTED",
		"bot 123456789:AAHfiqksKZ8WmR2zSjiQ7_v4TMAKdiHm9T0",
		`api_key=abcdef1234567890abcdef`,
	} {
		if got := Redact(in); got == in {
			t.Fatalf("expected redaction of %q", in)
		}
	}
}

func TestRedact_PlainText(t *testing.T) {
	for _, in := range []string{"", "gather_wood 10 logs within 32 blocks"} {
		if got := Redact(in); got != in {
			t.Fatalf("Redact(%q) = %q", in, got)
		}
	}
}

func TestRedactValue(t *testing.T) {
	cases := []struct{ key, value, want string }{
		{"FORAGER_TELEGRAM_TOKEN", "abc", "[REDACTED]"},
		{"GEMINI_API_KEY", "abc", "[REDACTED]"},
		{"FORAGER_BIND_ADDR", "127.0.0.1:18790", "127.0.0.1:18790"},
	}
	for _, tc := range cases {
		if got := RedactValue(tc.key, tc.value); got != tc.want {
			t.Fatalf("RedactValue(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if AgentID(ctx) != "" || TaskID(ctx) != "" || TraceID(ctx) != "-" || Iteration(ctx) != 0 {
		t.Fatal("expected empty defaults")
	}
	ctx = WithAgentID(ctx, "a1")
	ctx = WithTaskID(ctx, "t1")
	ctx = WithTraceID(ctx, "tr")
	ctx = WithIteration(ctx, 42)
	if AgentID(ctx) != "a1" || TaskID(ctx) != "t1" || TraceID(ctx) != "tr" || Iteration(ctx) != 42 {
		t.Fatal("round trip failed")
	}
}
