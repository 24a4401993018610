package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/basket/forager/internal/config"
	"github.com/basket/forager/internal/persistence"
)

const defaultHistoryRows = 20

// gatewayURL builds a URL for path on the configured bind address.
func gatewayURL(bindAddr, path string) string {
	addr := strings.TrimSpace(bindAddr)
	if addr == "" {
		addr = "127.0.0.1:18790"
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/") + path
	}
	// Normalize IPv6 host:port if needed.
	if host, port, err := net.SplitHostPort(addr); err == nil {
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr + path
}

// gatewayDo sends one request and copies the body to stdout. It returns the
// exit code for the subcommand.
func gatewayDo(ctx context.Context, cfg config.Config, method, path string, body any) int {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
		rd = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, gatewayURL(cfg.BindAddr, path), rd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		return 1
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.GatewayToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.GatewayToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", method, path, err)
		return 1
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	_, _ = os.Stdout.Write(out)
	if len(out) == 0 || out[len(out)-1] != '\n' {
		_, _ = os.Stdout.Write([]byte("\n"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 1
	}
	return 0
}

func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: forager status [agent]")
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	if len(args) == 1 {
		return gatewayDo(ctx, cfg, http.MethodGet, "/status?agent="+url.QueryEscape(args[0]), nil)
	}
	return gatewayDo(ctx, cfg, http.MethodGet, "/healthz", nil)
}

func runSendCommand(ctx context.Context, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: forager send <agent> <command...>")
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	return gatewayDo(ctx, cfg, http.MethodPost, "/command", map[string]string{
		"agent": args[0],
		"text":  strings.Join(args[1:], " "),
	})
}

// runHistoryCommand reads the database directly so it works while the
// daemon is down.
func runHistoryCommand(ctx context.Context, args []string) int {
	if len(args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: forager history [agent] [n]")
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	agentID := config.DefaultAgentID
	if enabled := cfg.EnabledAgents(); len(enabled) > 0 {
		agentID = enabled[0].ID
	}
	limit := defaultHistoryRows
	if len(args) > 0 {
		agentID = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "invalid row count %q\n", args[1])
			return 2
		}
		limit = n
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer store.Close()

	recs, err := store.ListTaskHistory(ctx, agentID, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		return 1
	}
	writeHistory(os.Stdout, agentID, recs)
	return 0
}

func writeHistory(w io.Writer, agentID string, recs []persistence.TaskRecord) {
	if len(recs) == 0 {
		fmt.Fprintf(w, "No history for %s.\n", agentID)
		return
	}
	for _, r := range recs {
		line := fmt.Sprintf("%s  %-8s %-16s %s (%s)",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Outcome, r.Type, r.Summary,
			r.Duration.Truncate(time.Millisecond))
		if r.Message != "" && r.Outcome != persistence.OutcomeSuccess {
			line += ": " + r.Message
		}
		fmt.Fprintln(w, line)
	}
}
