package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/basket/forager/internal/agent"
	"github.com/basket/forager/internal/audit"
	"github.com/basket/forager/internal/bus"
	"github.com/basket/forager/internal/channels"
	"github.com/basket/forager/internal/commands"
	"github.com/basket/forager/internal/config"
	"github.com/basket/forager/internal/coord"
	"github.com/basket/forager/internal/cron"
	"github.com/basket/forager/internal/gateway"
	otelPkg "github.com/basket/forager/internal/otel"
	"github.com/basket/forager/internal/pathcache"
	"github.com/basket/forager/internal/persistence"
	"github.com/basket/forager/internal/ratequeue"
	"github.com/basket/forager/internal/telemetry"
	"github.com/basket/forager/internal/tui"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

const drainTimeout = 5 * time.Second

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %[1]s:

INTERACTIVE MODE (default):
  %[1]s                          Run all agents with the status dashboard

DAEMON MODE:
  %[1]s -daemon                  Run all agents, logs to stdout

SUBCOMMANDS:
  %[1]s status [agent]           Show gateway health, or one agent's status
  %[1]s send <agent> <command>   Send a command, e.g. "gather 8" or "goto 10 64 -3"
  %[1]s history [agent] [n]      Show recent task history from the database
  %[1]s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  FORAGER_HOME            Data directory (default: ~/.forager)
  FORAGER_NO_TUI          Set to 1 to disable the dashboard
  FORAGER_WORLD_ENDPOINT  World bridge URL for the default agent
  GEMINI_API_KEY          Enables capability synthesis with the google provider
`)
}

func main() {
	_ = godotenv.Load(".env")

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("FORAGER_NO_TUI") == ""
	daemon := flag.Bool("daemon", false, "run in daemon mode (no dashboard, logs to stdout)")
	flag.Usage = printUsage
	flag.Parse()

	if *daemon {
		interactive = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "send":
			os.Exit(runSendCommand(ctx, args[1:]))
		case "history":
			os.Exit(runHistoryCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	run(ctx, stop, interactive)
}

func run(ctx context.Context, stop context.CancelFunc, interactive bool) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if cfg.FirstRun {
		if err := config.WriteDefault(cfg.HomeDir); err != nil {
			fatalStartup(nil, "E_CONFIG_WRITE", err)
		}
	}
	_ = godotenv.Load(filepath.Join(cfg.HomeDir, ".env"))

	// Audit starts before the logger so logger failures are audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "first_run", cfg.FirstRun)

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated", "db", cfg.DBPath)

	// Shared by every agent: one path cache, one claim table, one LLM queue.
	pathMaxAge := time.Duration(cfg.PathCache.MaxAgeSeconds) * time.Second
	paths := pathcache.New(pathcache.Config{HitRadius: cfg.PathCache.HitRadius, MaxEntries: cfg.PathCache.MaxEntries})
	claims := coord.New(time.Now)
	llmQueue := ratequeue.New(rateQueueConfig(cfg.RateQueue, metrics, logger))
	defer llmQueue.Close()

	registry := agent.NewRegistry(agent.Deps{
		Bus:         eventBus,
		Sink:        persistence.Sink{Store: store},
		Paths:       paths,
		PathMaxAge:  pathMaxAge,
		Claims:      claims,
		ClaimTTL:    time.Duration(cfg.Coordinator.ClaimTTLSeconds) * time.Second,
		Synth:       synthesizer(ctx, cfg, llmQueue, logger),
		Metrics:     metrics,
		Tracer:      otelProvider.Tracer,
		Tuning:      tuningFromConfig(cfg.Scheduler),
		Maintainers: sharedMaintainers(claims, paths, pathMaxAge, logger),
		Logger:      logger,
	})

	for _, acfg := range cfg.EnabledAgents() {
		if err := registry.CreateAgent(ctx, acfg); err != nil {
			fatalStartup(logger, "E_AGENT_CREATE", err)
		}
	}
	logger.Info("startup phase", "phase", "agents_started", "count", len(cfg.EnabledAgents()))

	cmds := commands.NewHandler(nil, store, claims, logger)
	gw := gateway.New(gateway.Config{
		Commands:          cmds,
		DB:                store.DB(),
		Bus:               eventBus,
		AuthToken:         cfg.GatewayToken,
		RateLimit:         cfg.RateLimit,
		Tracer:            otelProvider.Tracer,
		ConfigFingerprint: cfg.Fingerprint(),
		Logger:            logger,
	})
	gw.Limiter().StartEviction(ctx, time.Minute, 10*time.Minute)

	var idle *cron.Scheduler
	if cfg.Idle.Enabled {
		idle, err = cron.NewScheduler(cron.Config{Schedule: cfg.Idle.Schedule, KV: store, Logger: logger})
		if err != nil {
			fatalStartup(logger, "E_IDLE_SCHEDULE", err)
		}
	}
	surf := surfaces{commands: cmds, gateway: gw, idle: idle}
	surf.refresh(registry)
	if idle != nil {
		idle.Start(ctx)
		defer idle.Stop()
	}

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	ln, err := listen(ctx, cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_GATEWAY_BIND", fmt.Errorf("%w\n\n  %s", err, portOccupantHint(cfg.BindAddr)))
		}
		fatalStartup(logger, "E_GATEWAY_BIND", err)
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if tcfg, ok := telegramConfig(cfg, cmds, logger); ok {
		tcfg.Bus = eventBus
		var ch channels.Channel = channels.NewTelegramChannel(tcfg)
		go func() {
			if err := ch.Start(ctx); err != nil {
				logger.Error("channel failed", "channel", ch.Name(), "error", err)
			}
		}()
	}

	go runRetention(ctx, store, cfg.Retention, logger)
	go watchConfig(ctx, cfg, registry, surf, logger)

	if interactive {
		started := time.Now()
		provider := func() tui.Snapshot {
			return tui.Snapshot{
				DBOK:       store.DB().PingContext(ctx) == nil,
				Agents:     registry.Statuses(),
				Claims:     len(claims.Status().Active),
				BusDropped: eventBus.Dropped(),
				Uptime:     time.Since(started),
			}
		}
		go func() {
			if err := tui.Run(ctx, provider, eventBus); err != nil && ctx.Err() == nil {
				logger.Error("dashboard exited with error", "error", err)
			}
			stop()
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Stop intake first, then drain the loops.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	registry.DrainAll(drainTimeout)
	logger.Info("shutdown complete")
}

// listen binds with SO_REUSEADDR so a quick restart does not trip over
// TIME_WAIT sockets.
func listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	return lc.Listen(ctx, "tcp", addr)
}

func runRetention(ctx context.Context, store *persistence.Store, rc config.RetentionConfig, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := store.RunRetention(ctx, rc.HistoryDays, rc.AuditDays)
			if err != nil {
				logger.Error("retention job failed", "error", err)
			} else if result.PurgedHistory+result.PurgedAuditLogs > 0 {
				logger.Info("retention job completed",
					"purged_history", result.PurgedHistory,
					"purged_audit_logs", result.PurgedAuditLogs,
				)
			}
		}
	}
}

// watchConfig applies config.yaml edits: log level and scheduler tuning
// immediately, and the agent set through the registry. Settings covered by
// the fingerprint otherwise need a restart.
func watchConfig(ctx context.Context, current config.Config, reg *agent.Registry, surf surfaces, logger *slog.Logger) {
	w := config.NewWatcher(current.HomeDir, logger)
	if err := w.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return
	}
	for ev := range w.Events() {
		next, err := config.LoadFrom(current.HomeDir)
		if err != nil {
			logger.Error("config reload rejected", "path", ev.Path, "error", err)
			continue
		}
		telemetry.SetLevel(next.LogLevel)
		res := reg.Reconcile(ctx, next.EnabledAgents(), tuningFromConfig(next.Scheduler), drainTimeout)
		surf.refresh(reg)
		for id, err := range res.Failed {
			logger.Warn("agent reconcile failed", "agent_id", id, "error", err)
		}
		logger.Info("config reloaded",
			"retuned", res.Retuned,
			"started", res.Started,
			"removed", res.Removed,
			"restart_required", next.Fingerprint() != current.Fingerprint(),
		)
		current = next
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return errors.Is(sysErr.Err, syscall.EADDRINUSE)
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	out, err := execCommand("lsof", "-ti", ":"+port)
	if err == nil && strings.TrimSpace(out) != "" {
		pids := strings.TrimSpace(out)
		return fmt.Sprintf("Port %s is occupied by PID %s. Kill it with: kill %s", port, pids, pids)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or change bind_addr in config.yaml.", port)
}

func execCommand(name string, args ...string) (string, error) {
	cmd := execCommandFunc(name, args...)
	out, err := cmd.Output()
	return string(out), err
}

var execCommandFunc = newExecCommand

func newExecCommand(name string, args ...string) *exec.Cmd {
	return exec.Command(name, args...)
}
