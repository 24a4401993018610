package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/basket/forager/internal/agent"
	"github.com/basket/forager/internal/capability"
	"github.com/basket/forager/internal/channels"
	"github.com/basket/forager/internal/commands"
	"github.com/basket/forager/internal/config"
	"github.com/basket/forager/internal/coord"
	"github.com/basket/forager/internal/cron"
	"github.com/basket/forager/internal/gateway"
	"github.com/basket/forager/internal/otel"
	"github.com/basket/forager/internal/pathcache"
	"github.com/basket/forager/internal/ratequeue"
	"github.com/basket/forager/internal/scheduler"
	"github.com/basket/forager/internal/synth"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// tuningFromConfig converts file units to scheduler.Tuning. Zero fields
// stay zero and take the scheduler defaults.
func tuningFromConfig(c config.SchedulerConfig) scheduler.Tuning {
	return scheduler.Tuning{
		BaseDelay:           ms(c.BaseDelayMS),
		IdleMultiplier:      c.IdleMultiplier,
		NightMultiplier:     c.NightMultiplier,
		DangerMultiplier:    c.DangerMultiplier,
		CriticalMultiplier:  c.CriticalMultiplier,
		BackoffBase:         ms(c.BackoffBaseMS),
		BackoffMultiplier:   c.BackoffMultiplier,
		BackoffMax:          ms(c.BackoffMaxMS),
		ErrorThreshold:      c.ErrorThreshold,
		HistorySize:         c.HistorySize,
		MaintenanceInterval: c.MaintenanceInterval,
		CriticalHealth:      c.CriticalHealth,
		CriticalFood:        c.CriticalFood,
		HostileRadius:       c.HostileRadius,
		ThreatCooldown:      time.Duration(c.ThreatCooldownSeconds) * time.Second,
		SynthesisTimeout:    time.Duration(c.SynthesisTimeoutSeconds) * time.Second,
	}
}

func rateQueueConfig(c config.RateQueueConfig, metrics *otel.Metrics, logger *slog.Logger) ratequeue.Config {
	return ratequeue.Config{
		Concurrency: c.Concurrency,
		Window:      time.Duration(c.WindowSeconds) * time.Second,
		MaxRequests: c.MaxRequests,
		MaxRetries:  c.MaxRetries,
		Logger:      logger,
		OnReject: func(class ratequeue.Class) {
			metrics.QueueReject(context.Background(), string(class))
		},
	}
}

// synthesizer returns nil when no model is configured, so resolvers skip
// synthesis entirely.
func synthesizer(ctx context.Context, cfg config.Config, q *ratequeue.Queue, logger *slog.Logger) capability.Synthesizer {
	key := cfg.LLMAPIKey()
	if key == "" {
		logger.Info("capability synthesis disabled", "reason", "no api key", "provider", cfg.LLM.Provider)
		return nil
	}
	gen := synth.NewGenkitGenerator(ctx, synth.LLMConfig{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   key,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if gen == nil {
		logger.Warn("capability synthesis disabled", "reason", "model init failed", "provider", cfg.LLM.Provider)
		return nil
	}
	return synth.New(synth.Config{Gen: gen, Queue: q, Logger: logger})
}

// sharedMaintainers expire stale claims and trim the path cache during each
// scheduler's maintenance pass. Both operations are idempotent across
// agents.
func sharedMaintainers(claims *coord.Coordinator, paths *pathcache.Cache, pathMaxAge time.Duration, logger *slog.Logger) []scheduler.Maintainer {
	return []scheduler.Maintainer{
		scheduler.MaintainFunc(func(context.Context) error {
			if n := claims.Expire(time.Now()); n > 0 {
				logger.Debug("expired claims", "count", n)
			}
			return nil
		}),
		scheduler.MaintainFunc(func(context.Context) error {
			if n := paths.Trim(pathMaxAge); n > 0 {
				logger.Debug("trimmed path cache", "count", n)
			}
			return nil
		}),
	}
}

// surfaces holds everything that addresses agents by ID and must follow
// the registry when agents come and go.
type surfaces struct {
	commands *commands.Handler
	gateway  *gateway.Server
	idle     *cron.Scheduler
}

func (s surfaces) refresh(reg *agent.Registry) {
	scheds := reg.Schedulers()
	if s.commands != nil {
		list := make([]commands.Agent, len(scheds))
		for i, sc := range scheds {
			list[i] = sc
		}
		s.commands.SetAgents(list)
	}
	if s.gateway != nil {
		list := make([]gateway.Agent, len(scheds))
		for i, sc := range scheds {
			list[i] = sc
		}
		s.gateway.SetAgents(list)
	}
	if s.idle != nil {
		list := make([]cron.Target, len(scheds))
		for i, sc := range scheds {
			list[i] = sc
		}
		s.idle.SetTargets(list)
	}
}

// telegramConfig builds the channel config, or false when the channel is
// off.
func telegramConfig(cfg config.Config, cmds channels.Commander, logger *slog.Logger) (channels.TelegramConfig, bool) {
	if !cfg.Telegram.Enabled || cfg.Telegram.Token == "" {
		return channels.TelegramConfig{}, false
	}
	return channels.TelegramConfig{
		Token:        cfg.Telegram.Token,
		AllowedIDs:   cfg.Telegram.AllowedIDs,
		DefaultAgent: cfg.Telegram.DefaultAgent,
		Commands:     cmds,
		Logger:       logger,
	}, true
}
