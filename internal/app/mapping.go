package app

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"funbot/internal/config"
	"funbot/internal/content"
	"funbot/internal/content/localstore"
	"funbot/internal/content/provider"
	"funbot/internal/content/resolver"
	"funbot/internal/observability/server"
	"funbot/internal/storage"
	"funbot/internal/task/engine"
	"funbot/internal/task/scheduler"
	"funbot/internal/throttle"
	telegram "funbot/internal/transport/telegram/adapter"
	"funbot/internal/transport/telegram/router"
	logx "funbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{Driver: "file", Dir: "./data"}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Dir:         strings.TrimSpace(sc.Dir),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	var chatID int64
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		chatID, _ = strconv.ParseInt(g, 10, 64)
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && chatID != 0,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll}, nil
}

func mapProviderClientConfig(cfg *config.Config) (provider.Config, error) {
	to, err := config.ParseDurationField("content.request_timeout", cfg.Content.RequestTimeout)
	if err != nil {
		return provider.Config{}, err
	}
	return provider.Config{
		Timeout:      to,
		MaxBodyBytes: cfg.Content.MaxBodyBytes,
		RatePerSec:   cfg.Content.ProviderRatePerSec,
		Burst:        cfg.Content.ProviderBurst,
		UserAgent:    cfg.Content.UserAgent,
	}, nil
}

// mapProviderTable flattens the per-category provider lists in a stable
// category order.
func mapProviderTable(cfg *config.Config) content.ProviderTable {
	cats := make([]string, 0, len(cfg.Content.Providers))
	for c := range cfg.Content.Providers {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var specs []content.ProviderSpec
	for _, cat := range cats {
		for _, e := range cfg.Content.Providers[cat] {
			spec := content.ProviderSpec{
				Category: cat,
				URL:      strings.TrimSpace(e.URL),
				Shape:    content.Shape(strings.ToLower(strings.TrimSpace(e.Shape))),
			}
			if len(e.Params) > 0 {
				spec.Params = url.Values{}
				for k, v := range e.Params {
					spec.Params.Set(k, v)
				}
			}
			specs = append(specs, spec)
		}
	}
	return content.NewProviderTable(specs)
}

func mapLocalStoreConfig(cfg *config.Config) (localstore.Config, error) {
	lc := cfg.Content.Local
	busy, err := config.ParseDurationField("content.local.busy_timeout", lc.BusyTimeout)
	if err != nil {
		return localstore.Config{}, err
	}
	tables := make(map[string]localstore.Table, len(lc.Tables))
	for cat, t := range lc.Tables {
		tables[cat] = localstore.Table{
			Table:          t.Table,
			Column:         t.Column,
			Kind:           localstore.TableKind(strings.ToLower(strings.TrimSpace(t.Kind))),
			QuestionColumn: t.QuestionColumn,
			AnswerColumn:   t.AnswerColumn,
			ProcessBR:      t.ProcessBR,
		}
	}
	return localstore.Config{
		Path:        strings.TrimSpace(lc.DBPath),
		PoolSize:    lc.PoolSize,
		BusyTimeout: busy,
		Tables:      tables,
	}, nil
}

func mapResolverConfig(cfg *config.Config) (resolver.Config, error) {
	h := cfg.Content.Health
	base, err := config.ParseDurationField("content.health.base_delay", h.BaseDelay)
	if err != nil {
		return resolver.Config{}, err
	}
	maxD, err := config.ParseDurationField("content.health.max_delay", h.MaxDelay)
	if err != nil {
		return resolver.Config{}, err
	}
	reset, err := config.ParseDurationField("content.health.reset_after", h.ResetAfter)
	if err != nil {
		return resolver.Config{}, err
	}
	return resolver.Config{
		LocalCategories: append([]string(nil), cfg.Content.Local.Categories...),
		Labels:          cfg.Content.Labels,
		RankedHeader:    cfg.Content.RankedHeader,
		Media: resolver.MediaConfig{
			TempDir:   cfg.Content.Media.TempDir,
			Transcode: append([]string(nil), cfg.Content.Media.Transcode...),
			OutputExt: cfg.Content.Media.OutputExt,
		},
		Health: resolver.HealthConfig{Trip: h.Trip, BaseDelay: base, MaxDelay: maxD, ResetAfter: reset},
	}, nil
}

func mapLedgerConfig(cfg *config.Config) (throttle.Config, error) {
	def, per, err := cfg.CooldownDurations()
	if err != nil {
		return throttle.Config{}, err
	}
	return throttle.Config{Default: def, PerCommand: per}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := config.TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
	}
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size and history_size must be >= 0")
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	to, err := config.ParseDurationField("scheduler.timeout", cfg.Scheduler.Timeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone), Timeout: to}, nil
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	to, err := config.ParseDurationField("commands.timeout", cfg.Commands.Timeout)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{Workers: cfg.Commands.Workers, Timeout: to}, nil
}

func mapScheduledParams(cfg *config.Config) map[string]url.Values {
	out := make(map[string]url.Values, len(cfg.Commands.ScheduledParams))
	for cmd, params := range cfg.Commands.ScheduledParams {
		v := url.Values{}
		for k, val := range params {
			v.Set(k, val)
		}
		out[cmd] = v
	}
	return out
}

// mapServerConfig merges the pprof and metrics sections into one listener.
// Metrics without pprof listen on metrics.addr when it is set.
func mapServerConfig(cfg *config.Config) (server.Config, error) {
	p := cfg.Pprof
	out := server.Config{
		Addr:                 p.Addr,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		Pprof:                p.Enabled,
		PprofPrefix:          p.Prefix,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}
	if cfg.Metrics.Enabled {
		out.MetricsPath = cfg.Metrics.Path
		if !p.Enabled && strings.TrimSpace(cfg.Metrics.Addr) != "" {
			out.Addr = cfg.Metrics.Addr
		}
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("pprof.read_timeout", p.ReadTimeout); err != nil {
		return server.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("pprof.write_timeout", p.WriteTimeout); err != nil {
		return server.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("pprof.idle_timeout", p.IdleTimeout); err != nil {
		return server.Config{}, err
	}
	return out, nil
}
