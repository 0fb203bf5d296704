package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"funbot/internal/eventbus"
	"funbot/internal/storage"
	logx "funbot/pkg/logx"
)

// New builds a stopped scheduler. docs may be nil, in which case the table
// lives in memory only.
func New(cfg Config, docs storage.DocStore, eng Enqueuer, fire FireFunc, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		docs:   docs,
		engine: eng,
		fire:   fire,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		table:       map[string]map[string][]string{},
		entries:     map[Job]cron.EntryID{},
		lastEnqWarn: map[string]time.Time{},
		missed:      map[Job]int{},
	}
	s.loc = s.loadLocation()
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(cron.Recover(cronLogger{log: log})),
	)
	return s
}

// Start restores the persisted table and starts triggering. Entries with an
// invalid time are dropped with a warning.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.restore(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.c.Start()
	s.started = true
	n := len(s.entries)
	s.mu.Unlock()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", n))
	return nil
}

// Stop stops triggering and waits for a running cron callback until ctx is
// done. The table is kept.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.c
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restore(ctx context.Context) error {
	if s.docs == nil {
		return nil
	}
	b, ok, err := s.docs.Load(ctx, DocName)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	if !ok {
		s.log.Info("schedule table not found, creating")
		return s.persist(ctx)
	}
	table, err := decodeTable(b)
	if err != nil {
		s.log.Warn("schedule table invalid, starting empty", logx.Err(err))
		return nil
	}

	dropped := 0
	s.mu.Lock()
	for _, j := range table {
		if !IsValidTime(j.Time) || j.Group == "" || j.Command == "" {
			dropped++
			s.log.Warn("dropping invalid schedule", logx.String("group", j.Group), logx.String("cmd", j.Command), logx.String("time", j.Time))
			continue
		}
		if _, err := s.addLocked(j); err != nil {
			dropped++
			s.log.Error("schedule register failed", logx.String("job", j.ID()), logx.Err(err))
		}
	}
	s.mu.Unlock()

	if dropped > 0 {
		return s.persist(ctx)
	}
	return nil
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's logr-style output to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
