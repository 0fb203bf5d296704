package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"funbot/internal/content"
	"funbot/internal/eventbus"
	"funbot/internal/task/engine"
	logx "funbot/pkg/logx"
)

// Add registers a daily delivery of cmd to group at hhmm (scheduler
// timezone). It reports false when the exact entry already exists. The entry
// is recorded only after cron accepted it.
func (s *Service) Add(ctx context.Context, group, cmd, hhmm string) (bool, error) {
	if !IsValidTime(hhmm) {
		return false, fmt.Errorf("%w: %q", content.ErrInvalidTimeFormat, hhmm)
	}
	if group == "" || cmd == "" {
		return false, fmt.Errorf("%w: group and command required", content.ErrInvalidArguments)
	}
	if strings.Contains(group, idSep) || strings.Contains(cmd, idSep) {
		return false, fmt.Errorf("%w: %q is not allowed in group or command", content.ErrInvalidArguments, idSep)
	}
	j := Job{Group: group, Command: cmd, Time: hhmm}

	s.mu.Lock()
	added, err := s.addLocked(j)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("schedule register failed", logx.String("job", j.ID()), logx.Err(err))
		return false, err
	}
	if !added {
		return false, nil
	}
	s.log.Info("schedule added", logx.String("group", group), logx.String("cmd", cmd), logx.String("time", hhmm))
	return true, s.persist(ctx)
}

// Remove unregisters one entry. It reports false when it did not exist.
func (s *Service) Remove(ctx context.Context, group, cmd, hhmm string) (bool, error) {
	j := Job{Group: group, Command: cmd, Time: hhmm}
	s.mu.Lock()
	removed := s.removeLocked(j)
	s.mu.Unlock()
	if !removed {
		return false, nil
	}
	s.log.Info("schedule removed", logx.String("group", group), logx.String("cmd", cmd), logx.String("time", hhmm))
	return true, s.persist(ctx)
}

// Status returns a copy of group's entries with sorted times.
func (s *Service) Status(group string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.table[group]))
	for cmd, times := range s.table[group] {
		out[cmd] = append([]string(nil), times...)
	}
	return out
}

// Groups lists groups with at least one entry, sorted.
func (s *Service) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.table))
	for g := range s.table {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Clear removes every entry.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.entries)
	for j := range s.entries {
		s.removeLocked(j)
	}
	s.mu.Unlock()
	s.log.Info("schedules cleared", logx.Int("removed", n))
	return s.persist(ctx)
}

// Flush writes the current table.
func (s *Service) Flush(ctx context.Context) error { return s.persist(ctx) }

func (s *Service) addLocked(j Job) (bool, error) {
	if _, ok := s.entries[j]; ok {
		return false, nil
	}
	h, _ := strconv.Atoi(j.Time[:2])
	m, _ := strconv.Atoi(j.Time[3:])
	spec := fmt.Sprintf("%d %d * * *", m, h)
	id, err := s.c.AddJob(spec, cron.FuncJob(func() { s.trigger(j) }))
	if err != nil {
		return false, fmt.Errorf("register %s: %w", j.ID(), err)
	}
	s.entries[j] = id

	inner := s.table[j.Group]
	if inner == nil {
		inner = map[string][]string{}
		s.table[j.Group] = inner
	}
	times := append(inner[j.Command], j.Time)
	sort.Strings(times)
	inner[j.Command] = times
	return true, nil
}

func (s *Service) removeLocked(j Job) bool {
	id, ok := s.entries[j]
	if !ok {
		return false
	}
	s.c.Remove(id)
	delete(s.entries, j)

	inner := s.table[j.Group]
	times := inner[j.Command][:0]
	for _, t := range inner[j.Command] {
		if t != j.Time {
			times = append(times, t)
		}
	}
	if len(times) == 0 {
		delete(inner, j.Command)
	} else {
		inner[j.Command] = times
	}
	if len(inner) == 0 {
		delete(s.table, j.Group)
	}
	return true
}

// trigger is the cron callback. It only enqueues.
func (s *Service) trigger(j Job) {
	ev := FiredEvent{Job: j}
	if s.engine == nil || s.fire == nil {
		return
	}
	id, err := s.engine.Enqueue(engine.Task{
		Name:    j.ID(),
		Timeout: s.cfg.Timeout,
		Overlap: engine.OverlapSkipIfRunning,
		Run:     func(ctx context.Context) error { return s.fire(ctx, j) },
	})
	ev.TaskID = id
	if err != nil {
		ev.Error = err.Error()
		s.reportEnqueueError(j, err)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleFired, Data: ev})
	}
}

func (s *Service) snapshotTable() map[string]map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string][]string, len(s.table))
	for g, cmds := range s.table {
		inner := make(map[string][]string, len(cmds))
		for c, times := range cmds {
			inner[c] = append([]string(nil), times...)
		}
		out[g] = inner
	}
	return out
}

func (s *Service) persist(ctx context.Context) error {
	if s.docs == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	b, err := json.MarshalIndent(s.snapshotTable(), "", "  ")
	if err != nil {
		return err
	}
	if err := s.docs.Save(ctx, DocName, append(b, '\n')); err != nil {
		s.log.Error("persist schedules failed", logx.Err(err))
		return fmt.Errorf("persist schedules: %w", err)
	}
	return nil
}

// decodeTable flattens a persisted document into jobs in a stable order.
func decodeTable(b []byte) ([]Job, error) {
	var m map[string]map[string][]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	var out []Job
	for g, cmds := range m {
		for c, times := range cmds {
			for _, t := range times {
				out = append(out, Job{Group: g, Command: c, Time: t})
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID() < out[b].ID() })
	return out, nil
}
