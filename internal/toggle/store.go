// Package toggle keeps per-group command enablement. Absent entries mean
// enabled.
package toggle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"funbot/internal/storage"
	logx "funbot/pkg/logx"
)

// DocName is the storage document holding the toggle table.
const DocName = "toggles"

type Store struct {
	docs storage.DocStore
	log  logx.Logger

	mu sync.RWMutex
	m  map[string]map[string]bool

	// persistMu serializes writes; each write snapshots the table after
	// acquiring it so the last write always carries the newest state.
	persistMu sync.Mutex
}

func New(docs storage.DocStore, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{docs: docs, log: log, m: map[string]map[string]bool{}}
}

// Load replaces the in-memory table with the persisted document. A missing
// document is created empty; an unreadable one is logged and ignored.
func (s *Store) Load(ctx context.Context) error {
	if s.docs == nil {
		return nil
	}
	b, ok, err := s.docs.Load(ctx, DocName)
	if err != nil {
		return fmt.Errorf("load toggles: %w", err)
	}
	if !ok {
		s.log.Info("toggle table not found, creating")
		return s.persist(ctx)
	}
	var m map[string]map[string]bool
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("toggle table invalid, starting empty", logx.Err(err))
		m = nil
	}
	clean := make(map[string]map[string]bool, len(m))
	for g, cmds := range m {
		if len(cmds) == 0 {
			continue
		}
		inner := make(map[string]bool, len(cmds))
		for c, v := range cmds {
			inner[c] = v
		}
		clean[g] = inner
	}
	s.mu.Lock()
	s.m = clean
	s.mu.Unlock()
	return nil
}

// IsEnabled never inserts on read.
func (s *Store) IsEnabled(group, cmd string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[group][cmd]
	return !ok || v
}

func (s *Store) Enable(ctx context.Context, group, cmd string) error {
	return s.set(ctx, group, cmd, true)
}

func (s *Store) Disable(ctx context.Context, group, cmd string) error {
	return s.set(ctx, group, cmd, false)
}

func (s *Store) set(ctx context.Context, group, cmd string, v bool) error {
	s.mu.Lock()
	s.setLocked(group, cmd, v)
	s.mu.Unlock()
	s.log.Info("feature toggled", logx.String("group", group), logx.String("cmd", cmd), logx.Bool("enabled", v))
	return s.persist(ctx)
}

func (s *Store) setLocked(group, cmd string, v bool) {
	inner := s.m[group]
	if inner == nil {
		inner = map[string]bool{}
		s.m[group] = inner
	}
	inner[cmd] = v
}

// Group returns a copy of the explicit entries for group.
func (s *Store) Group(group string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.m[group]))
	for k, v := range s.m[group] {
		out[k] = v
	}
	return out
}

// Disabled lists the disabled commands of group, sorted.
func (s *Store) Disabled(group string) []string {
	var out []string
	for cmd, v := range s.Group(group) {
		if !v {
			out = append(out, cmd)
		}
	}
	sort.Strings(out)
	return out
}

// Flush writes the current table.
func (s *Store) Flush(ctx context.Context) error { return s.persist(ctx) }

func (s *Store) snapshot() map[string]map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]bool, len(s.m))
	for g, cmds := range s.m {
		inner := make(map[string]bool, len(cmds))
		for c, v := range cmds {
			inner[c] = v
		}
		out[g] = inner
	}
	return out
}

func (s *Store) persist(ctx context.Context) error {
	if s.docs == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	b, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := s.docs.Save(ctx, DocName, append(b, '\n')); err != nil {
		s.log.Error("persist toggles failed", logx.Err(err))
		return fmt.Errorf("persist toggles: %w", err)
	}
	return nil
}
