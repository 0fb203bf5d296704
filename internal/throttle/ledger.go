// Package throttle tracks per (command, group, user) cooldowns.
//
// Entries live in an in-memory TTL cache and are lost on restart. An entry is
// kept for its cooldown plus a grace period so the cache janitor prunes
// expired keys; the cooldown decision itself always compares against the
// stored expiry using the ledger's clock.
//
// IsInCooldown followed by Set is not atomic. Two near-simultaneous requests
// for the same key may both pass the check.
package throttle

import (
	"math"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	logx "funbot/pkg/logx"
)

const (
	DefaultCooldown = 20 * time.Second
	defaultGrace    = time.Minute
	defaultSweep    = 5 * time.Minute
	keySep          = "\x1f"
)

type Config struct {
	// Default applies to commands without an entry in PerCommand.
	Default    time.Duration
	PerCommand map[string]time.Duration
	// Grace is added to the cache TTL of every entry.
	Grace time.Duration
	// Sweep is the cache janitor interval.
	Sweep time.Duration
}

func (c Config) withDefaults() Config {
	if c.Default <= 0 {
		c.Default = DefaultCooldown
	}
	if c.Grace <= 0 {
		c.Grace = defaultGrace
	}
	if c.Sweep <= 0 {
		c.Sweep = defaultSweep
	}
	return c
}

type Option func(*Ledger)

// WithClock overrides time.Now (tests drive a simulated clock through it).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

type Ledger struct {
	c   *cache.Cache
	now func() time.Time
	log logx.Logger

	mu     sync.RWMutex
	def    time.Duration
	perCmd map[string]time.Duration
	grace  time.Duration
}

func New(cfg Config, log logx.Logger, opts ...Option) *Ledger {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Ledger{
		c:     cache.New(cache.NoExpiration, cfg.Sweep),
		now:   time.Now,
		log:   log,
		grace: cfg.Grace,
	}
	l.SetDurations(cfg.Default, cfg.PerCommand)
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetDurations replaces the cooldown configuration. Existing entries keep
// the expiry they were set with.
func (l *Ledger) SetDurations(def time.Duration, perCmd map[string]time.Duration) {
	if def <= 0 {
		def = DefaultCooldown
	}
	m := make(map[string]time.Duration, len(perCmd))
	for k, v := range perCmd {
		if v > 0 {
			m[strings.TrimSpace(k)] = v
		}
	}
	l.mu.Lock()
	l.def = def
	l.perCmd = m
	l.mu.Unlock()
}

// Cooldown returns the configured duration for cmd.
func (l *Ledger) Cooldown(cmd string) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if d, ok := l.perCmd[cmd]; ok {
		return d
	}
	return l.def
}

// IsInCooldown is true iff an entry exists for the key and now is before its
// expiry.
func (l *Ledger) IsInCooldown(cmd, user, group string) bool {
	return l.Remaining(cmd, user, group) > 0
}

// Set stores now+d as the expiry for the key, overwriting any prior entry.
// A non-positive d uses Cooldown(cmd).
func (l *Ledger) Set(cmd, user, group string, d time.Duration) {
	if d <= 0 {
		d = l.Cooldown(cmd)
	}
	l.c.Set(key(cmd, group, user), l.now().Add(d), d+l.grace)
}

// Remaining returns max(0, expiry-now).
func (l *Ledger) Remaining(cmd, user, group string) time.Duration {
	v, ok := l.c.Get(key(cmd, group, user))
	if !ok {
		return 0
	}
	exp, ok := v.(time.Time)
	if !ok {
		return 0
	}
	if d := exp.Sub(l.now()); d > 0 {
		return d
	}
	return 0
}

// RemainingSeconds rounds the remaining time up to whole seconds.
func (l *Ledger) RemainingSeconds(cmd, user, group string) int {
	return int(math.Ceil(l.Remaining(cmd, user, group).Seconds()))
}

// Reset drops the entry for one key.
func (l *Ledger) Reset(cmd, user, group string) {
	l.c.Delete(key(cmd, group, user))
}

// Clear drops every entry.
func (l *Ledger) Clear() {
	n := l.c.ItemCount()
	l.c.Flush()
	l.log.Info("cooldowns cleared", logx.Int("entries", n))
}

// Counts returns the number of active cooldowns per group.
func (l *Ledger) Counts() map[string]int {
	now := l.now()
	out := map[string]int{}
	for k, it := range l.c.Items() {
		exp, ok := it.Object.(time.Time)
		if !ok || !now.Before(exp) {
			continue
		}
		parts := strings.SplitN(k, keySep, 3)
		if len(parts) != 3 {
			continue
		}
		out[parts[1]]++
	}
	return out
}

func key(cmd, group, user string) string {
	return cmd + keySep + group + keySep + user
}
