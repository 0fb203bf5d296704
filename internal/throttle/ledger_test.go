package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "funbot/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLedger(cfg Config) (*Ledger, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(cfg, logx.Nop(), WithClock(clk.Now)), clk
}

func TestSetThenExpire(t *testing.T) {
	t.Parallel()
	l, clk := newLedger(Config{})

	assert.False(t, l.IsInCooldown("hitokoto", "u1", "g1"))
	l.Set("hitokoto", "u1", "g1", 20*time.Second)
	assert.True(t, l.IsInCooldown("hitokoto", "u1", "g1"))
	assert.Equal(t, 20, l.RemainingSeconds("hitokoto", "u1", "g1"))

	clk.Advance(19*time.Second + 500*time.Millisecond)
	assert.True(t, l.IsInCooldown("hitokoto", "u1", "g1"))
	assert.Equal(t, 1, l.RemainingSeconds("hitokoto", "u1", "g1"), "rounded up")

	clk.Advance(time.Second)
	assert.False(t, l.IsInCooldown("hitokoto", "u1", "g1"))
	assert.Zero(t, l.Remaining("hitokoto", "u1", "g1"))
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()
	l, _ := newLedger(Config{})
	l.Set("dog", "u1", "g1", time.Minute)

	assert.True(t, l.IsInCooldown("dog", "u1", "g1"))
	assert.False(t, l.IsInCooldown("dog", "u2", "g1"))
	assert.False(t, l.IsInCooldown("dog", "u1", "g2"))
	assert.False(t, l.IsInCooldown("twq", "u1", "g1"))
}

func TestSetOverwrites(t *testing.T) {
	t.Parallel()
	l, _ := newLedger(Config{})
	l.Set("dog", "u", "g", time.Hour)
	l.Set("dog", "u", "g", 5*time.Second)
	assert.Equal(t, 5*time.Second, l.Remaining("dog", "u", "g"))
}

func TestCooldownDurations(t *testing.T) {
	t.Parallel()
	l, _ := newLedger(Config{PerCommand: map[string]time.Duration{"cp": time.Minute, "bad": -1}})
	assert.Equal(t, DefaultCooldown, l.Cooldown("hitokoto"))
	assert.Equal(t, time.Minute, l.Cooldown("cp"))
	assert.Equal(t, DefaultCooldown, l.Cooldown("bad"))

	l.Set("cp", "u", "g", 0)
	assert.Equal(t, time.Minute, l.Remaining("cp", "u", "g"))

	l.SetDurations(30*time.Second, nil)
	assert.Equal(t, 30*time.Second, l.Cooldown("cp"))
	assert.Equal(t, time.Minute, l.Remaining("cp", "u", "g"), "existing entries keep their expiry")
}

func TestResetClearCounts(t *testing.T) {
	t.Parallel()
	l, clk := newLedger(Config{})
	l.Set("a", "u1", "g1", 10*time.Second)
	l.Set("b", "u1", "g1", time.Minute)
	l.Set("a", "u2", "g2", time.Minute)

	require.Equal(t, map[string]int{"g1": 2, "g2": 1}, l.Counts())

	clk.Advance(15 * time.Second)
	assert.Equal(t, map[string]int{"g1": 1, "g2": 1}, l.Counts(), "expired entries are not counted")

	l.Reset("b", "u1", "g1")
	assert.False(t, l.IsInCooldown("b", "u1", "g1"))
	assert.Equal(t, map[string]int{"g2": 1}, l.Counts())

	l.Clear()
	assert.Empty(t, l.Counts())
	assert.False(t, l.IsInCooldown("a", "u2", "g2"))
}
