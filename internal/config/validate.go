package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

var validShapes = map[string]bool{
	"text": true, "plain": true, "ranked": true,
	"image_url": true, "image_bytes": true, "audio_url": true,
}

var validTableKinds = map[string]bool{"": true, "text": true, "qa": true, "image": true}

// Validate checks everything that can be checked without side effects.
// The telegram token is not required here; commands that talk to Telegram
// check it themselves.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)
	_, err = ParseDurationField("content.request_timeout", c.Content.RequestTimeout)
	add(err)
	_, err = ParseDurationField("content.local.busy_timeout", c.Content.Local.BusyTimeout)
	add(err)
	_, err = ParseDurationField("cooldowns.default", c.Cooldowns.Default)
	add(err)
	_, err = ParseDurationField("scheduler.timeout", c.Scheduler.Timeout)
	add(err)
	_, err = ParseDurationField("commands.timeout", c.Commands.Timeout)
	add(err)
	for _, k := range sortedKeys(c.Cooldowns.Commands) {
		_, err = ParseDurationField("cooldowns.commands."+k, c.Cooldowns.Commands[k])
		add(err)
	}
	for _, f := range []struct{ path, raw string }{
		{"content.health.base_delay", c.Content.Health.BaseDelay},
		{"content.health.max_delay", c.Content.Health.MaxDelay},
		{"content.health.reset_after", c.Content.Health.ResetAfter},
	} {
		_, err = ParseDurationField(f.path, f.raw)
		add(err)
	}
	if te := c.TaskEngine; te != nil {
		_, err = ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
		add(err)
		_, err = ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
		add(err)
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if c.Content.ProviderRatePerSec < 0 {
		add(errors.New("content.provider_rate_per_sec must be >= 0"))
	}
	if c.Content.MaxBodyBytes < 0 {
		add(errors.New("content.max_body_bytes must be >= 0"))
	}
	if h := c.Content.RankedHeader; h != "" && strings.Count(h, "%s") != 1 {
		add(fmt.Errorf("content.ranked_header %q must contain exactly one %%s", h))
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "memory", "mem", "none":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(errors.New("storage.path is required when storage.driver=sqlite"))
			}
			_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
			add(err)
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
	}

	for _, cat := range sortedKeys(c.Content.Providers) {
		for i, e := range c.Content.Providers[cat] {
			path := fmt.Sprintf("content.providers.%s[%d]", cat, i)
			u, err := url.Parse(strings.TrimSpace(e.URL))
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add(fmt.Errorf("%s: url must be absolute http(s), got %q", path, e.URL))
			}
			if !validShapes[e.shape()] {
				add(fmt.Errorf("%s: unknown shape %q", path, e.Shape))
			}
		}
	}
	for _, cat := range sortedKeys(c.Content.Local.Tables) {
		t := c.Content.Local.Tables[cat]
		if strings.TrimSpace(t.Table) == "" {
			add(fmt.Errorf("content.local.tables.%s: table is required", cat))
		}
		if !validTableKinds[strings.ToLower(strings.TrimSpace(t.Kind))] {
			add(fmt.Errorf("content.local.tables.%s: unknown kind %q", cat, t.Kind))
		}
	}
	if len(c.Content.Media.Transcode) > 0 && strings.TrimSpace(c.Content.Media.Transcode[0]) == "" {
		add(errors.New("content.media.transcode: program is empty"))
	}

	p := c.Pprof
	if p.Enabled {
		for _, f := range []struct{ path, raw string }{
			{"pprof.read_timeout", p.ReadTimeout},
			{"pprof.write_timeout", p.WriteTimeout},
			{"pprof.idle_timeout", p.IdleTimeout},
		} {
			_, err = ParseDurationField(f.path, f.raw)
			add(err)
		}
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
