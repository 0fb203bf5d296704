package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestParseBytes_DefaultsOnEmptyObject(t *testing.T) {
	cfg, err := ParseBytes("c.json", []byte(`{}`), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "10s", cfg.Content.RequestTimeout)
	assert.Equal(t, "20s", cfg.Cooldowns.Default)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, DefaultLocalCategories, cfg.Content.Local.Categories)
	require.Len(t, cfg.Content.Providers["weibo_hot"], 1)
	assert.Equal(t, "ranked", cfg.Content.Providers["weibo_hot"][0].Shape)
	assert.Equal(t, "一言", cfg.Content.Labels["hitokoto"])
	assert.Equal(t, map[string]string{"n1": "A", "n2": "B"}, cfg.Commands.ScheduledParams["cp"])
}

func TestParseBytes_ProviderForms(t *testing.T) {
	raw := `{
	  "content": {
	    "providers": {
	      "a": "https://a.example/x",
	      "b": ["https://b1.example", "https://b2.example"],
	      "c": [{"url": "https://c.example", "shape": "ranked", "params": {"k": "v"}}, "https://c2.example"],
	      "d": {"url": "https://d.example", "shape": "audio_url"}
	    },
	    "labels": {"a": "Alpha"}
	  }
	}`
	cfg, err := ParseBytes("c.json", []byte(raw), noEnv)
	require.NoError(t, err)

	want := map[string]ProviderList{
		"a": {{URL: "https://a.example/x"}},
		"b": {{URL: "https://b1.example"}, {URL: "https://b2.example"}},
		"c": {{URL: "https://c.example", Shape: "ranked", Params: map[string]string{"k": "v"}}, {URL: "https://c2.example"}},
		"d": {{URL: "https://d.example", Shape: "audio_url"}},
	}
	if diff := cmp.Diff(want, cfg.Content.Providers); diff != "" {
		t.Fatalf("providers mismatch (-want +got):\n%s", diff)
	}
	// explicit labels merge over defaults
	assert.Equal(t, "Alpha", cfg.Content.Labels["a"])
	assert.Equal(t, "笑话", cfg.Content.Labels["joke"])
}

func TestParseBytes_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown top-level", `{"nope": 1}`},
		{"unknown provider key", `{"content":{"providers":{"a":[{"url":"https://a","weight":2}]}}}`},
		{"bad provider type", `{"content":{"providers":{"a":42}}}`},
		{"relative url", `{"content":{"providers":{"a":"/x"}}}`},
		{"bad shape", `{"content":{"providers":{"a":{"url":"https://a","shape":"video"}}}}`},
		{"bad duration", `{"cooldowns":{"default":"soon"}}`},
		{"negative duration", `{"cooldowns":{"commands":{"dog":"-1s"}}}`},
		{"bad timezone", `{"scheduler":{"timezone":"Mars/Base"}}`},
		{"sqlite without path", `{"storage":{"driver":"sqlite"}}`},
		{"ranked header without verb", `{"content":{"ranked_header":"Hot:"}}`},
		{"trailing data", `{} {}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBytes("c.json", []byte(tc.raw), noEnv)
			require.Error(t, err)
		})
	}
}

func TestParseBytes_YAMLAndEnv(t *testing.T) {
	raw := `
telegram:
  token: from-file
  owner_user_ids: [1, 2]
content:
  providers:
    dog:
      - https://dog.example/api
cooldowns:
  default: 5s
  commands:
    cp: 1m
`
	env := map[string]string{
		EnvTelegramToken: "from-env",
		EnvContentDBPath: "/srv/fun.db",
		EnvLogLevel:      "debug",
	}
	cfg, err := ParseBytes("c.yaml", []byte(raw), func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, "/srv/fun.db", cfg.Content.Local.DBPath)
	assert.Equal(t, "debug", cfg.Logging.Level)

	def, per, err := cfg.CooldownDurations()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, def)
	assert.Equal(t, map[string]time.Duration{"cp": time.Minute}, per)
}

func TestSummarizeConfigChange(t *testing.T) {
	a, err := ParseBytes("c.json", []byte(`{"telegram":{"token":"x"}}`), noEnv)
	require.NoError(t, err)
	b, err := ParseBytes("c.json", []byte(`{"telegram":{"token":"y"},"cooldowns":{"default":"30s"},"logging":{"level":"debug"}}`), noEnv)
	require.NoError(t, err)

	changed, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"cooldowns", "logging"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Empty(t, RestartRequired(changed))

	c, err := ParseBytes("c.json", []byte(`{"telegram":{"token":"y"},"scheduler":{"timezone":"UTC"}}`), noEnv)
	require.NoError(t, err)
	changed, _ = SummarizeConfigChange(a, c)
	assert.Equal(t, []string{"scheduler"}, RestartRequired(changed))
}

func TestManager_WatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "funbot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cooldowns":{"default":"10s"}}`), 0o600))

	m := NewManager(path)
	m.SetGetenv(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Keep rewriting until the watcher has attached and reports a change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, "45s", cfg.Cooldowns.Default)
			assert.Equal(t, "45s", m.Get().Cooldowns.Default)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(`{"cooldowns":{"default":"45s"}}`), 0o600))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}
