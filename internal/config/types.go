package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  *StorageConfig `json:"storage,omitempty"`

	Content   ContentConfig   `json:"content"`
	Cooldowns CooldownConfig  `json:"cooldowns"`
	Commands  CommandsConfig  `json:"commands"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of scheduled deliveries.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Metrics MetricsConfig `json:"metrics,omitempty"`
	Pprof   PprofConfig   `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls where the toggle and schedule documents live.
//
// Example:
//
//	"storage": { "driver": "file", "dir": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Dir         string `json:"dir,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ContentConfig describes every content source.
//
// Durations are Go duration strings. Providers map a category to a single URL,
// a list of URLs, or a list of {url, shape, params} objects.
type ContentConfig struct {
	RequestTimeout     string  `json:"request_timeout,omitempty"`
	MaxBodyBytes       int64   `json:"max_body_bytes,omitempty"`
	ProviderRatePerSec float64 `json:"provider_rate_per_sec,omitempty"`
	ProviderBurst      int     `json:"provider_burst,omitempty"`
	UserAgent          string  `json:"user_agent,omitempty"`

	Providers map[string]ProviderList `json:"providers,omitempty"`
	Labels    map[string]string       `json:"labels,omitempty"`

	// RankedHeader formats ranked list headers, e.g. "当前%s：".
	RankedHeader string `json:"ranked_header,omitempty"`

	Local  LocalStoreConfig `json:"local"`
	Media  MediaConfig      `json:"media"`
	Health HealthConfig     `json:"health"`
}

type LocalStoreConfig struct {
	// DBPath is the sqlite content database. A missing file disables the
	// local store; remote providers keep working.
	DBPath      string `json:"db_path,omitempty"`
	PoolSize    int    `json:"pool_size,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Categories are served from the local store first.
	Categories []string               `json:"categories,omitempty"`
	Tables     map[string]TableConfig `json:"tables,omitempty"`
}

type TableConfig struct {
	Table          string `json:"table"`
	Column         string `json:"column,omitempty"`
	Kind           string `json:"kind,omitempty"`
	QuestionColumn string `json:"question_column,omitempty"`
	AnswerColumn   string `json:"answer_column,omitempty"`
	ProcessBR      bool   `json:"process_br,omitempty"`
}

type MediaConfig struct {
	TempDir string `json:"temp_dir,omitempty"`
	// Transcode is an argv with {in} and {out} placeholders, e.g.
	// ["ffmpeg", "-y", "-i", "{in}", "{out}"].
	Transcode []string `json:"transcode,omitempty"`
	OutputExt string   `json:"output_ext,omitempty"`
}

// HealthConfig controls the per-provider failure circuit. trip=0 disables it.
type HealthConfig struct {
	Trip       int    `json:"trip,omitempty"`
	BaseDelay  string `json:"base_delay,omitempty"`
	MaxDelay   string `json:"max_delay,omitempty"`
	ResetAfter string `json:"reset_after,omitempty"`
}

type CooldownConfig struct {
	Default  string            `json:"default,omitempty"`
	Commands map[string]string `json:"commands,omitempty"`
}

type CommandsConfig struct {
	// Aliases replaces the alias list of a command.
	Aliases map[string][]string `json:"aliases,omitempty"`
	// ScheduledParams are sent with scheduled deliveries of a command
	// (cp needs two names even when nobody typed them).
	ScheduledParams map[string]map[string]string `json:"scheduled_params,omitempty"`
	// Timeout bounds one command execution.
	Timeout string `json:"timeout,omitempty"`
	Workers int    `json:"workers,omitempty"`
}

type SchedulerConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
	// Trigger timezone; empty means local time.
	Timezone string `json:"timezone,omitempty"`
	// Timeout bounds one scheduled delivery.
	Timeout string `json:"timeout,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// MetricsConfig exposes prometheus metrics on the pprof listener when
// enabled, or on its own address.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// ProviderEntry is one remote source. Shape defaults to "text".
type ProviderEntry struct {
	URL    string            `json:"url"`
	Shape  string            `json:"shape,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// ProviderList is the fallback set of one category.
type ProviderList []ProviderEntry

// UnmarshalJSON accepts "url", ["url", ...], {"url": ...} or
// [{"url": ...}, ...]. Object entries reject unknown keys.
func (p *ProviderList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = nil
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProviderList{{URL: s}}
		return nil
	case '{':
		e, err := decodeProviderEntry(b)
		if err != nil {
			return err
		}
		*p = ProviderList{e}
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make(ProviderList, 0, len(raw))
		for i, r := range raw {
			r = bytes.TrimSpace(r)
			if len(r) > 0 && r[0] == '"' {
				var s string
				if err := json.Unmarshal(r, &s); err != nil {
					return fmt.Errorf("[%d]: %w", i, err)
				}
				out = append(out, ProviderEntry{URL: s})
				continue
			}
			e, err := decodeProviderEntry(r)
			if err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, e)
		}
		*p = out
		return nil
	}
	return errors.New("provider must be a url, a list of urls or a list of objects")
}

func decodeProviderEntry(b []byte) (ProviderEntry, error) {
	type tmp ProviderEntry
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return ProviderEntry{}, err
	}
	return ProviderEntry(t), nil
}

func (e ProviderEntry) shape() string {
	if s := strings.TrimSpace(e.Shape); s != "" {
		return strings.ToLower(s)
	}
	return "text"
}
