package scheduler

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"funbot/internal/eventbus"
	"funbot/internal/storage"
	"funbot/internal/task/engine"
	logx "funbot/pkg/logx"
)

// DocName is the storage document holding the schedule table.
const DocName = "schedules"

// Config controls the scheduler (trigger) service.
type Config struct {
	Timezone string        // IANA TZ, e.g. "Asia/Shanghai"; empty means Local
	Timeout  time.Duration // per delivery, default 2m
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Job identifies one daily delivery.
type Job struct {
	Group   string `json:"group"`
	Command string `json:"command"`
	Time    string `json:"time"`
}

// idSep joins the ID parts. Add rejects groups and commands containing it.
const idSep = "|"

// ID is the stable task name of the job.
func (j Job) ID() string { return j.Group + idSep + j.Command + idSep + j.Time }

// FireFunc performs one scheduled delivery. Its error is recorded in the task
// engine history; it never cancels future ticks.
type FireFunc func(ctx context.Context, j Job) error

// Enqueuer is the task engine as seen by the scheduler.
type Enqueuer interface {
	Enqueue(t engine.Task) (string, error)
}

// FiredEvent is published on schedule.fired.
type FiredEvent struct {
	Job    Job    `json:"job"`
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

var reHHMM = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// IsValidTime reports whether s is a 24h "HH:MM" time.
func IsValidTime(s string) bool { return reHHMM.MatchString(s) }

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	docs   storage.DocStore
	engine Enqueuer
	fire   FireFunc

	parser  cron.Parser
	c       *cron.Cron
	started bool

	// table and entries always hold the same jobs.
	table   map[string]map[string][]string
	entries map[Job]cron.EntryID

	persistMu sync.Mutex

	// Enqueue error throttling is keyed by job ID. missed counts ticks
	// that never reached the engine.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
	missed      map[Job]int
}

type ScheduleInfo struct {
	Job    Job
	Next   time.Time
	Prev   time.Time
	Missed int
}

type Snapshot struct {
	Timezone  string
	Running   bool
	Schedules []ScheduleInfo
	// Missed totals skipped ticks, including entries removed since.
	Missed int
}
