package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"funbot/internal/task/scheduler"
)

func TestWriteSchedulerShowsMissedTicks(t *testing.T) {
	t.Parallel()
	next := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var b strings.Builder
	writeScheduler(&b, scheduler.Snapshot{
		Timezone: "UTC",
		Running:  true,
		Missed:   3,
		Schedules: []scheduler.ScheduleInfo{
			{Job: scheduler.Job{Group: "-100", Command: "weibo_hot", Time: "09:00"}, Next: next, Missed: 2},
			{Job: scheduler.Job{Group: "-100", Command: "dog", Time: "10:00"}, Next: next.Add(time.Hour)},
		},
	})
	assert.Equal(t, "  tz=UTC running=true entries=2 missed=3\n"+
		"  -100 09:00 weibo_hot next 03-02 09:00 missed 2\n"+
		"  -100 10:00 dog next 03-02 10:00\n", b.String())
}
