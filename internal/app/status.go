package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"funbot/internal/content/localstore"
	"funbot/internal/content/resolver"
	"funbot/internal/task/engine"
	"funbot/internal/task/scheduler"
)

// statusText is the /status report.
func (a *App) statusText() string {
	now := time.Now()
	var b strings.Builder

	b.WriteString("Providers\n")
	writeHealth(&b, a.content.Resolver.Health(), now)

	b.WriteString("\nLocal store\n")
	if a.content.Local == nil {
		b.WriteString("  unavailable\n")
	} else {
		writeLocal(&b, a.content.Local.Stats())
	}

	b.WriteString("\nTask engine\n")
	writeEngine(&b, a.engine.Snapshot())

	b.WriteString("\nScheduler\n")
	if a.sched == nil {
		b.WriteString("  disabled\n")
	} else {
		writeScheduler(&b, a.sched.Snapshot())
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeHealth(b *strings.Builder, hs []resolver.ProviderHealth, now time.Time) {
	if len(hs) == 0 {
		b.WriteString("  all healthy\n")
		return
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].URL < hs[j].URL })
	for _, h := range hs {
		state := "ok"
		if h.OpenUntil.After(now) {
			state = "open " + h.OpenUntil.Sub(now).Round(time.Second).String()
		}
		fmt.Fprintf(b, "  %s fails=%d %s\n", h.URL, h.Failures, state)
	}
}

func writeLocal(b *strings.Builder, st localstore.Stats) {
	fmt.Fprintf(b, "  conns open=%d in_use=%d idle=%d waits=%d\n", st.OpenConnections, st.InUse, st.Idle, st.WaitCount)
	fmt.Fprintf(b, "  queries=%d discarded=%d\n", st.Queries, st.Discarded)
}

func writeEngine(b *strings.Builder, s engine.Snapshot) {
	fmt.Fprintf(b, "  workers=%d queue=%d/%d in_flight=%d dropped=%d\n", s.Workers, s.QueueLen, s.QueueCap, s.InFlight, s.Dropped)
	// last few runs, newest first
	n := 0
	for i := len(s.History) - 1; i >= 0 && n < 5; i-- {
		h := s.History[i]
		res := "ok"
		if h.Error != "" {
			res = h.Error
		}
		fmt.Fprintf(b, "  %s %s %s\n", h.Started.Format("01-02 15:04"), h.Name, res)
		n++
	}
}

func writeScheduler(b *strings.Builder, s scheduler.Snapshot) {
	fmt.Fprintf(b, "  tz=%s running=%t entries=%d missed=%d\n", s.Timezone, s.Running, len(s.Schedules), s.Missed)
	for _, e := range s.Schedules {
		if e.Next.IsZero() {
			continue
		}
		fmt.Fprintf(b, "  %s %s %s next %s", e.Job.Group, e.Job.Time, e.Job.Command, e.Next.Format("01-02 15:04"))
		if e.Missed > 0 {
			fmt.Fprintf(b, " missed %d", e.Missed)
		}
		b.WriteByte('\n')
	}
}
