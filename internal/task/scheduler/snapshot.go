package scheduler

import (
	"sort"
	"time"
)

// Snapshot lists every live entry with its next trigger time, ordered by
// group, command and time.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enqMu.Lock()
	missed := make(map[Job]int, len(s.missed))
	total := 0
	for j, n := range s.missed {
		missed[j] = n
		total += n
	}
	s.enqMu.Unlock()

	now := time.Now().In(s.loc)
	items := make([]ScheduleInfo, 0, len(s.entries))
	for j, id := range s.entries {
		e := s.c.Entry(id)
		it := ScheduleInfo{Job: j, Prev: e.Prev, Next: e.Next, Missed: missed[j]}
		if it.Next.IsZero() && e.Schedule != nil {
			it.Next = e.Schedule.Next(now)
		}
		items = append(items, it)
	}
	sort.Slice(items, func(a, b int) bool {
		x, y := items[a].Job, items[b].Job
		if x.Group != y.Group {
			return x.Group < y.Group
		}
		if x.Command != y.Command {
			return x.Command < y.Command
		}
		return x.Time < y.Time
	})
	return Snapshot{Timezone: s.loc.String(), Running: s.started, Schedules: items, Missed: total}
}
