// Package scheduler keeps the daily delivery table (group → command → HH:MM)
// and turns each entry into a cron trigger.
//
// The scheduler never runs deliveries itself. Every tick enqueues a task on
// the task engine, so a slow provider cannot hold up the cron goroutine and
// a delivery that is still running when the next tick fires is skipped.
package scheduler
