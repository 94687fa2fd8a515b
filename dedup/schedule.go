package dedup

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleSweep registers a periodic sweep of d on c, running every 10
// seconds (the "@every 10s" cron spec). Correctness of shouldProcess never
// depends on this; the schedule only bounds memory growth between accesses.
func ScheduleSweep(c *cron.Cron, d *Deduplicator) (cron.EntryID, error) {
	id, err := c.AddFunc("@every 10s", func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("dedup sweep panicked", "panic", r)
			}
		}()
		d.Sweep()
	})
	return id, err
}
