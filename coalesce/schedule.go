package coalesce

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleSweep registers a periodic cache/cooldown sweep of c on cr, every
// 10 seconds.
func ScheduleSweep(cr *cron.Cron, c *Coalescer) (cron.EntryID, error) {
	return cr.AddFunc("@every 10s", func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("coalescer sweep panicked", "panic", r)
			}
		}()
		c.Sweep()
	})
}
