package convstate

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ScheduleSweep registers a periodic sweep of s on c, every 10 seconds.
// Correctness never depends on this: LookupReplyBinding/LookupAutoRespond
// already treat an expired entry as absent.
func ScheduleSweep(c *cron.Cron, s *State) (cron.EntryID, error) {
	return c.AddFunc("@every 10s", func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("conversation state sweep panicked", "panic", r)
			}
		}()
		s.Sweep()
	})
}
