package webhook

import "time"

// setRetryDelaysForTest overrides the package-level retry backoff for the
// duration of a test, restoring it afterward (mirrors llm package's
// setRetryDelaysForTest).
func setRetryDelaysForTest(t interface{ Cleanup(func()) }, d []time.Duration) {
	original := retryDelays
	retryDelays = d
	t.Cleanup(func() { retryDelays = original })
}
