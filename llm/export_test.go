package llm

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// setRetryDelaysForTest overrides retryDelays for the duration of a test.
func setRetryDelaysForTest(t *testing.T, d []time.Duration) func() {
	t.Helper()
	orig := retryDelays
	retryDelays = d
	return func() { retryDelays = orig }
}
