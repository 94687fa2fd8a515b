package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomasmach/personabridge/errkind"
	"github.com/tomasmach/personabridge/llmclient"
)

func TestChatSendsBearerTokenAndModel(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Model string `json:"model"`
		}
		_ = jsonDecode(r, &body)
		gotModel = body.Model
		w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "default-model", 5*time.Second)
	content, err := c.Chat(context.Background(), llmclient.Request{
		Token:    "user-token-123",
		Messages: []llmclient.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if content != "hi there" {
		t.Errorf("content = %q, want %q", content, "hi there")
	}
	if gotAuth != "Bearer user-token-123" {
		t.Errorf("Authorization header = %q, want Bearer user-token-123", gotAuth)
	}
	if gotModel != "default-model" {
		t.Errorf("model = %q, want default-model", gotModel)
	}
}

func TestChatPerRequestModelOverridesDefault(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = jsonDecode(r, &body)
		gotModel = body.Model
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "default-model", 5*time.Second)
	_, err := c.Chat(context.Background(), llmclient.Request{
		Token:    "t",
		Model:    "override-model",
		Messages: []llmclient.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if gotModel != "override-model" {
		t.Errorf("model = %q, want override-model", gotModel)
	}
}

func TestChatRetriesOn5xxThenSucceeds(t *testing.T) {
	restore := setRetryDelaysForTest(t, []time.Duration{time.Millisecond, time.Millisecond})
	defer restore()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"recovered"}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "m", 5*time.Second)
	content, err := c.Chat(context.Background(), llmclient.Request{
		Token:    "t",
		Messages: []llmclient.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if content != "recovered" {
		t.Errorf("content = %q, want recovered", content)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestChatTerminalOn4xxDoesNotRetry(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad request`))
	}))
	defer srv.Close()

	c := New(srv.URL, "m", 5*time.Second)
	_, err := c.Chat(context.Background(), llmclient.Request{
		Token:    "t",
		Messages: []llmclient.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("Chat() expected error for 400 response")
	}
	if !errkind.Is(err, errkind.LLMPermanent) {
		t.Errorf("error kind = %v, want LLMPermanent", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on terminal 4xx)", attempts.Load())
	}
}

func TestChatClassifiesRetryAfter429(t *testing.T) {
	restore := setRetryDelaysForTest(t, []time.Duration{time.Millisecond, time.Millisecond})
	defer restore()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "m", 5*time.Second)
	_, err := c.Chat(context.Background(), llmclient.Request{
		Token:    "t",
		Messages: []llmclient.Message{{Role: "user", Content: "hi"}},
	})
	if !errkind.Is(err, errkind.LLMTransient) {
		t.Errorf("error kind = %v, want LLMTransient", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3 (retried until budget exhausted)", attempts.Load())
	}
}
