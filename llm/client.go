// Package llm implements llmclient.Client against a single configurable
// HTTP endpoint (LLM_ENDPOINT/LLM_MODEL), the way spec §6 describes the
// external inference service: POST with a bearer token supplied per call
// (the real message author's own token, never a shared service key) and a
// JSON body of {model, messages}.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/tomasmach/personabridge/errkind"
	"github.com/tomasmach/personabridge/llmclient"
)

// Client is the production llmclient.Client implementation.
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// New builds a Client posting to endpoint, defaulting to model when a
// request does not override it.
func New(endpoint, model string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		model:      model,
		httpClient: http.DefaultClient,
		timeout:    timeout,
	}
}

type wireContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL any    `json:"image_url,omitempty"`
	AudioURL any    `json:"audio_url,omitempty"`
	FileURL  any    `json:"file_url,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func toWireMessage(m llmclient.Message) wireMessage {
	if len(m.ContentParts) == 0 {
		return wireMessage{Role: m.Role, Content: m.Content}
	}
	parts := make([]wireContentPart, 0, len(m.ContentParts))
	for _, p := range m.ContentParts {
		wp := wireContentPart{Type: p.Type, Text: p.Text}
		if p.ImageURL != "" {
			wp.ImageURL = map[string]string{"url": p.ImageURL}
		}
		if p.AudioURL != "" {
			wp.AudioURL = map[string]string{"url": p.AudioURL}
		}
		if p.FileURL != "" {
			wp.FileURL = map[string]string{"url": p.FileURL}
		}
		parts = append(parts, wp)
	}
	return wireMessage{Role: m.Role, Content: parts}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var retryDelays = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond}

// Chat implements llmclient.Client.
func (c *Client) Chat(ctx context.Context, req llmclient.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	wireMsgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wireMsgs = append(wireMsgs, toWireMessage(m))
	}
	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": wireMsgs,
	})
	if err != nil {
		return "", errkind.New(errkind.Internal, err, "marshal llm request")
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return "", errkind.New(errkind.LLMTransient, ctx.Err(), "llm call cancelled during backoff")
			}
		}

		content, retriable, err := c.attempt(ctx, req.Token, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retriable {
			return "", err
		}
	}
	return "", lastErr
}

// attempt performs a single HTTP round trip. The bool return reports whether
// a failure is retriable (network error, 5xx, 429); false means the caller
// should stop immediately (terminal 4xx).
func (c *Client) attempt(ctx context.Context, token string, body []byte) (string, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, errkind.New(errkind.Internal, err, "build llm request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", true, errkind.New(errkind.LLMTransient, err, "llm request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", true, errkind.Newf(errkind.LLMTransient, nil, "transient HTTP %d: %s", resp.StatusCode, respBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, errkind.Newf(errkind.LLMPermanent, nil, "HTTP %d: %s", resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, errkind.New(errkind.LLMPermanent, err, "decode llm response")
	}
	if len(parsed.Choices) == 0 {
		return "", false, errkind.New(errkind.LLMPermanent, errors.New("no choices in response"), "")
	}
	return parsed.Choices[0].Message.Content, false, nil
}

var _ llmclient.Client = (*Client)(nil)
