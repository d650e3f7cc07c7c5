// Package backend is the HTTP client for the conversation service that
// supplies per-call configuration and generates assistant replies.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/voicebridge/voicebridge/internal/call"
)

// Client talks to the conversation backend. Requests that run inside the
// live audio path carry short timeouts; failures on context fetch fall back
// to defaults rather than rejecting the call.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient creates a conversation backend client.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxRetries: maxRetries,
		retryDelay: 500 * time.Millisecond,
		logger:     logger.With("subsystem", "backend"),
	}
}

// Configured returns true if the client has a base URL to talk to.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// doJSON issues a request with the standard headers, retrying on 429 and
// 5xx responses with a linear backoff. The response body is returned for
// 2xx statuses only.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("backend: marshalling request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("backend: creating request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("backend: sending request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("backend: reading response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("backend: %s %s returned status %d", method, path, resp.StatusCode)
			continue
		default:
			return nil, fmt.Errorf("backend: %s %s returned status %d", method, path, resp.StatusCode)
		}
	}
	return nil, lastErr
}

// GetFullContext fetches the call context for a phone number. It never
// fails: on any error the fail-open default context is returned so the
// call can still be answered.
func (c *Client) GetFullContext(ctx context.Context, phoneNumber string) call.CallContext {
	if !c.Configured() {
		return call.DefaultContext()
	}

	body, err := c.doJSON(ctx, http.MethodGet, "/api/v1/context?phone="+url.QueryEscape(phoneNumber), nil)
	if err != nil {
		c.logger.Warn("context fetch failed, using defaults", "error", err)
		return call.DefaultContext()
	}

	var cc call.CallContext
	if err := json.Unmarshal(body, &cc); err != nil {
		c.logger.Warn("context decode failed, using defaults", "error", err)
		return call.DefaultContext()
	}
	return cc.Normalize()
}

// CreateConversation registers a new conversation for a call and returns
// its backend identifier.
func (c *Client) CreateConversation(ctx context.Context, callID, businessID, caller string) (string, error) {
	payload := map[string]string{
		"call_id":     callID,
		"business_id": businessID,
		"caller":      caller,
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/conversations", payload)
	if err != nil {
		return "", err
	}

	var result struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("backend: decoding conversation response: %w", err)
	}
	if result.ConversationID == "" {
		return "", errors.New("backend: empty conversation id")
	}
	return result.ConversationID, nil
}

// Respond sends a user utterance and returns the assistant's reply text.
func (c *Client) Respond(ctx context.Context, conversationID, text string) (string, error) {
	payload := map[string]string{
		"conversation_id": conversationID,
		"text":            text,
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/respond", payload)
	if err != nil {
		return "", err
	}

	var result struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("backend: decoding reply: %w", err)
	}
	return result.Reply, nil
}

// SaveTranscript uploads the full transcript after a call ends. Errors are
// logged, not returned: transcript persistence must never affect teardown.
func (c *Client) SaveTranscript(ctx context.Context, conversationID string, entries []call.TranscriptEntry) {
	if !c.Configured() {
		return
	}
	payload := map[string]any{
		"conversation_id": conversationID,
		"entries":         entries,
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/v1/transcripts", payload); err != nil {
		c.logger.Warn("transcript save failed", "conversation_id", conversationID, "error", err)
	}
}

// ReportCallCost reports the billable duration of a finished call. Like
// SaveTranscript, failures are logged and swallowed.
func (c *Client) ReportCallCost(ctx context.Context, callID, businessID string, duration time.Duration) {
	if !c.Configured() {
		return
	}
	payload := map[string]any{
		"call_id":          callID,
		"business_id":      businessID,
		"duration_seconds": int(duration.Seconds()),
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/v1/call-costs", payload); err != nil {
		c.logger.Warn("call cost report failed", "call_id", callID, "error", err)
	}
}

// LogEvent records a lifecycle event for a call on the backend. Best
// effort only.
func (c *Client) LogEvent(ctx context.Context, callID, event string) {
	if !c.Configured() {
		return
	}
	payload := map[string]string{
		"call_id": callID,
		"event":   event,
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/v1/events", payload); err != nil {
		c.logger.Debug("event log failed", "call_id", callID, "event", event, "error", err)
	}
}

// Health checks backend reachability for the health endpoint.
func (c *Client) Health(ctx context.Context) error {
	if !c.Configured() {
		return errors.New("backend: not configured")
	}
	_, err := c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil)
	return err
}
