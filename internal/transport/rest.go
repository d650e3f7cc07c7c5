package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTClient is the provider-side control API: ending a live call from our
// side and originating outbound calls.
type RESTClient interface {
	// HangupCall asks the provider to terminate a live call.
	HangupCall(ctx context.Context, callID string) error
	// CreateCall originates an outbound call that hits answerURL when the
	// callee picks up. Returns the provider call ID.
	CreateCall(ctx context.Context, from, to, answerURL string) (string, error)
}

// TwilioREST drives the Twilio Calls API with account-SID basic auth.
type TwilioREST struct {
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
	logger     *slog.Logger
}

// NewTwilioREST creates a Twilio control API client.
func NewTwilioREST(accountSID, authToken string, logger *slog.Logger) *TwilioREST {
	return &TwilioREST{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.twilio.com",
		accountSID: accountSID,
		authToken:  authToken,
		logger:     logger.With("subsystem", "twilio-rest"),
	}
}

// Configured returns true if credentials are present.
func (c *TwilioREST) Configured() bool {
	return c.accountSID != "" && c.authToken != ""
}

func (c *TwilioREST) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("twilio: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("twilio: %s returned status %d", path, resp.StatusCode)
	}
	return body, nil
}

// HangupCall marks the call completed, which tears it down on Twilio's side.
func (c *TwilioREST) HangupCall(ctx context.Context, callID string) error {
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", c.accountSID, url.PathEscape(callID))
	_, err := c.postForm(ctx, path, url.Values{"Status": {"completed"}})
	return err
}

// CreateCall originates an outbound call.
func (c *TwilioREST) CreateCall(ctx context.Context, from, to, answerURL string) (string, error) {
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", c.accountSID)
	body, err := c.postForm(ctx, path, url.Values{
		"From": {from},
		"To":   {to},
		"Url":  {answerURL},
	})
	if err != nil {
		return "", err
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("twilio: decoding call response: %w", err)
	}
	if result.SID == "" {
		return "", fmt.Errorf("twilio: call response missing sid")
	}
	return result.SID, nil
}

// ExotelREST drives the Exotel Calls API with key/token basic auth.
type ExotelREST struct {
	httpClient *http.Client
	baseURL    string
	sid        string
	apiKey     string
	apiToken   string
	logger     *slog.Logger
}

// NewExotelREST creates an Exotel control API client.
func NewExotelREST(sid, apiKey, apiToken string, logger *slog.Logger) *ExotelREST {
	return &ExotelREST{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.exotel.com",
		sid:        sid,
		apiKey:     apiKey,
		apiToken:   apiToken,
		logger:     logger.With("subsystem", "exotel-rest"),
	}
}

// Configured returns true if credentials are present.
func (c *ExotelREST) Configured() bool {
	return c.sid != "" && c.apiKey != "" && c.apiToken != ""
}

func (c *ExotelREST) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("exotel: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.apiKey, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exotel: sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("exotel: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("exotel: %s returned status %d", path, resp.StatusCode)
	}
	return body, nil
}

// HangupCall marks the call completed on Exotel's side.
func (c *ExotelREST) HangupCall(ctx context.Context, callID string) error {
	path := fmt.Sprintf("/v1/Accounts/%s/Calls/%s.json", c.sid, url.PathEscape(callID))
	_, err := c.postForm(ctx, path, url.Values{"Status": {"completed"}})
	return err
}

// CreateCall originates an outbound call through the connect applet.
func (c *ExotelREST) CreateCall(ctx context.Context, from, to, answerURL string) (string, error) {
	path := fmt.Sprintf("/v1/Accounts/%s/Calls/connect.json", c.sid)
	body, err := c.postForm(ctx, path, url.Values{
		"From": {from},
		"To":   {to},
		"Url":  {answerURL},
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Call struct {
			SID string `json:"Sid"`
		} `json:"Call"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("exotel: decoding call response: %w", err)
	}
	if result.Call.SID == "" {
		return "", fmt.Errorf("exotel: call response missing sid")
	}
	return result.Call.SID, nil
}
