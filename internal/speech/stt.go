package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voicebridge/voicebridge/internal/audio"
)

// STTClient posts raw linear PCM to an HTTP speech-to-text service and
// returns the transcription.
type STTClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewSTTClient creates a speech-to-text client for the given service URL.
func NewSTTClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *STTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &STTClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger.With("subsystem", "stt"),
	}
}

// sttResponse is the service's transcription result.
type sttResponse struct {
	Text string `json:"text"`
}

// Transcribe sends the samples as 16-bit little-endian PCM and returns the
// recognized text. An empty transcription is returned as-is; the caller
// decides whether to skip the turn.
func (c *STTClient) Transcribe(ctx context.Context, pcm []int16) (string, error) {
	body := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(body[i*2:], uint16(s))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("stt: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/l16")
	req.Header.Set("X-Sample-Rate", fmt.Sprintf("%d", audio.WideRate))
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: unexpected status %d", resp.StatusCode)
	}

	var result sttResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("stt: decoding response: %w", err)
	}
	return result.Text, nil
}
