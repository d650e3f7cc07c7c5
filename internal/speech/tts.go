package speech

import (
	"context"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voicebridge/voicebridge/internal/audio"
)

// TTSClient posts SSML to an HTTP text-to-speech service and returns the
// synthesized audio as linear PCM.
type TTSClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewTTSClient creates a text-to-speech client for the given service URL.
func NewTTSClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *TTSClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TTSClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger.With("subsystem", "tts"),
	}
}

// buildSSML wraps text in a minimal SSML document selecting the voice. The
// text is XML-escaped so caller-provided content cannot break the markup.
func buildSSML(text, voice string) string {
	var escaped strings.Builder
	xml.EscapeText(&escaped, []byte(text))
	return fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US"><voice name="%s">%s</voice></speak>`,
		voice, escaped.String())
}

// Synthesize renders text with the named voice and returns 16 kHz mono
// samples ready for the outbound audio path.
func (c *TTSClient) Synthesize(ctx context.Context, text, voice string) ([]int16, error) {
	ssml := buildSSML(text, voice)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("Accept", "audio/l16")
	req.Header.Set("X-Sample-Rate", fmt.Sprintf("%d", audio.WideRate))
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("tts: reading response: %w", err)
	}
	if len(raw)%2 != 0 {
		// Trailing odd byte means a truncated sample.
		raw = raw[:len(raw)-1]
	}

	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return pcm, nil
}
