package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// ExotelAdapter implements the Adapter boundary for Exotel: form-encoded
// webhooks answered with a plaintext stream directive, and a WebSocket
// stream carrying raw binary µ-law frames.
type ExotelAdapter struct {
	apiToken string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewExotelAdapter creates an Exotel adapter. An empty apiToken disables
// signature validation (development mode).
func NewExotelAdapter(apiToken string, logger *slog.Logger) *ExotelAdapter {
	return &ExotelAdapter{
		apiToken: apiToken,
		logger:   logger.With("subsystem", "exotel-transport"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (a *ExotelAdapter) Provider() Provider { return ProviderExotel }

// ValidateSignature checks X-Exotel-Signature: hex(HMAC-SHA256(body)) keyed
// with the API token.
func (a *ExotelAdapter) ValidateSignature(r *http.Request, body []byte) bool {
	if a.apiToken == "" {
		return true
	}
	sig := r.Header.Get("X-Exotel-Signature")
	if sig == "" {
		return false
	}
	return ValidExotelSignature(a.apiToken, body, sig)
}

func (a *ExotelAdapter) ParseInbound(r *http.Request, body []byte) (InboundCall, error) {
	params, err := webhookParams(r, body)
	if err != nil {
		return InboundCall{}, fmt.Errorf("exotel inbound webhook: %w", err)
	}

	callee := params.Get("To")
	if callee == "" {
		callee = params.Get("CallTo")
	}
	call := InboundCall{
		CallID: params.Get("CallSid"),
		Caller: params.Get("From"),
		Callee: callee,
	}
	if call.CallID == "" {
		return InboundCall{}, errors.New("exotel inbound webhook: missing CallSid")
	}
	return call, nil
}

func (a *ExotelAdapter) ParseStatus(r *http.Request, body []byte) (CallStatus, error) {
	params, err := webhookParams(r, body)
	if err != nil {
		return CallStatus{}, fmt.Errorf("exotel status webhook: %w", err)
	}

	st := CallStatus{
		CallID: params.Get("CallSid"),
		Status: params.Get("Status"),
	}
	if st.CallID == "" {
		return CallStatus{}, errors.New("exotel status webhook: missing CallSid")
	}
	d := params.Get("Duration")
	if d == "" {
		d = params.Get("CallDuration")
	}
	if d != "" {
		st.Duration, _ = strconv.Atoi(d)
	}
	return st, nil
}

// AnswerResponse returns the plaintext directive that connects the call to
// the media-stream WebSocket.
func (a *ExotelAdapter) AnswerResponse(callID, streamURL string) (string, string) {
	return "text/plain", "stream:" + streamURL + "?call_sid=" + url.QueryEscape(callID)
}

// RejectResponse returns an applet response that plays a message and ends
// the call.
func (a *ExotelAdapter) RejectResponse(message string) (string, string) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Say voice="woman" language="en-US">%s</Say>
    <Hangup/>
</Response>`, message)
	return "text/xml", body
}

// OpenStream upgrades to Exotel's raw binary WebSocket stream.
func (a *ExotelAdapter) OpenStream(w http.ResponseWriter, r *http.Request) (FrameStream, error) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("exotel stream upgrade: %w", err)
	}
	return &exotelStream{conn: conn, logger: a.logger}, nil
}

// exotelStream adapts Exotel's binary WebSocket to a FrameStream.
type exotelStream struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu        sync.Mutex // guards writes
	closeOnce sync.Once
}

func (s *exotelStream) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("media stream read error", "error", err)
			}
			return nil, ErrStreamClosed
		}
		// Exotel sends audio as binary messages; anything else is
		// keepalive noise and is dropped.
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		return data, nil
	}
}

func (s *exotelStream) WriteFrame(ulaw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, ulaw); err != nil {
		return ErrStreamClosed
	}
	return nil
}

func (s *exotelStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
	return nil
}
