package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// TwilioAdapter implements the Adapter boundary for Twilio Media Streams:
// form-encoded webhooks answered with TwiML, and a WebSocket media stream
// carrying JSON-framed base64 µ-law payloads.
type TwilioAdapter struct {
	authToken string
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewTwilioAdapter creates a Twilio adapter. An empty authToken disables
// signature validation (development mode).
func NewTwilioAdapter(authToken string, logger *slog.Logger) *TwilioAdapter {
	return &TwilioAdapter{
		authToken: authToken,
		logger:    logger.With("subsystem", "twilio-transport"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (a *TwilioAdapter) Provider() Provider { return ProviderTwilio }

// ValidateSignature checks X-Twilio-Signature: Base64(HMAC-SHA1(url +
// sorted form params)) keyed with the account auth token.
func (a *TwilioAdapter) ValidateSignature(r *http.Request, body []byte) bool {
	if a.authToken == "" {
		return true
	}
	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return false
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}

	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") == "" {
		scheme = "http"
	}
	fullURL := scheme + "://" + r.Host + r.URL.RequestURI()
	return ValidTwilioSignature(a.authToken, fullURL, form, sig)
}

func (a *TwilioAdapter) ParseInbound(r *http.Request, body []byte) (InboundCall, error) {
	params, err := webhookParams(r, body)
	if err != nil {
		return InboundCall{}, fmt.Errorf("twilio inbound webhook: %w", err)
	}

	call := InboundCall{
		CallID: params.Get("CallSid"),
		Caller: params.Get("From"),
		Callee: params.Get("To"),
	}
	if call.CallID == "" {
		return InboundCall{}, errors.New("twilio inbound webhook: missing CallSid")
	}
	return call, nil
}

func (a *TwilioAdapter) ParseStatus(r *http.Request, body []byte) (CallStatus, error) {
	params, err := webhookParams(r, body)
	if err != nil {
		return CallStatus{}, fmt.Errorf("twilio status webhook: %w", err)
	}

	st := CallStatus{
		CallID: params.Get("CallSid"),
		Status: params.Get("CallStatus"),
	}
	if st.CallID == "" {
		return CallStatus{}, errors.New("twilio status webhook: missing CallSid")
	}
	if d := params.Get("CallDuration"); d != "" {
		st.Duration, _ = strconv.Atoi(d)
	}
	return st, nil
}

// AnswerResponse returns TwiML connecting the call to the media stream.
// The call ID rides on the stream URL so the stream handler can bind the
// WebSocket to its session before any media arrives.
func (a *TwilioAdapter) AnswerResponse(callID, streamURL string) (string, string) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="%s?call_sid=%s"/>
    </Connect>
</Response>`, streamURL, url.QueryEscape(callID))
	return "text/xml", body
}

// RejectResponse returns TwiML that plays a message and hangs up.
func (a *TwilioAdapter) RejectResponse(message string) (string, string) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Say voice="woman" language="en-US">%s</Say>
    <Hangup/>
</Response>`, message)
	return "text/xml", body
}

// OpenStream upgrades to the Media Streams WebSocket protocol.
func (a *TwilioAdapter) OpenStream(w http.ResponseWriter, r *http.Request) (FrameStream, error) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("twilio stream upgrade: %w", err)
	}
	return &twilioStream{conn: conn, logger: a.logger}, nil
}

// Twilio Media Streams wire messages.
type twilioMessage struct {
	Event     string              `json:"event"`
	StreamSID string              `json:"streamSid,omitempty"`
	Media     *twilioMediaPayload `json:"media,omitempty"`
	Start     *twilioStartPayload `json:"start,omitempty"`
}

type twilioMediaPayload struct {
	Payload string `json:"payload"` // base64 µ-law
}

type twilioStartPayload struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

// twilioStream adapts the Media Streams WebSocket to a FrameStream.
type twilioStream struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu        sync.Mutex // guards writes and streamSID
	streamSID string

	closeOnce sync.Once
}

func (s *twilioStream) ReadFrame() ([]byte, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("media stream read error", "error", err)
			}
			return nil, ErrStreamClosed
		}

		var msg twilioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // malformed frame: drop, never crash
		}

		switch msg.Event {
		case "start":
			if msg.Start != nil {
				s.mu.Lock()
				s.streamSID = msg.Start.StreamSID
				s.mu.Unlock()
			}
		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			return audio, nil
		case "stop":
			return nil, ErrStreamClosed
		}
	}
}

func (s *twilioStream) WriteFrame(ulaw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := twilioMessage{
		Event:     "media",
		StreamSID: s.streamSID,
		Media:     &twilioMediaPayload{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return ErrStreamClosed
	}
	return nil
}

func (s *twilioStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
	return nil
}
