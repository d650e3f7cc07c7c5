// Package transport holds the provider adapter boundary: inbound webhook
// parsing, webhook signature validation, and the bidirectional frame stream
// that carries raw µ-law audio between the provider and a call session.
package transport

import (
	"errors"
	"net/http"
)

// Provider identifies a telephony transport provider.
type Provider string

const (
	ProviderTwilio Provider = "twilio"
	ProviderExotel Provider = "exotel"
)

// Providers lists every supported provider, for metrics labels.
var Providers = []Provider{ProviderTwilio, ProviderExotel}

// InboundCall is the parsed payload of a provider's incoming-call webhook.
type InboundCall struct {
	CallID string
	Caller string
	Callee string
}

// CallStatus is the parsed payload of a provider's call-status webhook.
type CallStatus struct {
	CallID   string
	Status   string
	Duration int // seconds, as reported by the provider
}

// Terminal reports whether the status ends the call.
func (s CallStatus) Terminal() bool {
	switch s.Status {
	case "completed", "no-answer", "busy", "failed", "canceled":
		return true
	}
	return false
}

// ErrStreamClosed is returned by FrameStream methods after the underlying
// connection has gone away.
var ErrStreamClosed = errors.New("transport: stream closed")

// FrameStream is one call's bidirectional audio stream. ReadFrame returns
// raw narrow-band µ-law payloads as the provider delivers them; WriteFrame
// sends one µ-law frame back to the caller. Implementations are safe for
// one concurrent reader and one concurrent writer.
type FrameStream interface {
	// ReadFrame blocks for the next inbound audio payload. It returns
	// ErrStreamClosed once the provider disconnects.
	ReadFrame() ([]byte, error)
	// WriteFrame sends one outbound µ-law frame.
	WriteFrame(ulaw []byte) error
	// Close tears down the stream. Safe to call more than once.
	Close() error
}

// Adapter is the per-provider webhook and streaming boundary. The core only
// calls back into an adapter to answer or reject webhooks, to upgrade the
// media stream, and to validate signatures; everything else is provider
// internals.
type Adapter interface {
	Provider() Provider

	// ValidateSignature checks the webhook's HMAC signature against the
	// raw request body. Requests failing validation must be rejected
	// before any session work begins. An adapter with no secret
	// configured accepts everything (development mode).
	ValidateSignature(r *http.Request, body []byte) bool

	// ParseInbound extracts the inbound-call fields from an incoming-call
	// webhook. body is the raw request body (already read for signature
	// validation).
	ParseInbound(r *http.Request, body []byte) (InboundCall, error)

	// ParseStatus extracts the call-status fields from a status webhook.
	ParseStatus(r *http.Request, body []byte) (CallStatus, error)

	// AnswerResponse returns the content type and body that instruct the
	// provider to connect the call to the given media-stream URL.
	AnswerResponse(callID, streamURL string) (contentType, body string)

	// RejectResponse returns the content type and body that play a short
	// message to the caller and hang up.
	RejectResponse(message string) (contentType, body string)

	// OpenStream upgrades the HTTP request to the provider's media-stream
	// protocol and returns the frame stream for the call.
	OpenStream(w http.ResponseWriter, r *http.Request) (FrameStream, error)
}
