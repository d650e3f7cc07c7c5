// Package call manages call sessions: the per-call streaming pipeline,
// the registry of live calls, lifecycle state, and provider routing.
package call

// CallContext is the per-call configuration fetched from the conversation
// backend before a session starts. Every field has a usable default so a
// call can proceed when the backend is unreachable.
type CallContext struct {
	BusinessID     string `json:"business_id"`
	AssistantID    string `json:"assistant_id"`
	WelcomeMessage string `json:"welcome_message"`
	VoiceID        string `json:"voice_id"`
	Provider       string `json:"provider,omitempty"`
	ClosingMessage string `json:"closing_message,omitempty"`
}

// Default texts used when the backend does not supply a value. Changing
// these changes what callers hear on a backend outage.
const (
	DefaultWelcomeMessage   = "Hello! How can I help you today?"
	DefaultVoiceID          = "en-US-JennyNeural"
	DefaultClosingMessage   = "Thank you for calling. This call will now end. Have a great day!"
	DefaultInactivityPrompt = "Are you still there? I'm here to help if you need anything."
	DefaultApologyMessage   = "I'm having trouble processing your request. Please try again."
)

// DefaultContext returns the fail-open call context used when the backend
// cannot be reached or returns an unusable response.
func DefaultContext() CallContext {
	return CallContext{
		WelcomeMessage: DefaultWelcomeMessage,
		VoiceID:        DefaultVoiceID,
		ClosingMessage: DefaultClosingMessage,
	}
}

// Normalize fills any empty fields with their defaults so downstream code
// never has to re-check for missing values.
func (c CallContext) Normalize() CallContext {
	if c.WelcomeMessage == "" {
		c.WelcomeMessage = DefaultWelcomeMessage
	}
	if c.VoiceID == "" {
		c.VoiceID = DefaultVoiceID
	}
	if c.ClosingMessage == "" {
		c.ClosingMessage = DefaultClosingMessage
	}
	return c
}
