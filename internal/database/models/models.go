package models

import "time"

// CallRecord is the persisted detail record for one call.
type CallRecord struct {
	ID             int64
	CallID         string
	Provider       string
	Direction      string // "inbound" | "outbound"
	Caller         string
	Callee         string
	BusinessID     string
	ConversationID string
	StartedAt      time.Time
	EndedAt        *time.Time
	Duration       int // seconds
	Disposition    string
	CreatedAt      time.Time
}

// TranscriptLine is one stored turn of a call's conversation.
type TranscriptLine struct {
	ID       int64
	CallID   string
	Role     string // "user" | "assistant"
	Text     string
	SpokenAt time.Time
}
