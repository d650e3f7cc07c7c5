package call

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/internal/speech"
	"github.com/voicebridge/voicebridge/internal/transport"
	"github.com/voicebridge/voicebridge/internal/turn"
)

// State is a call session's lifecycle state. Transitions only move
// forward; Terminated is absorbing.
type State int32

const (
	StatePending State = iota
	StateActive
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// HangupReason records why a call ended. It becomes the disposition in
// the call record.
type HangupReason string

const (
	HangupCaller      HangupReason = "caller-hangup"
	HangupDurationCap HangupReason = "duration-cap"
	HangupInactivity  HangupReason = "inactivity"
	HangupError       HangupReason = "pipeline-error"
	HangupShutdown    HangupReason = "shutdown"
	HangupOperator    HangupReason = "operator"
	HangupNoMedia     HangupReason = "no-media"
)

// TranscriptEntry is one turn of the conversation.
type TranscriptEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// Responder generates the assistant's reply to a caller utterance.
type Responder interface {
	Respond(ctx context.Context, conversationID, text string) (string, error)
}

// Summary describes a finished call for persistence and reporting.
type Summary struct {
	CallID         string
	Provider       transport.Provider
	Caller         string
	Callee         string
	BusinessID     string
	ConversationID string
	StartedAt      time.Time
	Duration       time.Duration
	Reason         HangupReason
	Transcript     []TranscriptEntry
}

// Config holds per-session limits and endpointing thresholds.
type Config struct {
	MaxDuration          time.Duration
	InactivityTimeout    time.Duration
	MaxInactivityPrompts int
	// PendingTimeout is how long an admitted session may wait for its
	// media stream. A session still Pending when it expires is abandoned
	// so it does not hold a capacity slot forever.
	PendingTimeout time.Duration
	Turn           turn.Config
}

// withDefaults fills zero values with the production defaults.
func (c Config) withDefaults() Config {
	if c.MaxDuration <= 0 {
		c.MaxDuration = 600 * time.Second
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 60 * time.Second
	}
	if c.MaxInactivityPrompts <= 0 {
		c.MaxInactivityPrompts = 2
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 60 * time.Second
	}
	return c
}

// reply is a unit of speech queued for synthesis. A final reply hangs the
// call up after it has been spoken.
type reply struct {
	text   string
	final  bool
	reason HangupReason
}

// Session owns one call end to end: the duplex audio pipeline, turn
// detection, collaborator calls, watchdog limits, and teardown. Stages
// run as goroutines connected by bounded channels; no stage calls into
// another directly.
type Session struct {
	CallID         string
	Provider       transport.Provider
	Caller         string
	Callee         string
	Context        CallContext
	ConversationID string
	StartedAt      time.Time

	cfg         Config
	codec       *audio.Codec
	detector    *turn.Detector
	detMu       sync.Mutex
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	responder   Responder
	logger      *slog.Logger

	// OnTerminated, if set, is invoked exactly once with the call summary
	// after cleanup completes.
	OnTerminated func(Summary)

	// attachMu guards stream, ctx, and cancel: Run writes them while a
	// pending-state Hangup may be tearing the session down concurrently.
	attachMu sync.Mutex
	stream   transport.FrameStream

	state  atomic.Int32
	reason atomic.Value // HangupReason

	ctx          context.Context
	cancel       context.CancelFunc
	pendingTimer *time.Timer

	utterances chan turn.Utterance
	texts      chan string
	replies    chan reply

	lastSpeech   atomic.Int64 // unix nanos of last caller speech
	promptsSent  atomic.Int32
	finishOnce   sync.Once
	done         chan struct{}
	transcriptMu sync.Mutex
	transcript   []TranscriptEntry
}

// NewSession creates a session in the Pending state. The stream is
// attached later when the provider opens the media connection.
func NewSession(callID string, provider transport.Provider, caller, callee string, cc CallContext,
	transcriber speech.Transcriber, synthesizer speech.Synthesizer, responder Responder,
	cfg Config, logger *slog.Logger) *Session {

	cfg = cfg.withDefaults()
	s := &Session{
		CallID:      callID,
		Provider:    provider,
		Caller:      caller,
		Callee:      callee,
		Context:     cc.Normalize(),
		StartedAt:   time.Now(),
		cfg:         cfg,
		codec:       audio.NewCodec(),
		detector:    turn.NewDetector(cfg.Turn),
		transcriber: transcriber,
		synthesizer: synthesizer,
		responder:   responder,
		logger:      logger.With("subsystem", "session", "call_id", callID, "provider", provider),
		utterances:  make(chan turn.Utterance, 4),
		texts:       make(chan string, 4),
		replies:     make(chan reply, 4),
		done:        make(chan struct{}),
	}
	s.reason.Store(HangupCaller)
	s.lastSpeech.Store(s.StartedAt.UnixNano())
	s.pendingTimer = time.AfterFunc(cfg.PendingTimeout, s.pendingExpired)
	return s
}

// pendingExpired abandons a session whose media stream never arrived.
func (s *Session) pendingExpired() {
	if s.transition(StatePending, StateClosing) {
		s.reason.Store(HangupNoMedia)
		s.logger.Warn("no media stream arrived, abandoning call")
		s.finish()
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Run attaches the media stream, moves the session to Active, and drives
// the pipeline until the call ends. It blocks for the life of the call
// and always leaves the session Terminated.
func (s *Session) Run(parent context.Context, stream transport.FrameStream) error {
	ctx, cancel := context.WithCancel(parent)
	s.attachMu.Lock()
	s.stream = stream
	s.ctx, s.cancel = ctx, cancel
	s.attachMu.Unlock()
	if !s.transition(StatePending, StateActive) {
		cancel()
		return ErrBadState
	}
	s.pendingTimer.Stop()
	s.StartedAt = time.Now()
	s.lastSpeech.Store(s.StartedAt.UnixNano())
	s.logger.Info("call active", "caller", transport.MaskNumber(s.Caller))

	// Unblock the ingest read when the context is cancelled from outside
	// the session, e.g. server shutdown.
	go func() {
		<-s.ctx.Done()
		s.stream.Close()
	}()

	var wg sync.WaitGroup
	stages := []func(){s.runIngest, s.runTranscribe, s.runRespond, s.runSpeak, s.runWatchdog}
	for _, stage := range stages {
		wg.Add(1)
		go func(f func()) {
			defer wg.Done()
			f()
		}(stage)
	}
	wg.Wait()

	s.finish()
	return nil
}

// Hangup requests the call end for the given reason. Safe to call from
// any goroutine and at any state; the first caller wins.
func (s *Session) Hangup(reason HangupReason) {
	switch {
	case s.transition(StateActive, StateClosing):
		s.reason.Store(reason)
		s.cancel()
		s.stream.Close()
		s.logger.Info("call closing", "reason", reason)
	case s.transition(StatePending, StateClosing):
		// No pipeline ever ran; go straight to cleanup.
		s.reason.Store(reason)
		s.finish()
	}
}

// Done is closed once the session reaches Terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Reason returns the recorded hangup reason.
func (s *Session) Reason() HangupReason {
	return s.reason.Load().(HangupReason)
}

// finish releases resources and reports the summary. Idempotent.
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.state.Store(int32(StateTerminated))
		s.pendingTimer.Stop()
		s.attachMu.Lock()
		cancel, stream := s.cancel, s.stream
		s.attachMu.Unlock()
		if cancel != nil {
			cancel()
		}
		if stream != nil {
			stream.Close()
		}
		s.detMu.Lock()
		s.detector.Close()
		s.detMu.Unlock()

		duration := time.Since(s.StartedAt)
		s.logger.Info("call terminated", "reason", s.Reason(), "duration", duration.Round(time.Second))
		close(s.done)

		if s.OnTerminated != nil {
			s.OnTerminated(Summary{
				CallID:         s.CallID,
				Provider:       s.Provider,
				Caller:         s.Caller,
				Callee:         s.Callee,
				BusinessID:     s.Context.BusinessID,
				ConversationID: s.ConversationID,
				StartedAt:      s.StartedAt,
				Duration:       duration,
				Reason:         s.Reason(),
				Transcript:     s.Transcript(),
			})
		}
	})
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []TranscriptEntry {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Session) appendTranscript(role, text string) {
	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, TranscriptEntry{Role: role, Text: text, At: time.Now().Unix()})
	s.transcriptMu.Unlock()
}
