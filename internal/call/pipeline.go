package call

import (
	"errors"
	"time"

	"github.com/voicebridge/voicebridge/internal/audio"
	"github.com/voicebridge/voicebridge/internal/transport"
	"github.com/voicebridge/voicebridge/internal/turn"
)

// watchdogInterval is how often duration and inactivity limits are
// re-checked. It also drives endpoint polling for providers that stop
// sending frames during silence.
const watchdogInterval = 100 * time.Millisecond

// runIngest reads transport frames, decodes them to wide-band PCM, and
// feeds the turn detector. A closed stream ends the call; a read error
// ends it as a pipeline failure.
func (s *Session) runIngest() {
	for {
		payload, err := s.stream.ReadFrame()
		if err != nil {
			if errors.Is(err, transport.ErrStreamClosed) || s.ctx.Err() != nil {
				s.transcribeTrailing()
				s.Hangup(HangupCaller)
			} else {
				s.logger.Warn("stream read failed", "error", err)
				s.Hangup(HangupError)
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		pcm := s.codec.Decode(payload)

		s.detMu.Lock()
		ev := s.detector.Feed(pcm, audio.FrameDuration)
		s.detMu.Unlock()

		s.handleTurnEvent(ev)
	}
}

func (s *Session) handleTurnEvent(ev turn.Event) {
	switch ev.Kind {
	case turn.EventSpeechStarted:
		s.noteSpeech()
	case turn.EventUtteranceReady:
		s.noteSpeech()
		s.enqueueUtterance(*ev.Utterance)
	}
}

// noteSpeech resets the inactivity tracking on caller speech.
func (s *Session) noteSpeech() {
	s.lastSpeech.Store(time.Now().UnixNano())
	s.promptsSent.Store(0)
}

// enqueueUtterance hands an utterance to transcription without ever
// blocking the ingest loop. If transcription has stalled, the oldest
// queued utterance is dropped to make room.
func (s *Session) enqueueUtterance(u turn.Utterance) {
	select {
	case s.utterances <- u:
		return
	default:
	}
	select {
	case old := <-s.utterances:
		s.logger.Warn("transcription backlog full, dropping oldest utterance",
			"dropped_duration", old.Duration)
	default:
	}
	select {
	case s.utterances <- u:
	default:
	}
}

// runTranscribe converts finalized utterances to text in arrival order.
// Failures are logged and the turn is skipped; the call continues.
func (s *Session) runTranscribe() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case u := <-s.utterances:
			text, err := s.transcriber.Transcribe(s.ctx, u.Samples)
			if err != nil {
				s.logger.Warn("transcription failed", "error", err, "utterance_duration", u.Duration)
				continue
			}
			if text == "" {
				continue
			}
			s.appendTranscript("user", text)
			select {
			case s.texts <- text:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// runRespond asks the backend for a reply to each transcribed turn. On
// failure the caller hears a generic apology instead of silence.
func (s *Session) runRespond() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.texts:
			answer, err := s.responder.Respond(s.ctx, s.ConversationID, text)
			if err != nil || answer == "" {
				if err != nil {
					s.logger.Warn("backend respond failed", "error", err)
				}
				answer = DefaultApologyMessage
			}
			s.appendTranscript("assistant", answer)
			s.enqueueReply(reply{text: answer})
		}
	}
}

// transcribeTrailing flushes speech still buffered in the detector when the
// caller hangs up mid-utterance, so the last words reach the transcript.
func (s *Session) transcribeTrailing() {
	s.detMu.Lock()
	u := s.detector.Flush()
	s.detMu.Unlock()
	if u == nil || s.ctx.Err() != nil {
		return
	}
	text, err := s.transcriber.Transcribe(s.ctx, u.Samples)
	if err != nil || text == "" {
		return
	}
	s.appendTranscript("user", text)
}

// enqueueReply queues text for synthesis. A final reply must reach the speak
// stage, so it waits for room; anything else is dropped when the synthesis
// queue is full so the callers (watchdog included) never stall on egress.
func (s *Session) enqueueReply(r reply) {
	if r.final {
		select {
		case s.replies <- r:
		case <-s.ctx.Done():
		}
		return
	}
	select {
	case s.replies <- r:
	default:
		s.logger.Warn("synthesis queue full, dropping reply")
	}
}

// runSpeak synthesizes queued replies and paces the frames out to the
// transport. The welcome message is spoken first.
func (s *Session) runSpeak() {
	s.speak(s.Context.WelcomeMessage)

	for {
		select {
		case <-s.ctx.Done():
			return
		case r := <-s.replies:
			s.speak(r.text)
			if r.final {
				s.Hangup(r.reason)
				return
			}
		}
	}
}

// speak renders text with the session voice and writes it to the stream
// at playback rate. Synthesis failures are logged and skipped.
func (s *Session) speak(text string) {
	if text == "" {
		return
	}
	pcm, err := s.synthesizer.Synthesize(s.ctx, text, s.Context.VoiceID)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("synthesis failed", "error", err)
		}
		return
	}
	s.playPCM(pcm)
}

// playPCM encodes wide-band PCM to µ-law frames and writes them with
// wall-clock pacing so the transport never receives audio faster than it
// plays. Frame N is due at start + N*20ms; the loop sleeps off any lead.
func (s *Session) playPCM(pcm []int16) {
	ulaw := s.codec.Encode(pcm)

	frameBytes := audio.SamplesPerFrame
	start := time.Now()
	sent := 0
	for off := 0; off < len(ulaw); off += frameBytes {
		if s.ctx.Err() != nil {
			return
		}

		end := off + frameBytes
		frame := make([]byte, frameBytes)
		if end > len(ulaw) {
			// Pad the tail frame with µ-law silence.
			copy(frame, ulaw[off:])
			for i := len(ulaw) - off; i < frameBytes; i++ {
				frame[i] = audio.ULawSilence
			}
		} else {
			copy(frame, ulaw[off:end])
		}

		if err := s.stream.WriteFrame(frame); err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, transport.ErrStreamClosed) {
				s.logger.Warn("stream write failed", "error", err)
			}
			return
		}
		sent++

		expected := time.Duration(sent) * audio.FrameDuration
		elapsed := time.Since(start)
		if expected > elapsed {
			select {
			case <-time.After(expected - elapsed):
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// runWatchdog enforces the duration cap and inactivity policy and polls
// the detector so endpoints fire even when the provider stops sending
// frames during silence.
func (s *Session) runWatchdog() {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		s.detMu.Lock()
		ev := s.detector.Poll()
		s.detMu.Unlock()
		s.handleTurnEvent(ev)

		if time.Since(s.StartedAt) >= s.cfg.MaxDuration {
			s.logger.Info("duration cap reached")
			s.enqueueReply(reply{text: s.Context.ClosingMessage, final: true, reason: HangupDurationCap})
			return
		}

		idle := time.Since(time.Unix(0, s.lastSpeech.Load()))
		if idle >= s.cfg.InactivityTimeout {
			sent := s.promptsSent.Load()
			if int(sent) >= s.cfg.MaxInactivityPrompts {
				s.logger.Info("inactivity limit reached", "prompts", sent)
				s.enqueueReply(reply{text: s.Context.ClosingMessage, final: true, reason: HangupInactivity})
				return
			}
			s.promptsSent.Store(sent + 1)
			s.lastSpeech.Store(time.Now().UnixNano())
			s.logger.Info("inactivity prompt", "attempt", sent+1)
			s.enqueueReply(reply{text: DefaultInactivityPrompt})
		}
	}
}

// SpeakOperatorMessage queues text to be spoken on a live call, for
// operator-initiated announcements. Returns ErrBadState unless Active.
func (s *Session) SpeakOperatorMessage(text string) error {
	if s.State() != StateActive {
		return ErrBadState
	}
	s.enqueueReply(reply{text: text})
	return nil
}
