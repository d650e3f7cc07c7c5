package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/voicebridge/voicebridge/internal/call"
	"github.com/voicebridge/voicebridge/internal/database/models"
	"github.com/voicebridge/voicebridge/internal/transport"
)

// maxWebhookBody caps provider webhook bodies. Provider payloads are small
// form posts; anything larger is garbage.
const maxWebhookBody = 64 * 1024

const busyMessage = "All of our agents are busy at the moment. Please try again later."

// handleIncoming answers a provider's incoming-call webhook: admit the call,
// fetch its business context, and reply with instructions that connect the
// provider's media stream back to us.
func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapterFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !adapter.ValidateSignature(r, body) {
		s.logger.Warn("webhook signature rejected", "provider", adapter.Provider(), "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	in, err := adapter.ParseInbound(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	answerCT, answerBody := adapter.AnswerResponse(in.CallID, s.cfg.StreamURL(string(adapter.Provider())))

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BackendTimeout())
	defer cancel()
	cc := s.backend.GetFullContext(ctx, in.Callee)

	sess := call.NewSession(in.CallID, adapter.Provider(), in.Caller, in.Callee, cc,
		s.transcriber, s.synthesizer, s.backend, s.sessionCfg, s.logger)
	sess.OnTerminated = s.finishCall

	if err := s.registry.Admit(sess); err != nil {
		switch {
		case errors.Is(err, call.ErrDuplicateCall):
			// Webhook retry for a call we already admitted; repeat the answer.
			writeProviderResponse(w, answerCT, answerBody)
		case errors.Is(err, call.ErrAtCapacity):
			s.logger.Warn("call rejected at capacity", "call_id", in.CallID, "provider", adapter.Provider())
			ct, rejectBody := adapter.RejectResponse(busyMessage)
			writeProviderResponse(w, ct, rejectBody)
		default:
			writeError(w, http.StatusInternalServerError, "failed to admit call")
		}
		return
	}

	if convID, err := s.backend.CreateConversation(ctx, in.CallID, cc.BusinessID, in.Caller); err == nil {
		sess.ConversationID = convID
	} else {
		s.logger.Warn("failed to create conversation", "call_id", in.CallID, "error", err)
	}

	rec := &models.CallRecord{
		CallID:         in.CallID,
		Provider:       string(adapter.Provider()),
		Direction:      "inbound",
		Caller:         in.Caller,
		Callee:         in.Callee,
		BusinessID:     cc.BusinessID,
		ConversationID: sess.ConversationID,
		StartedAt:      time.Now().UTC(),
	}
	if err := s.callRecords.Create(r.Context(), rec); err != nil {
		s.logger.Error("failed to create call record", "call_id", in.CallID, "error", err)
	}

	s.logger.Info("call admitted",
		"call_id", in.CallID,
		"provider", adapter.Provider(),
		"caller", transport.MaskNumber(in.Caller))
	writeProviderResponse(w, answerCT, answerBody)
}

// handleStatus processes a provider's call-status callback. A terminal
// status ends the matching session; everything else is acknowledged and
// ignored.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapterFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !adapter.ValidateSignature(r, body) {
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	status, err := adapter.ParseStatus(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if status.Terminal() {
		if sess := s.registry.Get(status.CallID); sess != nil {
			s.logger.Info("terminal status received", "call_id", status.CallID, "status", status.Status)
			sess.Hangup(call.HangupCaller)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// handleStream upgrades the provider's media connection and runs the call
// pipeline on it. The call is identified by the call_sid query parameter
// baked into the stream URL when the call was answered.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.adapterFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	callID := r.URL.Query().Get("call_sid")
	if callID == "" {
		writeError(w, http.StatusBadRequest, "missing call_sid")
		return
	}
	sess := s.registry.Get(callID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "no such call")
		return
	}

	stream, err := adapter.OpenStream(w, r)
	if err != nil {
		s.logger.Error("failed to open media stream", "call_id", callID, "error", err)
		return
	}

	if err := sess.Run(r.Context(), stream); err != nil {
		s.logger.Warn("session did not start", "call_id", callID, "error", err)
		stream.Close()
	}
}

// finishCall runs once per session after termination: it frees the registry
// slot and persists the outcome in the background.
func (s *Server) finishCall(sum call.Summary) {
	s.registry.Remove(sum.CallID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		ended := sum.StartedAt.Add(sum.Duration).UTC()
		rec := &models.CallRecord{
			CallID:         sum.CallID,
			ConversationID: sum.ConversationID,
			EndedAt:        &ended,
			Duration:       int(sum.Duration.Seconds()),
			Disposition:    string(sum.Reason),
		}
		if err := s.callRecords.Finish(ctx, rec); err != nil {
			s.logger.Error("failed to finalize call record", "call_id", sum.CallID, "error", err)
		}

		if len(sum.Transcript) > 0 {
			lines := make([]models.TranscriptLine, 0, len(sum.Transcript))
			for _, e := range sum.Transcript {
				lines = append(lines, models.TranscriptLine{
					CallID:   sum.CallID,
					Role:     e.Role,
					Text:     e.Text,
					SpokenAt: time.Unix(e.At, 0).UTC(),
				})
			}
			if err := s.transcripts.Save(ctx, lines); err != nil {
				s.logger.Error("failed to save transcript", "call_id", sum.CallID, "error", err)
			}
			s.backend.SaveTranscript(ctx, sum.ConversationID, sum.Transcript)
		}

		s.backend.ReportCallCost(ctx, sum.CallID, sum.BusinessID, sum.Duration)
		s.backend.LogEvent(ctx, sum.CallID, "call-ended:"+string(sum.Reason))
	}()
}
