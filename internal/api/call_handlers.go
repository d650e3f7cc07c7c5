package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/call"
	"github.com/voicebridge/voicebridge/internal/database"
	"github.com/voicebridge/voicebridge/internal/database/models"
	"github.com/voicebridge/voicebridge/internal/transport"
)

// activeCall is the wire shape of one live session.
type activeCall struct {
	CallID   string `json:"call_id"`
	Provider string `json:"provider"`
	Caller   string `json:"caller"`
	Callee   string `json:"callee"`
	State    string `json:"state"`
	Started  string `json:"started_at"`
	Duration int    `json:"duration_seconds"`
}

func (s *Server) handleActiveCalls(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.Active()
	out := make([]activeCall, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, activeCall{
			CallID:   sess.CallID,
			Provider: string(sess.Provider),
			Caller:   transport.MaskNumber(sess.Caller),
			Callee:   sess.Callee,
			State:    sess.State().String(),
			Started:  sess.StartedAt.UTC().Format(time.RFC3339),
			Duration: int(time.Since(sess.StartedAt).Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"calls": out,
		"count": len(out),
		"limit": s.registry.Limit(),
	})
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	sess := s.registry.Get(callID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "no active call with that ID")
		return
	}

	sess.Hangup(call.HangupOperator)

	// Tell the provider too, so the leg drops even if the media stream
	// never connected.
	if rest, ok := s.rest[sess.Provider]; ok {
		if err := rest.HangupCall(r.Context(), callID); err != nil {
			s.logger.Warn("provider hangup failed", "call_id", callID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "hangup requested"})
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	sess := s.registry.Get(callID)
	if sess == nil {
		writeError(w, http.StatusNotFound, "no active call with that ID")
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := sess.SpeakOperatorMessage(req.Text); err != nil {
		writeError(w, http.StatusConflict, "call is not active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// handleOutbound originates a call through the provider chosen by the
// routing table for the destination number.
func (s *Server) handleOutbound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From        string `json:"from"`
		To          string `json:"to"`
		CountryCode string `json:"country_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	cc := s.backend.GetFullContext(r.Context(), req.To)
	provider := s.callRouter.Route(req.To, cc)
	rest, ok := s.rest[provider]
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "provider not configured for outbound calls")
		return
	}

	answerURL := s.cfg.PublicURL + "/webhooks/" + string(provider) + "/incoming"
	callID, err := rest.CreateCall(r.Context(), req.From, req.To, answerURL)
	if err != nil {
		s.logger.Error("outbound call failed", "to", transport.MaskNumber(req.To), "provider", provider, "error", err)
		writeError(w, http.StatusBadGateway, "provider rejected the call")
		return
	}
	if callID == "" {
		callID = "OUT-" + uuid.NewString()
	}

	rec := &models.CallRecord{
		CallID:     callID,
		Provider:   string(provider),
		Direction:  "outbound",
		Caller:     req.From,
		Callee:     req.To,
		BusinessID: cc.BusinessID,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.callRecords.Create(r.Context(), rec); err != nil {
		s.logger.Error("failed to create call record", "call_id", callID, "error", err)
	}

	s.logger.Info("outbound call created", "call_id", callID, "provider", provider)
	writeJSON(w, http.StatusCreated, map[string]string{
		"call_id":  callID,
		"provider": string(provider),
	})
}

// callRecordResponse is the wire shape of a stored call record.
type callRecordResponse struct {
	CallID         string `json:"call_id"`
	Provider       string `json:"provider"`
	Direction      string `json:"direction"`
	Caller         string `json:"caller"`
	Callee         string `json:"callee"`
	BusinessID     string `json:"business_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	StartedAt      string `json:"started_at"`
	EndedAt        string `json:"ended_at,omitempty"`
	Duration       int    `json:"duration_seconds"`
	Disposition    string `json:"disposition,omitempty"`
}

func toRecordResponse(rec models.CallRecord) callRecordResponse {
	out := callRecordResponse{
		CallID:         rec.CallID,
		Provider:       rec.Provider,
		Direction:      rec.Direction,
		Caller:         rec.Caller,
		Callee:         rec.Callee,
		BusinessID:     rec.BusinessID,
		ConversationID: rec.ConversationID,
		StartedAt:      rec.StartedAt.UTC().Format(time.RFC3339),
		Duration:       rec.Duration,
		Disposition:    rec.Disposition,
	}
	if rec.EndedAt != nil {
		out.EndedAt = rec.EndedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.CallListFilter{
		Provider:    q.Get("provider"),
		Direction:   q.Get("direction"),
		Disposition: q.Get("disposition"),
		Search:      q.Get("search"),
		StartDate:   q.Get("start_date"),
		EndDate:     q.Get("end_date"),
		Limit:       50,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	records, total, err := s.callRecords.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list call records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list call records")
		return
	}

	out := make([]callRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": out,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// handleRecentRecords returns the newest call records, for dashboards that
// poll without paging.
func (s *Server) handleRecentRecords(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}

	records, err := s.callRecords.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list recent call records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list recent call records")
		return
	}

	out := make([]callRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	rec, err := s.callRecords.GetByCallID(r.Context(), callID)
	if err != nil {
		s.logger.Error("failed to load call record", "call_id", callID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load call record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "call record not found")
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(*rec))
}

type transcriptLineResponse struct {
	Role     string `json:"role"`
	Text     string `json:"text"`
	SpokenAt string `json:"spoken_at"`
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	rec, err := s.callRecords.GetByCallID(r.Context(), callID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load call record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "call record not found")
		return
	}

	lines, err := s.transcripts.GetByCallID(r.Context(), callID)
	if err != nil {
		s.logger.Error("failed to load transcript", "call_id", callID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	out := make([]transcriptLineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, transcriptLineResponse{
			Role:     l.Role,
			Text:     l.Text,
			SpokenAt: l.SpokenAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"call_id": callID,
		"lines":   out,
	})
}

// handleDeleteTranscript erases a stored transcript, e.g. on a data-removal
// request. The call record itself is kept.
func (s *Server) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	rec, err := s.callRecords.GetByCallID(r.Context(), callID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load call record")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "call record not found")
		return
	}

	if err := s.transcripts.DeleteByCallID(r.Context(), callID); err != nil {
		s.logger.Error("failed to delete transcript", "call_id", callID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete transcript")
		return
	}
	s.logger.Info("transcript deleted", "call_id", callID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
