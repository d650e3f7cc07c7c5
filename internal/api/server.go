// Package api is the HTTP surface: provider webhooks, media-stream
// WebSockets, the operations API, and health/metrics endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicebridge/voicebridge/internal/api/middleware"
	"github.com/voicebridge/voicebridge/internal/backend"
	"github.com/voicebridge/voicebridge/internal/call"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/database"
	"github.com/voicebridge/voicebridge/internal/speech"
	"github.com/voicebridge/voicebridge/internal/transport"
)

// Deps bundles the collaborators the HTTP server drives.
type Deps struct {
	Config      *config.Config
	Registry    *call.Registry
	CallRouter  *call.Router
	Adapters    map[transport.Provider]transport.Adapter
	REST        map[transport.Provider]transport.RESTClient
	Backend     *backend.Client
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	CallRecords database.CallRecordRepository
	Transcripts database.TranscriptRepository
	DB          *database.DB
	Collector   prometheus.Collector
	JWTSecret   []byte
	Logger      *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router         *chi.Mux
	cfg            *config.Config
	registry       *call.Registry
	callRouter     *call.Router
	adapters       map[transport.Provider]transport.Adapter
	rest           map[transport.Provider]transport.RESTClient
	backend        *backend.Client
	transcriber    speech.Transcriber
	synthesizer    speech.Synthesizer
	callRecords    database.CallRecordRepository
	transcripts    database.TranscriptRepository
	db             *database.DB
	webhookLimiter *middleware.IPRateLimiter
	promRegistry   *prometheus.Registry
	jwtSecret      []byte
	logger         *slog.Logger
	sessionCfg     call.Config
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         deps.Config,
		registry:    deps.Registry,
		callRouter:  deps.CallRouter,
		adapters:    deps.Adapters,
		rest:        deps.REST,
		backend:     deps.Backend,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		callRecords: deps.CallRecords,
		transcripts: deps.Transcripts,
		db:          deps.DB,
		jwtSecret:   deps.JWTSecret,
		logger:      deps.Logger.With("subsystem", "api"),
		sessionCfg: call.Config{
			MaxDuration:          deps.Config.MaxCallDuration(),
			InactivityTimeout:    deps.Config.InactivityTimeout(),
			MaxInactivityPrompts: deps.Config.MaxInactivityPrompts,
			PendingTimeout:       deps.Config.PendingTimeout(),
		},
	}
	s.sessionCfg.Turn.MinSpeech = deps.Config.MinSpeech()
	s.sessionCfg.Turn.EndpointSilence = deps.Config.EndpointSilence()
	s.sessionCfg.Turn.EnergyFloor = deps.Config.EnergyFloor

	s.webhookLimiter = middleware.NewIPRateLimiter(
		middleware.WebhookRateLimitConfig(deps.Config.WebhookRatePerSecond, deps.Config.WebhookRateBurst))

	s.promRegistry = prometheus.NewRegistry()
	if deps.Collector != nil {
		s.promRegistry.MustRegister(deps.Collector)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.webhookLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	// Provider webhooks. Signature validation happens in the handlers,
	// after the body is read.
	r.Route("/webhooks/{provider}", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.webhookLimiter))
		r.Post("/incoming", s.handleIncoming)
		r.Get("/incoming", s.handleIncoming)
		r.Post("/status", s.handleStatus)
		r.Get("/stream", s.handleStream)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated operational probes.
		r.Get("/health", s.handleHealth)
		r.Get("/livez", s.handleLive)
		r.Get("/readyz", s.handleReady)

		// Operations API.
		r.Route("/calls", func(r chi.Router) {
			r.Use(middleware.RequireOperatorAuth(s.jwtSecret))
			r.Get("/active", s.handleActiveCalls)
			r.Post("/active/{callID}/hangup", s.handleHangup)
			r.Post("/active/{callID}/say", s.handleSay)
			r.Post("/outbound", s.handleOutbound)
			r.Get("/records", s.handleListRecords)
			r.Get("/records/recent", s.handleRecentRecords)
			r.Get("/records/{callID}", s.handleGetRecord)
			r.Get("/records/{callID}/transcript", s.handleGetTranscript)
			r.Delete("/records/{callID}/transcript", s.handleDeleteTranscript)
		})
	})
}

// adapterFor resolves the adapter for the {provider} URL parameter.
func (s *Server) adapterFor(r *http.Request) (transport.Adapter, bool) {
	a, ok := s.adapters[transport.Provider(chi.URLParam(r, "provider"))]
	return a, ok
}

// healthStatus summarizes readiness for the health endpoint.
type healthStatus struct {
	Status      string `json:"status"`
	ActiveCalls int    `json:"active_calls"`
	Capacity    int    `json:"capacity"`
	Backend     string `json:"backend"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	st := healthStatus{
		Status:      "ok",
		ActiveCalls: s.registry.Count(),
		Capacity:    s.registry.Limit(),
		Backend:     "ok",
	}
	if err := s.backend.Health(ctx); err != nil {
		st.Backend = "unreachable"
		st.Status = "degraded"
	}
	if s.registry.AtCapacity() {
		st.Status = "at_capacity"
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
