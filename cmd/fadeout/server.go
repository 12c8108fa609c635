package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fadeout/internal/constants"
	"fadeout/internal/errors"
	"fadeout/internal/middleware"
	"fadeout/internal/models"
	"fadeout/internal/privacy"
	"fadeout/internal/realtime"
	"fadeout/internal/service"
	"fadeout/internal/tracing"
	"fadeout/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	sessions *service.SessionManager
	bus      service.EventBus
	server   *http.Server
	limiter  *RateLimiter
	verbose  bool
}

// storeWebhookPayload is sent by the message store whenever a conversation's
// rows change.
type storeWebhookPayload struct {
	ConversationID string `json:"conversation_id"`
}

func NewServer(cfg *models.Config, sessions *service.SessionManager, bus service.EventBus, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		sessions: sessions,
		bus:      bus,
		verbose:  verbose,
		limiter: NewRateLimiter(
			constants.DefaultWebhookRatePerSec,
			constants.DefaultWebhookBurst,
			constants.RateLimiterIdleTTLMin*time.Minute,
			nil,
		),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if s.verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	viewer := s.router.PathPrefix("/v1/conversations/{conversationID}/viewers/{viewerID}").Subrouter()
	viewer.HandleFunc("/session", s.handleOpenSession()).Methods(http.MethodPost)
	viewer.HandleFunc("/session", s.handleGetSession()).Methods(http.MethodGet)
	viewer.HandleFunc("/session", s.handleCloseSession()).Methods(http.MethodDelete)
	viewer.HandleFunc("/played/{messageID}", s.handleAudioPlayed()).Methods(http.MethodPost)
	viewer.HandleFunc("/stream", s.handleStream()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook/store").Subrouter()
	webhook.Use(middleware.WebhookObservabilityMiddleware(s.logger, "store"))
	webhook.Use(s.limiter.Middleware(s.writeError))
	webhook.HandleFunc("", s.handleStoreWebhook()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleOpenSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		session, err := s.sessions.Open(r.Context(), vars["conversationID"], vars["viewerID"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, session.View())
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.lookupSession(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, session.View())
	}
}

func (s *Server) handleCloseSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(constants.DefaultSessionCloseTimeoutSec)*time.Second)
		defer cancel()

		if err := s.sessions.Close(ctx, vars["conversationID"], vars["viewerID"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAudioPlayed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.lookupSession(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		messageID := mux.Vars(r)["messageID"]
		if err := validation.ValidateID("message_id", messageID); err != nil {
			s.writeError(w, r, err)
			return
		}

		if err := session.OnAudioPlayed(r.Context(), messageID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleStream pushes the viewer's tick snapshots and the conversation's
// change notifications over a websocket.
func (s *Server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.lookupSession(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		// Streams outlive the server's write timeout.
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})
		_ = rc.SetReadDeadline(time.Time{})

		sub := s.bus.SubscribeFiltered(session.ConversationID(), realtime.ViewerStream(session.ViewerID()))
		realtime.ServeEvents(w, r, sub, s.logger)
	}
}

func (s *Server) handleStoreWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := validation.ValidateHTTPRequestSize(r, constants.MaxWebhookBodyBytes); err != nil {
			s.writeError(w, r, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxWebhookBodyBytes)

		body, err := verifySignature(r, s.cfg.Server.WebhookSecret, constants.WebhookSignatureHeader)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var payload storeWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, r, errors.NewInvalidInputError("body", "invalid JSON payload"))
			return
		}
		if err := validation.ValidateID("conversation_id", payload.ConversationID); err != nil {
			s.writeError(w, r, err)
			return
		}

		delivered := s.bus.Publish(realtime.Event{
			Type:           realtime.EventMessagesChanged,
			ConversationID: payload.ConversationID,
			At:             time.Now(),
		})

		s.logger.WithFields(logrus.Fields{
			service.LogFieldConversationID: privacy.MaskID(payload.ConversationID),
			service.LogFieldCount:          delivered,
		}).Debug("Store change published")

		s.writeJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
	}
}

func (s *Server) lookupSession(r *http.Request) (*service.Session, error) {
	vars := mux.Vars(r)
	session, ok := s.sessions.Get(vars["conversationID"], vars["viewerID"])
	if !ok {
		return nil, errors.NewNotFoundError("session", vars["conversationID"]+"/"+vars["viewerID"])
	}
	return session, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	requestID := tracing.GetRequestID(r.Context())

	if status >= http.StatusInternalServerError {
		errors.WrapLogger(s.logger).LogError(err, "Request failed", logrus.Fields{service.LogFieldRequestID: requestID})
	}

	s.writeJSON(w, status, errors.ToHTTPResponse(err, requestID))
}
